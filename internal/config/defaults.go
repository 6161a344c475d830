package config

const (
	defaultDataDir          = "~/.local/share/papercast"
	defaultAudioDir         = "~/.local/share/papercast/audio"
	defaultLogDir           = "~/.local/share/papercast/logs"
	defaultExportPath       = "~/.local/share/papercast/news.jsonl"
	defaultArxivBaseURL     = "https://export.arxiv.org/api/query"
	defaultArxivMaxPerTopic = 5
	defaultArxivTimeout     = 30
	defaultLLMBaseURL       = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel         = "google/gemini-3-flash-preview"
	defaultLLMTemperature   = 0.2
	defaultLLMTimeout       = 60
	defaultTTSLanguage      = "zh-TW"
	defaultTTSVoice         = "standard"
	defaultTTSSpeakingRate  = 1.0
	defaultTTSTimeout       = 60
	defaultRetryAttempts    = 3
	defaultRetryBaseMS      = 1000
	defaultRetryMaxMS       = 60000
	defaultBreakerTrips     = 5
	defaultBreakerCooldown  = 60
	defaultWorkerCount      = 3
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			AudioDir:   defaultAudioDir,
			LogDir:     defaultLogDir,
			ExportPath: defaultExportPath,
		},
		Arxiv: Arxiv{
			MaxPerTopic:    defaultArxivMaxPerTopic,
			BaseURL:        defaultArxivBaseURL,
			TimeoutSeconds: defaultArxivTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Temperature:    defaultLLMTemperature,
			TimeoutSeconds: defaultLLMTimeout,
		},
		TTS: TTS{
			Language:       defaultTTSLanguage,
			Voice:          defaultTTSVoice,
			SpeakingRate:   defaultTTSSpeakingRate,
			TimeoutSeconds: defaultTTSTimeout,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryAttempts,
			BaseDelayMS: defaultRetryBaseMS,
			MaxDelayMS:  defaultRetryMaxMS,
		},
		Breaker: Breaker{
			Threshold:       defaultBreakerTrips,
			CooldownSeconds: defaultBreakerCooldown,
		},
		Workers: Workers{
			Count: defaultWorkerCount,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
