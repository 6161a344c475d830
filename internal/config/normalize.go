package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeArxiv()
	c.normalizeLLM()
	c.normalizeTTS()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.AudioDir, err = expandPath(c.Paths.AudioDir); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ExportPath, err = expandPath(c.Paths.ExportPath); err != nil {
		return fmt.Errorf("paths.export_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeArxiv() {
	c.Arxiv.BaseURL = strings.TrimSpace(c.Arxiv.BaseURL)
	if c.Arxiv.BaseURL == "" {
		c.Arxiv.BaseURL = defaultArxivBaseURL
	}
	topics := make([]string, 0, len(c.Arxiv.Topics))
	seen := make(map[string]struct{}, len(c.Arxiv.Topics))
	for _, topic := range c.Arxiv.Topics {
		trimmed := strings.TrimSpace(topic)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		topics = append(topics, trimmed)
	}
	c.Arxiv.Topics = topics
	if c.Arxiv.MaxPerTopic <= 0 {
		c.Arxiv.MaxPerTopic = defaultArxivMaxPerTopic
	}
	if c.Arxiv.TimeoutSeconds <= 0 {
		c.Arxiv.TimeoutSeconds = defaultArxivTimeout
	}
}

func (c *Config) normalizeLLM() {
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("PAPERCAST_LLM_API_KEY"); ok {
			c.LLM.APIKey = value
		}
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeout
	}
}

func (c *Config) normalizeTTS() {
	if c.TTS.APIKey == "" {
		if value, ok := os.LookupEnv("PAPERCAST_TTS_API_KEY"); ok {
			c.TTS.APIKey = value
		}
	}
	c.TTS.APIKey = strings.TrimSpace(c.TTS.APIKey)
	c.TTS.BaseURL = strings.TrimSpace(c.TTS.BaseURL)
	c.TTS.Language = strings.TrimSpace(c.TTS.Language)
	if c.TTS.Language == "" {
		c.TTS.Language = defaultTTSLanguage
	}
	c.TTS.Voice = strings.TrimSpace(c.TTS.Voice)
	if c.TTS.Voice == "" {
		c.TTS.Voice = defaultTTSVoice
	}
	if c.TTS.SpeakingRate <= 0 {
		c.TTS.SpeakingRate = defaultTTSSpeakingRate
	}
	if c.TTS.TimeoutSeconds <= 0 {
		c.TTS.TimeoutSeconds = defaultTTSTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
