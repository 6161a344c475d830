package config

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable. Validation failures are
// run-level errors: the pipeline refuses to start on any of them.
func (c *Config) Validate() error {
	if err := c.validateArxiv(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateTTS(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateArxiv() error {
	if len(c.Arxiv.Topics) == 0 {
		return errors.New("arxiv.topics must list at least one search topic")
	}
	if c.Arxiv.MaxPerTopic <= 0 {
		return errors.New("arxiv.max_per_topic must be positive")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/papercast/config.toml"
		}
		return fmt.Errorf("llm.api_key is required. Set PAPERCAST_LLM_API_KEY env var or edit %s (create with 'papercast config init')", defaultPath)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateTTS() error {
	if c.TTS.BaseURL == "" {
		return errors.New("tts.base_url must be set")
	}
	if _, err := language.Parse(c.TTS.Language); err != nil {
		return fmt.Errorf("tts.language %q is not a valid BCP 47 tag: %w", c.TTS.Language, err)
	}
	if c.TTS.SpeakingRate < 0.25 || c.TTS.SpeakingRate > 4 {
		return errors.New("tts.speaking_rate must be between 0.25 and 4")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelayMS < 0 {
		return errors.New("retry.base_delay_ms must not be negative")
	}
	if c.Retry.MaxDelayMS > 0 && c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be at least retry.base_delay_ms")
	}
	if c.Breaker.Threshold <= 0 {
		return errors.New("breaker.threshold must be positive")
	}
	if c.Breaker.CooldownSeconds <= 0 {
		return errors.New("breaker.cooldown_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count <= 0 {
		return errors.New("workers.count must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
