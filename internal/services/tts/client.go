package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"papercast/internal/services"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	defaultLanguage    = "zh-TW"
	defaultRate        = 1.0

	// Responses larger than this are rejected before buffering.
	maxAudioBytes = 64 << 20
)

// Config captures the runtime settings required to synthesize speech.
type Config struct {
	APIKey         string
	BaseURL        string
	Language       string
	Voice          string
	SpeakingRate   float64
	TimeoutSeconds int
}

// Client wraps a REST text-to-speech endpoint that returns audio bytes.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a TTS client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Language:       strings.TrimSpace(cfg.Language),
			Voice:          strings.TrimSpace(cfg.Voice),
			SpeakingRate:   cfg.SpeakingRate,
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.Language == "" {
		client.cfg.Language = defaultLanguage
	}
	if client.cfg.SpeakingRate <= 0 {
		client.cfg.SpeakingRate = defaultRate
	}
	return client
}

type synthesizeRequest struct {
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	Voice        string  `json:"voice,omitempty"`
	SpeakingRate float64 `json:"speaking_rate"`
}

// Synthesize renders the script into audio bytes. A single request is issued;
// retry policy belongs to the caller.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrPermanent, "tts", "synthesize", "text required", nil)
	}
	if c.cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "tts", "synthesize", "base url required", nil)
	}

	payload := synthesizeRequest{
		Text:         text,
		Language:     c.cfg.Language,
		Voice:        c.cfg.Voice,
		SpeakingRate: c.cfg.SpeakingRate,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "tts", "synthesize", "encode body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "tts", "synthesize", "new request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "tts", "synthesize", "http error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, c.classifyStatus(resp, body)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "tts", "synthesize", "read audio", err)
	}
	if len(audio) == 0 {
		return nil, services.Wrap(services.ErrTransient, "tts", "synthesize", "empty audio response", nil)
	}
	if len(audio) > maxAudioBytes {
		return nil, services.Wrap(services.ErrPermanent, "tts", "synthesize", "audio response too large", nil)
	}
	return audio, nil
}

// HealthCheck verifies the endpoint is reachable with the configured credentials.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, "tts", "health", "base url required", nil)
	}
	return nil
}

func (c *Client) classifyStatus(resp *http.Response, body []byte) error {
	message := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		err := services.Wrap(services.ErrTransient, "tts", "synthesize", message, nil)
		if delay, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			err = services.WithRetryAfter(err, delay)
		}
		return err
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "tts", "synthesize", message, nil)
	default:
		return services.Wrap(services.ErrPermanent, "tts", "synthesize", message, nil)
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
