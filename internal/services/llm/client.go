package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"papercast/internal/services"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	TimeoutSeconds int
}

// Client wraps an OpenAI-compatible chat completion API.
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

// NewClient constructs an LLM client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			Temperature:    cfg.Temperature,
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Translation captures the structured JSON payload returned by the model for
// one paper.
type Translation struct {
	TitleZH      string   `json:"title_zh"`
	SummaryZH    string   `json:"summary_zh"`
	Applications []string `json:"applications"`
	Pitch        string   `json:"pitch"`
	Raw          string   `json:"-"`
}

// PaperInput is the source material handed to the model.
type PaperInput struct {
	Title    string
	Abstract string
	Authors  []string
}

const translationSystemPrompt = `You are a bilingual science communicator. ` +
	`Given an English research paper title and abstract, respond with JSON only, using exactly these keys: ` +
	`"title_zh" (the title translated into Traditional Chinese), ` +
	`"summary_zh" (a 3-5 sentence plain-language summary in Traditional Chinese), ` +
	`"applications" (an array of exactly 3 short strings in Traditional Chinese describing practical applications), ` +
	`"pitch" (one enthusiastic sentence in Traditional Chinese selling the paper to a general audience). ` +
	`Do not include any text outside the JSON object.`

// Translate produces the Traditional Chinese translation bundle for a paper.
// A single request is issued; retry policy belongs to the caller.
func (c *Client) Translate(ctx context.Context, input PaperInput) (Translation, error) {
	var empty Translation
	title := strings.TrimSpace(input.Title)
	abstract := strings.TrimSpace(input.Abstract)
	if title == "" || abstract == "" {
		return empty, services.Wrap(services.ErrPermanent, "llm", "translate", "title and abstract required", nil)
	}
	if c.cfg.APIKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, "llm", "translate", "api key required", nil)
	}

	var prompt strings.Builder
	prompt.WriteString("Title: ")
	prompt.WriteString(title)
	prompt.WriteString("\n\nAbstract: ")
	prompt.WriteString(abstract)
	if len(input.Authors) > 0 {
		prompt.WriteString("\n\nAuthors: ")
		prompt.WriteString(strings.Join(input.Authors, ", "))
	}

	content, err := c.completeJSON(ctx, translationSystemPrompt, prompt.String(), "translate")
	if err != nil {
		return empty, err
	}

	var parsed Translation
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return empty, services.Wrap(services.ErrTransient, "llm", "translate", "parse payload", err)
	}
	parsed.Raw = content
	parsed.TitleZH = strings.TrimSpace(parsed.TitleZH)
	parsed.SummaryZH = strings.TrimSpace(parsed.SummaryZH)
	parsed.Pitch = strings.TrimSpace(parsed.Pitch)
	trimmed := parsed.Applications[:0]
	for _, app := range parsed.Applications {
		if app = strings.TrimSpace(app); app != "" {
			trimmed = append(trimmed, app)
		}
	}
	parsed.Applications = trimmed
	if parsed.TitleZH == "" || parsed.SummaryZH == "" {
		return empty, services.Wrap(services.ErrTransient, "llm", "translate", "incomplete translation payload", nil)
	}
	return parsed, nil
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "llm", "health", "api key required", nil)
	}
	content, err := c.completeJSON(ctx,
		"You must respond with JSON only.",
		"Respond with {\"ok\":true}",
		"health")
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return services.Wrap(services.ErrTransient, "llm", "health", "parse payload", err)
	}
	if !parsed.OK {
		return services.Wrap(services.ErrTransient, "llm", "health", "unexpected response", nil)
	}
	return nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// completeJSON issues one JSON-only chat completion request and classifies
// failures for the retry executor.
func (c *Client) completeJSON(ctx context.Context, systemPrompt, userPrompt, op string) (string, error) {
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.cfg.Temperature,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "llm", op, "encode body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "llm", op, "new request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "llm", op, "http error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "llm", op, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", c.classifyStatus(op, resp, body)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(services.ErrTransient, "llm", op, "decode response", err)
	}
	if completion.Error != nil {
		return "", services.Wrap(services.ErrTransient, "llm", op,
			fmt.Sprintf("api error: %s", strings.TrimSpace(completion.Error.Message)), nil)
	}
	if len(completion.Choices) == 0 {
		return "", services.Wrap(services.ErrTransient, "llm", op, "empty choices", nil)
	}
	choice := completion.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		// A refusal is a deliberate answer and will not improve on retry.
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return "", services.Wrap(services.ErrPermanent, "llm", op,
				fmt.Sprintf("model refused: %s", refusal), nil)
		}
		return "", services.Wrap(services.ErrTransient, "llm", op,
			fmt.Sprintf("empty content (finish_reason=%q, response_snippet=%s)",
				choice.FinishReason, summarizePayloadSnippet(string(body))), nil)
	}
	return content, nil
}

func (c *Client) classifyStatus(op string, resp *http.Response, body []byte) error {
	message := fmt.Sprintf("http %d: %s", resp.StatusCode, summarizePayloadSnippet(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		err := services.Wrap(services.ErrTransient, "llm", op, message, nil)
		if delay, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			err = services.WithRetryAfter(err, delay)
		}
		return err
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "llm", op, message, nil)
	default:
		return services.Wrap(services.ErrPermanent, "llm", op, message, nil)
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

// DecodeLLMJSON decodes JSON from an LLM response, handling common formatting quirks.
func DecodeLLMJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	// Try sanitizing (strip code fences, extract JSON object/array)
	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}

	sanitizedErr := json.Unmarshal([]byte(sanitized), target)
	if sanitizedErr == nil {
		return nil
	}
	return fmt.Errorf("%w (sanitized payload snippet: %s)", sanitizedErr, summarizePayloadSnippet(sanitized))
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := replacer.Replace(trimmed)
	clean = strings.Join(strings.Fields(clean), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
