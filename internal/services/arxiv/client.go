package arxiv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"papercast/internal/services"
)

const (
	defaultBaseURL     = "https://export.arxiv.org/api/query"
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxResults  = 5

	// arXiv asks automated clients to stay around one request per second.
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
)

// Config captures the runtime settings required to query the arXiv API.
type Config struct {
	BaseURL        string
	TimeoutSeconds int
}

// Entry is one paper returned by a topic search.
type Entry struct {
	ID          string
	URL         string
	Title       string
	Abstract    string
	Authors     []string
	PublishedAt time.Time
}

// Client queries the arXiv Atom API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	parser     *gofeed.Parser
	limiter    *limiter
	sleep      func(ctx context.Context, d time.Duration) error

	rateLimit  int
	rateWindow time.Duration
	now        func() time.Time
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

// WithRateLimit overrides how many requests may start within a window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *Client) {
		if limit > 0 && window > 0 {
			c.rateLimit = limit
			c.rateWindow = window
		}
	}
}

// WithClock overrides the limiter clock (used in tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper overrides how rate-limit waits are performed (used in tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient constructs an arXiv client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
		sleep:      sleepContext,
		rateLimit:  defaultRateLimit,
		rateWindow: defaultRateWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	client.limiter = newLimiter(client.rateLimit, client.rateWindow, client.now)
	parser := gofeed.NewParser()
	parser.Client = client.httpClient
	client.parser = parser
	return client
}

// Search returns the most recently submitted papers for a topic category.
func (c *Client) Search(ctx context.Context, topic string, maxResults int) ([]Entry, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, services.Wrap(services.ErrConfiguration, "arxiv", "search", "topic required", nil)
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	if wait := c.limiter.reserve(); wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	query := url.Values{}
	query.Set("search_query", "cat:"+topic)
	query.Set("sortBy", "submittedDate")
	query.Set("sortOrder", "descending")
	query.Set("max_results", fmt.Sprintf("%d", maxResults))
	endpoint := c.cfg.BaseURL + "?" + query.Encode()

	feed, err := c.parser.ParseURLWithContext(endpoint, ctx)
	if err != nil {
		marker := services.ErrTransient
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			marker = services.ErrPermanent
		}
		return nil, services.Wrap(marker, "arxiv", "search", fmt.Sprintf("fetch feed for %s", topic), err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry, ok := entryFromItem(item)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func entryFromItem(item *gofeed.Item) (Entry, bool) {
	if item == nil {
		return Entry{}, false
	}
	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = strings.TrimSpace(item.GUID)
	}
	id := ShortID(link)
	if id == "" {
		return Entry{}, false
	}

	entry := Entry{
		ID:       id,
		URL:      link,
		Title:    collapseWhitespace(item.Title),
		Abstract: collapseWhitespace(item.Description),
	}
	for _, author := range item.Authors {
		if author == nil {
			continue
		}
		if name := strings.TrimSpace(author.Name); name != "" {
			entry.Authors = append(entry.Authors, name)
		}
	}
	if item.PublishedParsed != nil {
		entry.PublishedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		entry.PublishedAt = item.UpdatedParsed.UTC()
	}
	return entry, true
}

// ShortID extracts the bare arXiv identifier from an abstract URL, stripping
// any version suffix: https://arxiv.org/abs/2501.00001v2 -> 2501.00001.
func ShortID(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	idx := strings.LastIndex(link, "/")
	id := link
	if idx >= 0 {
		id = link[idx+1:]
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	// Strip a trailing version marker like v1, v12.
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		suffix := id[vIdx+1:]
		if suffix != "" && isDigits(suffix) {
			id = id[:vIdx]
		}
	}
	return id
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// collapseWhitespace flattens the newline-wrapped text arXiv returns into a
// single line.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
