package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"

	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 5
	maxMaxResults     = 10
)

var ErrEmptyQuery = errors.New("tavily: query is empty")

type Config struct {
	APIKey  string        `split_words:"true" required:"true"`
	BaseURL string        `split_words:"true" default:"https://api.tavily.com"`
	Timeout time.Duration `split_words:"true" default:"15s"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("tavily api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func MustNew(cfg Config) *Client {
	c, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

type SearchRequest struct {
	Query      string
	Depth      string
	MaxResults int
	TimeRange  string // day | week | month | year
}

type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type SearchResponse struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

type searchPayload struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
	TimeRange     string `json:"time_range,omitempty"`
}

// NormalizeDepth maps anything but "basic" to "advanced".
func NormalizeDepth(depth string) string {
	if strings.EqualFold(strings.TrimSpace(depth), DepthBasic) {
		return DepthBasic
	}
	return DepthAdvanced
}

// ClampMaxResults keeps n within [1, 10]; zero means the default.
func ClampMaxResults(n int) int {
	switch {
	case n == 0:
		return defaultMaxResults
	case n < 1:
		return 1
	case n > maxMaxResults:
		return maxMaxResults
	default:
		return n
	}
}

func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	body, err := json.Marshal(searchPayload{
		Query:         query,
		SearchDepth:   NormalizeDepth(req.Depth),
		MaxResults:    ClampMaxResults(req.MaxResults),
		IncludeAnswer: true,
		TimeRange:     strings.TrimSpace(req.TimeRange),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tavily search failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out SearchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}
	return &out, nil
}
