// Package wiki implements the "wikipedia_summary" tool: fetches the lead
// summary of a Wikipedia article through the REST v1 page summary endpoint.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voxgate/pkg/tool"
)

const defaultBaseURL = "https://en.wikipedia.org/api/rest_v1/page/summary/"

const requestTimeout = 10 * time.Second

// userAgent identifies the gateway to the Wikimedia API per its etiquette
// guidelines.
const userAgent = "voxgate/1.0 (https://github.com/MrWong99/voxgate)"

// Tool fetches article summaries. Construct with [New].
type Tool struct {
	baseURL string
	client  *http.Client
}

var _ tool.Tool = (*Tool)(nil)

// Option configures a wiki Tool.
type Option func(*Tool)

// WithBaseURL overrides the summary endpoint, for tests. Must end in "/".
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates the Wikipedia summary tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string { return "wikipedia_summary" }

func (t *Tool) Description() string {
	return "Look up the lead summary of a Wikipedia article by title. Good for factual questions about people, places, events and concepts."
}

func (t *Tool) InputSchema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"title": map[string]any{
			"type":        "string",
			"description": "Article title, e.g. \"Alan Turing\".",
		},
	}, "title")
}

type summaryResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Execute fetches the article summary. A 404 means no such article and is
// reported as a business-level error.
func (t *Tool) Execute(ctx context.Context, params any, _ tool.Context) (any, error) {
	title, err := tool.RequireString(params, "title")
	if err != nil {
		return tool.ErrorResult("title is required"), nil
	}

	// The summary endpoint takes the title as a path segment with spaces as
	// underscores.
	segment := url.PathEscape(strings.ReplaceAll(strings.TrimSpace(title), " ", "_"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+segment, nil)
	if err != nil {
		return nil, fmt.Errorf("wiki: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.ErrorResult("wikipedia unavailable: " + err.Error()), nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return tool.ErrorResult(fmt.Sprintf("no Wikipedia article found for %q", title)), nil
	default:
		return tool.ErrorResult(fmt.Sprintf("wikipedia returned status %d", resp.StatusCode)), nil
	}

	var body summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("wiki: decode response: %w", err)
	}

	return map[string]any{
		"title":       body.Title,
		"description": body.Description,
		"summary":     body.Extract,
		"url":         body.ContentURLs.Desktop.Page,
	}, nil
}
