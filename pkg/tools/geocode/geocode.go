// Package geocode implements the "geocode_place" tool: resolves a free-form
// place name to coordinates via the Open-Meteo geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/voxgate/pkg/tool"
)

const defaultBaseURL = "https://geocoding-api.open-meteo.com/v1/search"

const requestTimeout = 10 * time.Second

// maxResults caps the number of candidate places returned to the model.
const maxResults = 5

// Tool resolves place names to coordinates. Construct with [New].
type Tool struct {
	baseURL string
	client  *http.Client
}

var _ tool.Tool = (*Tool)(nil)

// Option configures a geocode Tool.
type Option func(*Tool)

// WithBaseURL overrides the geocoding endpoint, for tests.
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates the geocoding tool.
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

func (t *Tool) Name() string { return "geocode_place" }

func (t *Tool) Description() string {
	return "Resolve a place name (city, town, landmark) to latitude/longitude coordinates, country and timezone. Use before get_weather when only a place name is known."
}

func (t *Tool) InputSchema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"name": map[string]any{
			"type":        "string",
			"description": "Place name to look up, e.g. \"Berlin\" or \"Cape Town\".",
		},
	}, "name")
}

type searchResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
		Admin1    string  `json:"admin1"`
		Timezone  string  `json:"timezone"`
		Pop       int64   `json:"population"`
	} `json:"results"`
}

// Execute looks up the place. An empty result set is a business-level error
// so the model can ask the user to rephrase.
func (t *Tool) Execute(ctx context.Context, params any, _ tool.Context) (any, error) {
	name, err := tool.RequireString(params, "name")
	if err != nil {
		return tool.ErrorResult("name is required"), nil
	}

	q := url.Values{}
	q.Set("name", name)
	q.Set("count", strconv.Itoa(maxResults))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.ErrorResult("geocoding service unavailable: " + err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tool.ErrorResult(fmt.Sprintf("geocoding service returned status %d", resp.StatusCode)), nil
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	if len(body.Results) == 0 {
		return tool.ErrorResult(fmt.Sprintf("no places found matching %q", name)), nil
	}

	places := make([]map[string]any, 0, len(body.Results))
	for _, r := range body.Results {
		places = append(places, map[string]any{
			"name":      r.Name,
			"latitude":  r.Latitude,
			"longitude": r.Longitude,
			"country":   r.Country,
			"region":    r.Admin1,
			"timezone":  r.Timezone,
		})
	}
	return map[string]any{"places": places}, nil
}
