// Package weather implements the "get_weather" tool: current conditions for a
// latitude/longitude pair, fetched from the Open-Meteo forecast API. No API
// key is required.
package weather

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

// defaultBaseURL is the Open-Meteo forecast endpoint.
const defaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// requestTimeout bounds a single forecast fetch.
const requestTimeout = 10 * time.Second

// Tool fetches current weather from Open-Meteo. The zero value is not usable;
// construct with [New].
type Tool struct {
	baseURL string
	client  *http.Client
}

var _ tool.Tool = (*Tool)(nil)

// Option configures a weather Tool.
type Option func(*Tool)

// WithBaseURL overrides the Open-Meteo endpoint, for tests.
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates the weather tool.
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

func (t *Tool) Name() string { return "get_weather" }

func (t *Tool) Description() string {
	return "Get current weather conditions (temperature, wind, weather code) for a location given its latitude and longitude."
}

func (t *Tool) InputSchema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"latitude": map[string]any{
			"type":        "number",
			"description": "Latitude of the location in decimal degrees.",
		},
		"longitude": map[string]any{
			"type":        "number",
			"description": "Longitude of the location in decimal degrees.",
		},
	}, "latitude", "longitude")
}

// response mirrors the subset of the Open-Meteo payload the tool reports.
type response struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Timezone       string  `json:"timezone"`
	CurrentWeather struct {
		Temperature   float64 `json:"temperature"`
		WindSpeed     float64 `json:"windspeed"`
		WindDirection float64 `json:"winddirection"`
		WeatherCode   int     `json:"weathercode"`
		IsDay         int     `json:"is_day"`
		Time          string  `json:"time"`
	} `json:"current_weather"`
}

// Execute fetches current conditions. Out-of-range coordinates and upstream
// failures are returned as business-level error results so the model can
// relay them conversationally.
func (t *Tool) Execute(ctx context.Context, params any, _ tool.Context) (any, error) {
	lat, latOK := tool.FloatParam(params, "latitude")
	lon, lonOK := tool.FloatParam(params, "longitude")
	if !latOK || !lonOK {
		return tool.ErrorResult("latitude and longitude are required"), nil
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return tool.ErrorResult(fmt.Sprintf("coordinates out of range: lat=%g lon=%g", lat, lon)), nil
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current_weather", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.ErrorResult("weather service unavailable: " + err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tool.ErrorResult(fmt.Sprintf("weather service returned status %d", resp.StatusCode)), nil
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("weather: decode response: %w", err)
	}

	return map[string]any{
		"latitude":       body.Latitude,
		"longitude":      body.Longitude,
		"timezone":       body.Timezone,
		"temperatureC":   body.CurrentWeather.Temperature,
		"windSpeedKmh":   body.CurrentWeather.WindSpeed,
		"windDirection":  body.CurrentWeather.WindDirection,
		"conditions":     describeWeatherCode(body.CurrentWeather.WeatherCode),
		"isDay":          body.CurrentWeather.IsDay == 1,
		"observationUTC": body.CurrentWeather.Time,
	}, nil
}

// describeWeatherCode maps WMO weather interpretation codes to short phrases.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown conditions (code " + strconv.Itoa(code) + ")"
	}
}
