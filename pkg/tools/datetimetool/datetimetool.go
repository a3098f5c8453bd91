// Package datetimetool implements the "get_date_and_time" tool: the current
// date and time in a requested IANA timezone, optionally shifted by a day or
// hour offset for simple scheduling arithmetic.
package datetimetool

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voxgate/pkg/tool"
)

// Tool reports wall-clock time. now is swappable for tests.
type Tool struct {
	now func() time.Time
}

var _ tool.Tool = (*Tool)(nil)

// Option configures a datetime Tool.
type Option func(*Tool)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tool) { t.now = now }
}

// New creates the date/time tool.
func New(opts ...Option) *Tool {
	t := &Tool{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string { return "get_date_and_time" }

func (t *Tool) Description() string {
	return "Get the current date and time in a given timezone, optionally offset by a number of days or hours (e.g. \"what is the date two days from now in Tokyo\")."
}

func (t *Tool) InputSchema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"timezone": map[string]any{
			"type":        "string",
			"description": "IANA timezone name, e.g. \"Europe/Berlin\". Defaults to UTC.",
		},
		"offsetDays": map[string]any{
			"type":        "integer",
			"description": "Whole days to add (negative for past).",
		},
		"offsetHours": map[string]any{
			"type":        "integer",
			"description": "Whole hours to add (negative for past).",
		},
	})
}

// Execute computes the (possibly shifted) local time. An unknown timezone is
// a business-level error.
func (t *Tool) Execute(_ context.Context, params any, _ tool.Context) (any, error) {
	loc := time.UTC
	if tz := tool.StringParam(params, "timezone"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return tool.ErrorResult(fmt.Sprintf("unknown timezone %q", tz)), nil
		}
		loc = l
	}

	when := t.now().In(loc)
	if d, ok := tool.IntParam(params, "offsetDays"); ok {
		when = when.AddDate(0, 0, d)
	}
	if h, ok := tool.IntParam(params, "offsetHours"); ok {
		when = when.Add(time.Duration(h) * time.Hour)
	}

	return map[string]any{
		"timezone":  loc.String(),
		"iso8601":   when.Format(time.RFC3339),
		"date":      when.Format("2006-01-02"),
		"time":      when.Format("15:04:05"),
		"dayOfWeek": when.Weekday().String(),
	}, nil
}
