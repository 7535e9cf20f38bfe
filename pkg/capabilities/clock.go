package capabilities

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/nara/pkg/capability"
)

// Clock reports the current date and time, optionally in a named zone.
type Clock struct {
	now func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "clock",
		Version:     "1.0.0",
		Category:    "information",
		Description: "Current date, time and weekday, optionally in a specific time zone",
		Actions: []capability.ActionSpec{
			{
				Name:        "now",
				Description: "Report the current date and time",
				Parameters: []capability.ParamSpec{
					{Name: "tz", Type: "string", Description: "IANA time zone name, e.g. Asia/Seoul; local time when omitted"},
				},
			},
		},
	}
}

func (c *Clock) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if action != "" && action != "now" {
		return nil, fmt.Errorf("clock does not support action %q", action)
	}

	loc := time.Local
	if tz, ok := stringParam(params, "tz"); ok && tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q", tz)
		}
		loc = l
	}

	now := c.now().In(loc)
	return map[string]any{
		"iso":     now.Format(time.RFC3339),
		"unix":    now.Unix(),
		"date":    now.Format("2006-01-02"),
		"time":    now.Format("15:04:05"),
		"weekday": now.Weekday().String(),
		"zone":    loc.String(),
	}, nil
}
