package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeyLayout formats the hour portion of an identity key.
const KeyLayout = "20060102_15"

// Request is one unit of work: a reference hour and a lake code.
type Request struct {
	Time time.Time
	Lake string
}

// NewRequest validates and normalizes a request. The timestamp is converted
// to UTC so that keys and source URLs agree on the hour.
func NewRequest(t time.Time, lake string) (Request, error) {
	lake = strings.TrimSpace(lake)
	if t.IsZero() {
		return Request{}, Errorf(KindInvalidRequest, "new request", "timestamp is required")
	}
	if lake == "" {
		return Request{}, Errorf(KindInvalidRequest, "new request", "lake code is required")
	}
	if strings.ContainsAny(lake, `/\. `) {
		return Request{}, Errorf(KindInvalidRequest, "new request", "invalid lake code %q", lake)
	}
	return Request{Time: t.UTC(), Lake: lake}, nil
}

// Key returns the identity key, e.g. "20240110_12m".
func (r Request) Key() string {
	return r.Time.Format(KeyLayout) + r.Lake
}

// Hour is the reference timestamp truncated to the top of its hour.
func (r Request) Hour() time.Time {
	return r.Time.Truncate(time.Hour)
}

// TargetHour is the hour after Hour; the target QPE ends there.
func (r Request) TargetHour() time.Time {
	return r.Hour().Add(time.Hour)
}

// ModelRun is the initialization time of the model run whose one-hour lead
// is valid at Hour.
func (r Request) ModelRun() time.Time {
	return r.Time.Add(-time.Hour).Truncate(time.Hour)
}

// Result describes a completed request.
type Result struct {
	Key      string
	Path     string
	Attempts int
	Duration time.Duration
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15",
}

// ParseTimestamp accepts RFC 3339 and the common ISO 8601 variants without a
// zone. Zone-less values are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
