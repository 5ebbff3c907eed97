// Package timestamp normalizes the heterogeneous timestamp encodings found
// in exported DaaS logs (ISO-8601 strings, Unix seconds, Unix milliseconds)
// into UTC instants, and provides drift-audit and window-filter utilities.
package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

// Format hints accepted by Parse and Normalize. An empty hint means the
// value is tried against the known ISO-8601 layouts, then as a bare epoch.
const (
	HintUnixMilli = "unix_ms"
	HintUnixSec   = "unix_s"
)

// Epoch values above this are taken as milliseconds rather than seconds.
const milliThreshold = 1e12

// ParseError reports a single value that could not be interpreted as a
// timestamp under the given or inferred format.
type ParseError struct {
	Value string
	Hint  string
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("failed to parse timestamp %q as %s", e.Value, e.Hint)
	}
	return fmt.Sprintf("failed to parse timestamp %q", e.Value)
}

// Layouts tried for hint-less string values, most specific first.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse converts a raw field value into a UTC instant. Values already in
// canonical form pass through unchanged.
func Parse(value interface{}, hint string) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case float64:
		return fromEpoch(v, hint), nil
	case int:
		return fromEpoch(float64(v), hint), nil
	case int64:
		return fromEpoch(float64(v), hint), nil
	case string:
		return parseString(v, hint)
	case nil:
		return time.Time{}, &ParseError{Value: "<nil>", Hint: hint}
	default:
		return parseString(fmt.Sprintf("%v", v), hint)
	}
}

func parseString(value, hint string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, &ParseError{Value: value, Hint: hint}
	}

	if hint == HintUnixMilli || hint == HintUnixSec {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return time.Time{}, &ParseError{Value: value, Hint: hint}
		}
		return fromEpoch(f, hint), nil
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	// Bare epoch value with no hint; disambiguate by magnitude.
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return fromEpoch(f, ""), nil
	}

	return time.Time{}, &ParseError{Value: value, Hint: hint}
}

func fromEpoch(v float64, hint string) time.Time {
	switch {
	case hint == HintUnixMilli:
		return time.UnixMilli(int64(v)).UTC()
	case hint == HintUnixSec:
		return time.Unix(int64(v), 0).UTC()
	case v > milliThreshold:
		return time.UnixMilli(int64(v)).UTC()
	default:
		return time.Unix(int64(v), 0).UTC()
	}
}

// Normalize replaces every value of the named field with a UTC instant.
// Records are mutated in place; callers normalize before publishing a table.
// The first unparseable value aborts the whole pass.
func Normalize(records []*models.Record, field, hint string) error {
	for i, rec := range records {
		v, ok := rec.Fields[field]
		if !ok {
			return fmt.Errorf("record %d: missing timestamp field %q", i, field)
		}
		t, err := Parse(v, hint)
		if err != nil {
			return fmt.Errorf("record %d, field %q: %w", i, field, err)
		}
		rec.Set(field, t)
	}
	return nil
}

// Inconsistency flags one instant with no counterpart in the other source.
type Inconsistency struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// DetectInconsistencies reports every instant in a that has no instant in b
// within tolerance. Quadratic; intended as an offline audit over batch-sized
// series, not for mapping construction.
func DetectInconsistencies(a, b []time.Time, tolerance time.Duration) []Inconsistency {
	out := make([]Inconsistency, 0)
	for i, ts1 := range a {
		matched := false
		for _, ts2 := range b {
			diff := ts1.Sub(ts2)
			if diff < 0 {
				diff = -diff
			}
			if diff <= tolerance {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, Inconsistency{
				Index:     i,
				Timestamp: ts1,
				Status:    "No matching timestamp found within tolerance",
			})
		}
	}
	return out
}

// FilterByWindow keeps records whose normalized field falls inside the
// inclusive [start, end] window. A zero bound is unbounded on that side.
func FilterByWindow(records []*models.Record, field string, start, end time.Time) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		t, ok := rec.Time(field)
		if !ok {
			continue
		}
		if !start.IsZero() && t.Before(start) {
			continue
		}
		if !end.IsZero() && t.After(end) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
