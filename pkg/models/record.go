package models

import (
	"fmt"
	"time"
)

// FieldUserLabel is the ingestion-time tag naming the user a record belongs to.
const FieldUserLabel = "user_label"

// Record is one flat log row. Loaders assign field values at ingestion and
// normalize exactly one timestamp field to a UTC time.Time; after that the
// record is treated as immutable and the engine only derives new rows.
type Record struct {
	Fields map[string]interface{}
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{Fields: make(map[string]interface{}, 16)}
}

// Has reports whether the field is present.
func (r *Record) Has(name string) bool {
	if r == nil || r.Fields == nil {
		return false
	}
	_, ok := r.Fields[name]
	return ok
}

// Set stores a field value.
func (r *Record) Set(name string, value interface{}) {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{}, 8)
	}
	r.Fields[name] = value
}

// Field returns a field value as a string.
func (r *Record) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%f", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Time returns a field value as a UTC instant. Only fields previously
// normalized (stored as time.Time) report ok.
func (r *Record) Time(name string) (time.Time, bool) {
	if r == nil || r.Fields == nil {
		return time.Time{}, false
	}
	if t, ok := r.Fields[name].(time.Time); ok {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Int64 returns a numeric field value. String and float encodings from CSV
// and JSON exports are accepted.
func (r *Record) Int64(name string) (int64, bool) {
	if r == nil || r.Fields == nil {
		return 0, false
	}
	switch val := r.Fields[name].(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	case string:
		var parsed int64
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// Clone returns a shallow copy with its own field map.
func (r *Record) Clone() *Record {
	out := &Record{Fields: make(map[string]interface{}, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}
