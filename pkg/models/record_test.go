package models

import (
	"testing"
	"time"
)

func TestFieldStringify(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	r := &Record{Fields: map[string]interface{}{
		"str":   "hello",
		"int":   42,
		"int64": int64(7),
		"float": 443.0,
		"frac":  1.5,
		"bool":  true,
		"time":  ts,
		"nil":   nil,
	}}

	cases := map[string]string{
		"str":     "hello",
		"int":     "42",
		"int64":   "7",
		"float":   "443",
		"frac":    "1.500000",
		"bool":    "true",
		"time":    "2024-03-15T10:00:00Z",
		"nil":     "",
		"missing": "",
	}
	for name, want := range cases {
		if got := r.Field(name); got != want {
			t.Fatalf("Field(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestTimeOnlyForNormalizedValues(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	r := &Record{Fields: map[string]interface{}{
		"normalized": ts,
		"raw":        "2024-03-15T10:00:00Z",
	}}

	if got, ok := r.Time("normalized"); !ok || !got.Equal(ts) {
		t.Fatalf("Time(normalized) = %v, %v", got, ok)
	}
	if _, ok := r.Time("raw"); ok {
		t.Fatal("raw string should not report as time")
	}
}

func TestInt64Coercions(t *testing.T) {
	r := &Record{Fields: map[string]interface{}{
		"s": "3389",
		"f": 3389.0,
		"i": 3389,
		"x": "not a number",
	}}

	for _, name := range []string{"s", "f", "i"} {
		if got, ok := r.Int64(name); !ok || got != 3389 {
			t.Fatalf("Int64(%q) = %d, %v", name, got, ok)
		}
	}
	if _, ok := r.Int64("x"); ok {
		t.Fatal("garbage should not coerce")
	}
	if _, ok := r.Int64("missing"); ok {
		t.Fatal("missing field should not coerce")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := &Record{Fields: map[string]interface{}{"a": "1"}}
	c := r.Clone()
	c.Set("a", "2")
	if r.Field("a") != "1" {
		t.Fatalf("clone mutated the original: %q", r.Field("a"))
	}
}

func TestSessionOverlaps(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	a := Session{Start: base, End: base.Add(time.Hour)}

	overlapping := Session{Start: base.Add(30 * time.Minute), End: base.Add(2 * time.Hour)}
	if !a.Overlaps(overlapping) {
		t.Fatal("overlapping windows not detected")
	}

	// Touching endpoints still overlap (inclusive bounds).
	touching := Session{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}
	if !a.Overlaps(touching) {
		t.Fatal("touching windows should overlap")
	}

	disjoint := Session{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)}
	if a.Overlaps(disjoint) {
		t.Fatal("disjoint windows flagged")
	}
}
