package dedup

import (
	"testing"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

func rec(fields map[string]interface{}) *models.Record {
	return &models.Record{Fields: fields}
}

func TestDedupeKeepFirst(t *testing.T) {
	records := []*models.Record{
		rec(map[string]interface{}{"id": "a", "seq": "1"}),
		rec(map[string]interface{}{"id": "a", "seq": "2"}),
		rec(map[string]interface{}{"id": "b", "seq": "3"}),
	}

	out, removed := Dedupe(records, []string{"id"}, KeepFirst)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(out) != 2 {
		t.Fatalf("kept %d records, want 2", len(out))
	}
	if out[0].Field("seq") != "1" || out[1].Field("seq") != "3" {
		t.Fatalf("wrong survivors: %v %v", out[0].Fields, out[1].Fields)
	}
}

func TestDedupeKeepLast(t *testing.T) {
	records := []*models.Record{
		rec(map[string]interface{}{"id": "a", "seq": "1"}),
		rec(map[string]interface{}{"id": "a", "seq": "2"}),
	}

	out, _ := Dedupe(records, []string{"id"}, KeepLast)
	if len(out) != 1 || out[0].Field("seq") != "2" {
		t.Fatalf("keep-last kept the wrong row: %v", out[0].Fields)
	}
}

func TestDedupeIdempotent(t *testing.T) {
	records := []*models.Record{
		rec(map[string]interface{}{"id": "a"}),
		rec(map[string]interface{}{"id": "a"}),
		rec(map[string]interface{}{"id": "b"}),
	}

	once, _ := Dedupe(records, []string{"id"}, KeepFirst)
	twice, removed := Dedupe(once, []string{"id"}, KeepFirst)
	if removed != 0 {
		t.Fatalf("second pass removed %d rows", removed)
	}
	if len(twice) != len(once) {
		t.Fatalf("second pass changed the table: %d vs %d", len(twice), len(once))
	}
}

func TestDedupeMissingFieldDistinctFromEmpty(t *testing.T) {
	records := []*models.Record{
		rec(map[string]interface{}{"id": ""}),
		rec(map[string]interface{}{}),
	}

	out, removed := Dedupe(records, []string{"id"}, KeepFirst)
	if removed != 0 || len(out) != 2 {
		t.Fatalf("empty value collapsed with missing field: kept %d", len(out))
	}
}

func TestDedupeFullRowKey(t *testing.T) {
	records := []*models.Record{
		rec(map[string]interface{}{"a": "1", "b": "2"}),
		rec(map[string]interface{}{"b": "2", "a": "1"}),
		rec(map[string]interface{}{"a": "1", "b": "3"}),
	}

	out, removed := Dedupe(records, nil, KeepFirst)
	if removed != 1 || len(out) != 2 {
		t.Fatalf("full-row dedupe kept %d rows, removed %d", len(out), removed)
	}
}

func TestNormalizeIdentity(t *testing.T) {
	records := []*models.Record{
		rec(map[string]interface{}{"User": "  Alice@Example.COM "}),
		rec(map[string]interface{}{"User": "alice@example.com"}),
		rec(map[string]interface{}{"other": "x"}),
	}

	out := NormalizeIdentity(records, "User")
	if out[0].Field("User") != out[1].Field("User") {
		t.Fatalf("identities did not fold equal: %q vs %q", out[0].Field("User"), out[1].Field("User"))
	}
	// Originals stay untouched.
	if records[0].Field("User") != "  Alice@Example.COM " {
		t.Fatalf("input row mutated: %q", records[0].Field("User"))
	}
}

func TestMergeAndDedupeConcat(t *testing.T) {
	t1 := []*models.Record{rec(map[string]interface{}{"id": "a"})}
	t2 := []*models.Record{
		rec(map[string]interface{}{"id": "a"}),
		rec(map[string]interface{}{"id": "b"}),
	}

	out, err := MergeAndDedupe([][]*models.Record{t1, t2}, nil, "")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("concat merge kept %d rows, want 2", len(out))
	}
}

func TestMergeAndDedupeInnerJoin(t *testing.T) {
	left := []*models.Record{
		rec(map[string]interface{}{"id": "a", "x": "1"}),
		rec(map[string]interface{}{"id": "b", "x": "2"}),
	}
	right := []*models.Record{
		rec(map[string]interface{}{"id": "a", "y": "9"}),
	}

	out, err := MergeAndDedupe([][]*models.Record{left, right}, []string{"id"}, JoinInner)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("inner join kept %d rows, want 1", len(out))
	}
	if out[0].Field("x") != "1" || out[0].Field("y") != "9" {
		t.Fatalf("merged row wrong: %v", out[0].Fields)
	}
}

func TestMergeAndDedupeOuterJoin(t *testing.T) {
	left := []*models.Record{
		rec(map[string]interface{}{"id": "a", "x": "1"}),
	}
	right := []*models.Record{
		rec(map[string]interface{}{"id": "a", "x": "left wins", "y": "9"}),
		rec(map[string]interface{}{"id": "c", "y": "7"}),
	}

	out, err := MergeAndDedupe([][]*models.Record{left, right}, []string{"id"}, JoinOuter)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("outer join kept %d rows, want 2", len(out))
	}
	if out[0].Field("x") != "1" {
		t.Fatalf("left field did not win: %q", out[0].Field("x"))
	}
	if out[1].Field("id") != "c" {
		t.Fatalf("unmatched right row missing: %v", out[1].Fields)
	}
}

func TestMergeAndDedupeUnknownMode(t *testing.T) {
	left := []*models.Record{rec(map[string]interface{}{"id": "a"})}
	right := []*models.Record{rec(map[string]interface{}{"id": "a"})}

	if _, err := MergeAndDedupe([][]*models.Record{left, right}, []string{"id"}, "sideways"); err == nil {
		t.Fatal("expected error for unknown join mode")
	}
}
