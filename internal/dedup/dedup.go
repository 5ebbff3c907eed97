// Package dedup removes duplicate log rows and makes identity strings
// join-key stable across export tools.
package dedup

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

// Keep selects which representative of a duplicate group survives.
const (
	KeepFirst = "first"
	KeepLast  = "last"
)

const keySep = "\x1f"

var foldCaser = cases.Fold()

// Dedupe groups records by the ordered key-field tuple and keeps one
// representative per group. With no key fields, the full row is the key.
// Survivors stay in input order; the removed count is returned alongside.
func Dedupe(records []*models.Record, keyFields []string, keep string) ([]*models.Record, int) {
	if keep != KeepLast {
		keep = KeepFirst
	}

	kept := make(map[string]int, len(records))
	for i, rec := range records {
		key := groupKey(rec, keyFields)
		if _, seen := kept[key]; !seen || keep == KeepLast {
			kept[key] = i
		}
	}

	survivors := make(map[int]struct{}, len(kept))
	for _, idx := range kept {
		survivors[idx] = struct{}{}
	}

	out := make([]*models.Record, 0, len(kept))
	for i, rec := range records {
		if _, ok := survivors[i]; ok {
			out = append(out, rec)
		}
	}
	return out, len(records) - len(out)
}

func groupKey(rec *models.Record, keyFields []string) string {
	if len(keyFields) > 0 {
		parts := make([]string, 0, len(keyFields)*2)
		for _, f := range keyFields {
			if rec.Has(f) {
				parts = append(parts, "1", rec.Field(f))
			} else {
				parts = append(parts, "0", "")
			}
		}
		return strings.Join(parts, keySep)
	}

	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names)*2)
	for _, name := range names {
		parts = append(parts, name, rec.Field(name))
	}
	return strings.Join(parts, keySep)
}

// NormalizeIdentity trims and casefolds the named field so user identifiers
// from different export tools compare equal. A new table is returned; the
// input rows are untouched.
func NormalizeIdentity(records []*models.Record, field string) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		clone := rec.Clone()
		if clone.Has(field) {
			clone.Set(field, foldCaser.String(strings.TrimSpace(clone.Field(field))))
		}
		out = append(out, clone)
	}
	return out
}

// Join modes for MergeAndDedupe.
const (
	JoinInner = "inner"
	JoinOuter = "outer"
	JoinLeft  = "left"
	JoinRight = "right"
)

// MergeAndDedupe combines tables. With join keys the tables are folded
// pairwise through a relational join; without, rows are concatenated. The
// result always passes through a final full-row dedupe.
func MergeAndDedupe(tables [][]*models.Record, joinKeys []string, mode string) ([]*models.Record, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	if len(tables) == 1 {
		return tables[0], nil
	}

	result := tables[0]
	for _, table := range tables[1:] {
		if len(joinKeys) > 0 {
			merged, err := join(result, table, joinKeys, mode)
			if err != nil {
				return nil, err
			}
			result = merged
		} else {
			result = append(append([]*models.Record{}, result...), table...)
		}
	}

	out, _ := Dedupe(result, nil, KeepFirst)
	return out, nil
}

// join matches rows whose key tuples are equal. Merged rows take the left
// row's fields; right-side fields are added only when absent on the left.
// Output order is deterministic: driving-side input order, then unmatched
// rows from the other side in their input order.
func join(left, right []*models.Record, keys []string, mode string) ([]*models.Record, error) {
	switch mode {
	case JoinInner, JoinOuter, JoinLeft:
	case JoinRight:
		return join(right, left, keys, JoinLeft)
	default:
		return nil, fmt.Errorf("unknown join mode %q", mode)
	}

	index := make(map[string][]int, len(right))
	for i, rec := range right {
		index[groupKey(rec, keys)] = append(index[groupKey(rec, keys)], i)
	}

	matchedRight := make(map[int]struct{}, len(right))
	out := make([]*models.Record, 0, len(left))
	for _, lrec := range left {
		key := groupKey(lrec, keys)
		matches := index[key]
		if len(matches) == 0 {
			if mode == JoinLeft || mode == JoinOuter {
				out = append(out, lrec.Clone())
			}
			continue
		}
		for _, ri := range matches {
			matchedRight[ri] = struct{}{}
			merged := lrec.Clone()
			for name, v := range right[ri].Fields {
				if !merged.Has(name) {
					merged.Set(name, v)
				}
			}
			out = append(out, merged)
		}
	}

	if mode == JoinOuter {
		for i, rrec := range right {
			if _, ok := matchedRight[i]; !ok {
				out = append(out, rrec.Clone())
			}
		}
	}
	return out, nil
}
