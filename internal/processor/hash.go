package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"
)

// FilterHash returns a 16-character fingerprint of the rules, stored in
// state to detect configuration changes between runs. The canonical form
// sorts object keys and every list constraint's elements, so rule sets that
// differ only in list ordering hash identically. Selection order is kept:
// it determines which selection a show reports as matched.
func FilterHash(rules Rules) string {
	canonical := map[string]any{
		"exclude": map[string]any{
			"genres":    sortedList(rules.Exclude.Genres),
			"types":     sortedList(rules.Exclude.Types),
			"languages": sortedList(rules.Exclude.Languages),
			"countries": sortedList(rules.Exclude.Countries),
			"networks":  sortedList(rules.Exclude.Networks),
		},
		"selections": canonicalSelections(rules.Selections),
	}
	// encoding/json writes map keys in sorted order, which is exactly the
	// canonical serialization wanted here.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func canonicalSelections(sels []Selection) []map[string]any {
	out := make([]map[string]any, 0, len(sels))
	for i := range sels {
		s := &sels[i]
		out = append(out, map[string]any{
			"name":      nullableString(s.Name),
			"languages": sortedList(s.Languages),
			"countries": sortedList(s.Countries),
			"genres":    sortedList(s.Genres),
			"types":     sortedList(s.Types),
			"networks":  sortedList(s.Networks),
			"status":    sortedList(s.Status),
			"premiered": dateRangeValue(s.Premiered),
			"ended":     dateRangeValue(s.Ended),
			"rating":    floatRangeValue(s.Rating),
			"runtime":   intRangeValue(s.Runtime),
		})
	}
	return out
}

// Range sub-objects are always present with explicit nulls so that adding an
// empty range to the config does not change the hash.
func dateRangeValue(r *DateRange) map[string]any {
	v := map[string]any{"after": nil, "before": nil}
	if r != nil {
		if !r.After.IsZero() {
			v["after"] = r.After.Format(time.DateOnly)
		}
		if !r.Before.IsZero() {
			v["before"] = r.Before.Format(time.DateOnly)
		}
	}
	return v
}

func floatRangeValue(r *FloatRange) map[string]any {
	v := map[string]any{"min": nil, "max": nil}
	if r != nil {
		if r.Min != nil {
			v["min"] = *r.Min
		}
		if r.Max != nil {
			v["max"] = *r.Max
		}
	}
	return v
}

func intRangeValue(r *IntRange) map[string]any {
	v := map[string]any{"min": nil, "max": nil}
	if r != nil {
		if r.Min != nil {
			v["min"] = *r.Min
		}
		if r.Max != nil {
			v["max"] = *r.Max
		}
	}
	return v
}

func sortedList(vals []string) []string {
	out := slices.Clone(vals)
	slices.Sort(out)
	if out == nil {
		out = []string{}
	}
	return out
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
