package providers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
)

// Record is a decoded provider payload. Every accessor is null-safe: a
// missing key, a nil value or a value of the wrong shape yields the zero
// value. Paths use dots to walk nested objects ("summary.order_count").
type Record map[string]interface{}

func (r Record) lookup(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(r)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// first returns the value at the first path that is present.
func (r Record) first(paths ...string) (interface{}, bool) {
	for _, p := range paths {
		if v, ok := r.lookup(p); ok {
			return v, true
		}
	}
	return nil, false
}

func (r Record) Float(paths ...string) float64 {
	v, ok := r.first(paths...)
	if !ok {
		return 0
	}
	return toFloat(v)
}

func (r Record) Int(paths ...string) int64 {
	return int64(r.Float(paths...))
}

func (r Record) Bool(paths ...string) bool {
	v, ok := r.first(paths...)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(b))
		return parsed
	case float64:
		return b != 0
	}
	return false
}

func (r Record) String(paths ...string) string {
	v, ok := r.first(paths...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

// Len returns the length of the array at path, or 0.
func (r Record) Len(paths ...string) int64 {
	v, ok := r.first(paths...)
	if !ok {
		return 0
	}
	arr, _ := v.([]interface{})
	return int64(len(arr))
}

// Strings collects the string elements of an array as a JSON column value.
// Non-string elements are skipped. Returns nil when nothing was found.
func (r Record) Strings(paths ...string) datatypes.JSON {
	v, ok := r.first(paths...)
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	if len(out) == 0 {
		return nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

var timeLayouts = []string{time.RFC3339, "2006-01-02", "2006-01"}

// Time parses RFC3339, date-only and year-month strings, or unix seconds.
func (r Record) Time(paths ...string) *time.Time {
	v, ok := r.first(paths...)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case float64:
		ts := time.Unix(int64(t), 0).UTC()
		return &ts
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				ts = ts.UTC()
				return &ts
			}
		}
	}
	return nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		// "$1,234.50" style amounts
		clean := strings.NewReplacer(",", "", "$", "", " ", "").Replace(n)
		f, _ := strconv.ParseFloat(clean, 64)
		return f
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

// FoldKey normalizes a free-text fingerprint value so that case and
// Unicode width variants of the same handle compare equal.
func FoldKey(s string) string {
	s = strings.TrimSpace(norm.NFKC.String(s))
	s = strings.TrimPrefix(s, "@")
	return cases.Fold().String(s)
}
