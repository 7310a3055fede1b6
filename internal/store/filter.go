package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Condition matches records whose metadata field equals one of Values.
// Values are compared as text, so 5 and "5" are the same.
type Condition struct {
	Field  string
	Values []string
}

// Filter is a conjunction of Must conditions and negated MustNot conditions.
// A nil filter matches everything.
type Filter struct {
	Must    []Condition
	MustNot []Condition
}

// Eq builds an equality condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Values: []string{formatValue(value)}}
}

// In builds a set-membership condition.
func In[T any](field string, values []T) Condition {
	c := Condition{Field: field, Values: make([]string, 0, len(values))}
	for _, v := range values {
		c.Values = append(c.Values, formatValue(v))
	}
	return c
}

// Where returns a filter with the given Must conditions.
func Where(conds ...Condition) *Filter {
	return &Filter{Must: conds}
}

// Not appends MustNot conditions and returns the filter.
func (f *Filter) Not(conds ...Condition) *Filter {
	f.MustNot = append(f.MustNot, conds...)
	return f
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0)
}

// Matches evaluates the filter against metadata in memory.
func (f *Filter) Matches(m Metadata) bool {
	if f.IsEmpty() {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(m) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(m) {
			return false
		}
	}
	return true
}

func (c Condition) matches(m Metadata) bool {
	v, ok := m[c.Field]
	if !ok || v == nil {
		return false
	}
	s := formatValue(v)
	for _, want := range c.Values {
		if s == want {
			return true
		}
	}
	return false
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return formatValue(float64(x))
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return formatValue(normalizeNumber(x))
	default:
		return fmt.Sprint(x)
	}
}
