package model

import (
	"encoding/json"
	"slices"
)

// StringSet is an unordered set of unique strings.
// It marshals to a sorted JSON array so stored records are stable across runs.
type StringSet map[string]struct{}

// NewStringSet creates a set holding the given values. Empty strings are skipped.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	s.Add(values...)
	return s
}

// Add inserts values into the set and returns how many were new.
func (s StringSet) Add(values ...string) int {
	added := 0
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := s[v]; ok {
			continue
		}
		s[v] = struct{}{}
		added++
	}
	return added
}

// Has reports whether v is in the set.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of values in the set.
func (s StringSet) Len() int {
	return len(s)
}

// Sorted returns the values in ascending order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Union returns a new set holding the values of s and other.
// Neither input is modified.
func (s StringSet) Union(other StringSet) StringSet {
	out := make(StringSet, len(s)+len(other))
	for v := range s {
		out[v] = struct{}{}
	}
	for v := range other {
		out[v] = struct{}{}
	}
	return out
}

// Clone returns a copy of the set. A nil set clones to an empty set.
func (s StringSet) Clone() StringSet {
	return s.Union(nil)
}

// Equal reports whether both sets hold exactly the same values.
func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for v := range s {
		if _, ok := other[v]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array (or null) into the set.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}
