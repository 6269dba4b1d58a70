package promptgen

import (
	"sort"
	"strings"
)

// stringSet is a sorted, deduplicated set of strings, giving the same
// deterministic join order as a BTreeSet.
type stringSet struct {
	m map[string]struct{}
}

func newStringSet() *stringSet {
	return &stringSet{m: map[string]struct{}{}}
}

func (s *stringSet) add(values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		s.m[v] = struct{}{}
	}
}

// addCSV splits a comma-joined field (as RuleTags stores output_format etc.)
// and adds each non-empty part.
func (s *stringSet) addCSV(csv string) {
	if csv == "" {
		return
	}
	for _, part := range strings.Split(csv, ",") {
		s.add(strings.TrimSpace(part))
	}
}

func (s *stringSet) empty() bool { return len(s.m) == 0 }

func (s *stringSet) size() int { return len(s.m) }

func (s *stringSet) joined() string {
	values := make([]string, 0, len(s.m))
	for v := range s.m {
		values = append(values, v)
	}
	sort.Strings(values)
	return strings.Join(values, ", ")
}
