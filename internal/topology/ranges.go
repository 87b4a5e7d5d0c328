package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Range is a half-open key range [Start, End). Ranges are treated as
// opaque identities at shard granularity: watermark bookkeeping and
// peer notifications operate on whole shard ranges, so set operations
// here match ranges exactly rather than splitting intervals.
type Range struct {
	Start string
	End   string
}

func (r Range) String() string {
	return fmt.Sprintf("[%s,%s)", r.Start, r.End)
}

// Compare orders ranges by start key, then end key.
func (r Range) Compare(o Range) int {
	if c := strings.Compare(r.Start, o.Start); c != 0 {
		return c
	}
	return strings.Compare(r.End, o.End)
}

// Ranges is a sorted, deduplicated set of ranges.
type Ranges []Range

// NewRanges builds a canonical Ranges value.
func NewRanges(rs ...Range) Ranges {
	out := append(Ranges(nil), rs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	dedup := out[:0]
	for i, r := range out {
		if i == 0 || out[i-1] != r {
			dedup = append(dedup, r)
		}
	}
	return dedup
}

// IsEmpty reports whether the set holds no ranges.
func (rs Ranges) IsEmpty() bool {
	return len(rs) == 0
}

// Contains reports whether r is a member of the set.
func (rs Ranges) Contains(r Range) bool {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].Compare(r) >= 0 })
	return i < len(rs) && rs[i] == r
}

// ContainsAll reports whether every range in o is a member of the set.
func (rs Ranges) ContainsAll(o Ranges) bool {
	for _, r := range o {
		if !rs.Contains(r) {
			return false
		}
	}
	return true
}

// With returns the union of the two sets.
func (rs Ranges) With(o Ranges) Ranges {
	return NewRanges(append(append(Ranges(nil), rs...), o...)...)
}

// Without returns the members of the set not present in o.
func (rs Ranges) Without(o Ranges) Ranges {
	var out Ranges
	for _, r := range rs {
		if !o.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

// Equal reports set equality.
func (rs Ranges) Equal(o Ranges) bool {
	if len(rs) != len(o) {
		return false
	}
	for i := range rs {
		if rs[i] != o[i] {
			return false
		}
	}
	return true
}
