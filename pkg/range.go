package fileintegrity

import "fmt"

// Range is a half-open byte interval [From, To).
type Range struct {
	From int64
	To   int64
}

// Len returns the number of bytes covered
func (r Range) Len() int64 {
	return r.To - r.From
}

// IsEmpty reports whether the range covers no bytes
func (r Range) IsEmpty() bool {
	return r.To <= r.From
}

// Touches reports whether r and o overlap or are adjacent
func (r Range) Touches(o Range) bool {
	return r.From <= o.To && o.From <= r.To
}

// Union returns the smallest range containing both r and o
func (r Range) Union(o Range) Range {
	return Range{From: min(r.From, o.From), To: max(r.To, o.To)}
}

// AdjustToContain widens r so that it fully encloses o when o starts inside r
// but ends past it. Otherwise r is returned unchanged.
func (r Range) AdjustToContain(o Range) Range {
	if o.From >= r.From && o.From < r.To && o.To > r.To {
		return Range{From: r.From, To: o.To}
	}
	return r
}

// Intersect returns the overlap of r and o, empty when disjoint
func (r Range) Intersect(o Range) Range {
	from := max(r.From, o.From)
	to := min(r.To, o.To)
	if to < from {
		to = from
	}
	return Range{From: from, To: to}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.From, r.To)
}
