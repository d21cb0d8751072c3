package token

import (
	"strings"
)

// Placeholder inside a segment template is replaced by the identity of the
// registering function.
const Placeholder = "{api}"

// Segment names one upstream invalidation domain.
type Segment string

// Tag is an ordered set of segments. The zero value is the empty tag.
//
// Segments are kept as distinct values, so a segment name may contain any
// character, including the ';' used by the display form.
type Tag struct {
	segs []Segment
}

// NewTag builds a tag from segs, dropping empty and repeated segments while
// keeping first-seen order.
func NewTag(segs ...Segment) Tag {
	var t Tag
	for _, s := range segs {
		t = t.with(s)
	}
	return t
}

// ParseTag parses the ';'-separated text form used in configuration.
// Surrounding spaces and empty pieces are dropped.
func ParseTag(s string) Tag {
	var t Tag
	for _, piece := range strings.Split(s, ";") {
		t = t.with(Segment(strings.TrimSpace(piece)))
	}
	return t
}

func (t Tag) with(s Segment) Tag {
	if s == "" || t.Contains(s) {
		return t
	}
	segs := make([]Segment, len(t.segs), len(t.segs)+1)
	copy(segs, t.segs)
	return Tag{segs: append(segs, s)}
}

// Segments returns a copy of the segments in order.
func (t Tag) Segments() []Segment {
	out := make([]Segment, len(t.segs))
	copy(out, t.segs)
	return out
}

// Len returns the number of segments.
func (t Tag) Len() int {
	return len(t.segs)
}

// Contains reports whether s is one of the segments.
func (t Tag) Contains(s Segment) bool {
	for _, seg := range t.segs {
		if seg == s {
			return true
		}
	}
	return false
}

// Union returns t followed by the segments of o not already in t.
func (t Tag) Union(o Tag) Tag {
	out := t
	for _, s := range o.segs {
		out = out.with(s)
	}
	return out
}

// Expand replaces Placeholder in every segment with api.
func (t Tag) Expand(api string) Tag {
	var out Tag
	for _, s := range t.segs {
		out = out.with(Segment(strings.ReplaceAll(string(s), Placeholder, api)))
	}
	return out
}

// String joins the segments with ';' for display.
func (t Tag) String() string {
	parts := make([]string, len(t.segs))
	for i, s := range t.segs {
		parts[i] = string(s)
	}
	return strings.Join(parts, ";")
}
