package topology

import (
	"sort"
	"strings"
)

// SegmentID is an opaque identifier of a single data segment. Segment
// identifiers are compared and ordered lexicographically, which
// allows iteration over sets of segments to be deterministic.
type SegmentID string

// SegmentIDSet is a set of segments that are grouped together, because
// they share the same list of candidate servers. Sets may only be
// mutated while they are being constructed. Once a set has been
// assigned to a server, it must be treated as immutable.
type SegmentIDSet struct {
	segments map[SegmentID]struct{}
}

// NewSegmentIDSet creates a SegmentIDSet that contains the provided
// segments.
func NewSegmentIDSet(segments ...SegmentID) *SegmentIDSet {
	s := &SegmentIDSet{
		segments: make(map[SegmentID]struct{}, len(segments)),
	}
	for _, segment := range segments {
		s.segments[segment] = struct{}{}
	}
	return s
}

// Add a single segment to the set.
func (s *SegmentIDSet) Add(segment SegmentID) {
	s.segments[segment] = struct{}{}
}

// AddAll adds all segments contained in another set to the set.
func (s *SegmentIDSet) AddAll(other *SegmentIDSet) {
	for segment := range other.segments {
		s.segments[segment] = struct{}{}
	}
}

// Contains returns whether a segment is part of the set.
func (s *SegmentIDSet) Contains(segment SegmentID) bool {
	_, ok := s.segments[segment]
	return ok
}

// Len returns the number of segments in the set.
func (s *SegmentIDSet) Len() int {
	return len(s.segments)
}

// Empty returns true if the set contains no segments.
func (s *SegmentIDSet) Empty() bool {
	return len(s.segments) == 0
}

// Segments returns the segments contained in the set in sorted order.
func (s *SegmentIDSet) Segments() []SegmentID {
	l := make([]SegmentID, 0, len(s.segments))
	for segment := range s.segments {
		l = append(l, segment)
	}
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
	return l
}

// OneSegment returns a representative segment of the set. The segment
// that is returned is the lowest in sort order, meaning that the same
// segment is returned regardless of insertion order. This function may
// not be called on empty sets.
func (s *SegmentIDSet) OneSegment() SegmentID {
	if len(s.segments) == 0 {
		panic("Attempted to obtain a segment from an empty set")
	}
	first := true
	var lowest SegmentID
	for segment := range s.segments {
		if first || segment < lowest {
			lowest = segment
			first = false
		}
	}
	return lowest
}

// Clone returns a copy of the set that can be mutated without
// affecting the original.
func (s *SegmentIDSet) Clone() *SegmentIDSet {
	n := &SegmentIDSet{
		segments: make(map[SegmentID]struct{}, len(s.segments)),
	}
	for segment := range s.segments {
		n.segments[segment] = struct{}{}
	}
	return n
}

// Equal returns true if both sets contain the same segments.
func (s *SegmentIDSet) Equal(other *SegmentIDSet) bool {
	if len(s.segments) != len(other.segments) {
		return false
	}
	for segment := range s.segments {
		if _, ok := other.segments[segment]; !ok {
			return false
		}
	}
	return true
}

func (s *SegmentIDSet) String() string {
	segments := s.Segments()
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		parts = append(parts, string(segment))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
