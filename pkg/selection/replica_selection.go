package selection

import (
	"github.com/buildbarn/bb-dispatch/pkg/topology"
)

// ReplicaSelection is a policy for picking one server out of a list of
// candidate servers that hold replicas of a segment.
//
// Implementations must be pure functions of their arguments. Calling
// SelectServer() twice with the same segment, candidate list and hash
// key must yield the same server, so that repeated dispatching of an
// identical request is reproducible.
type ReplicaSelection interface {
	// SelectServer picks a server from the candidates. False is only
	// returned if the list of candidates is empty.
	SelectServer(segment topology.SegmentID, candidates topology.ServerList, hashKey string) (topology.ServerInstance, bool)
}

// Granularity at which replica selection is performed.
type Granularity int

const (
	// SegmentIDSetGranularity causes a single server to be selected
	// for an entire group of segments sharing the same candidates.
	// This minimizes the number of requests sent.
	SegmentIDSetGranularity Granularity = iota
	// SegmentIDGranularity causes a server to be selected for every
	// individual segment. This permits finer load distribution at
	// the cost of more requests.
	SegmentIDGranularity
)

func (g Granularity) String() string {
	switch g {
	case SegmentIDSetGranularity:
		return "SEGMENT_ID_SET"
	case SegmentIDGranularity:
		return "SEGMENT_ID"
	default:
		return "UNKNOWN"
	}
}

// hashSegmentAndKey computes a 64-bit FNV-1a hash over the hash key of
// a request and the representative segment.
func hashSegmentAndKey(segment topology.SegmentID, hashKey string) uint64 {
	h := uint64(14695981039346656037)
	for _, c := range []byte(hashKey) {
		h ^= uint64(c)
		h *= 1099511628211
	}
	// Separator, so that ("ab", "c") and ("a", "bc") differ.
	h ^= 0xff
	h *= 1099511628211
	for _, c := range []byte(segment) {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
