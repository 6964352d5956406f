package scattergather

import (
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/selection"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
)

// Request that is scattered across a set of servers. Implementations
// provide the segments that need to be queried, the servers that are
// able to answer for them, and a way of serializing the request for
// an individual server.
type Request interface {
	// SegmentGroups returns groups of segments, each along with the
	// ordered list of servers that hold a replica of them.
	SegmentGroups() []topology.SegmentGroup
	// ReplicaSelection returns the policy that is used to pick a
	// server out of a list of candidates.
	ReplicaSelection() selection.ReplicaSelection
	// ReplicaSelectionGranularity returns whether replica selection
	// is performed for whole segment groups, or for individual
	// segments.
	ReplicaSelectionGranularity() selection.Granularity
	// RequestTimeout returns the time in which the request needs
	// to be dispatched. It is also used as the timeout of the
	// individual requests sent to servers. A negative value means
	// that no timeout applies.
	RequestTimeout() time.Duration
	// HashKey returns the key that is provided to ReplicaSelection,
	// permitting the same query to be routed consistently.
	HashKey() string
	// PinnedSelection returns a table of segments that must be
	// sent to a specific server. It may be nil.
	PinnedSelection() topology.PinnedSelection
	// RequestForServer serializes the request that needs to be sent
	// to a server, given the segments that were assigned to it.
	RequestForServer(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error)
	// RequestID returns an identifier of the request, used for
	// correlation in logs and on the wire.
	RequestID() string
	// GatherMode returns how failures of individual servers affect
	// the outcome of the request as a whole.
	GatherMode() future.GatherMode
}

// RequestSerializer is the signature of Request.RequestForServer().
type RequestSerializer func(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error)

// SimpleRequest is a Request whose properties are provided as plain
// struct fields.
type SimpleRequest struct {
	Groups      []topology.SegmentGroup
	Selection   selection.ReplicaSelection
	Granularity selection.Granularity
	Timeout     time.Duration
	Key         string
	Pinned      topology.PinnedSelection
	Serializer  RequestSerializer
	ID          string
	Mode        future.GatherMode
}

var _ Request = (*SimpleRequest)(nil)

// SegmentGroups returns the segment groups of the request.
func (r *SimpleRequest) SegmentGroups() []topology.SegmentGroup { return r.Groups }

// ReplicaSelection returns the replica selection policy of the request.
func (r *SimpleRequest) ReplicaSelection() selection.ReplicaSelection { return r.Selection }

// ReplicaSelectionGranularity returns the replica selection granularity
// of the request.
func (r *SimpleRequest) ReplicaSelectionGranularity() selection.Granularity { return r.Granularity }

// RequestTimeout returns the timeout of the request.
func (r *SimpleRequest) RequestTimeout() time.Duration { return r.Timeout }

// HashKey returns the hash key of the request.
func (r *SimpleRequest) HashKey() string { return r.Key }

// PinnedSelection returns the pinned selection of the request.
func (r *SimpleRequest) PinnedSelection() topology.PinnedSelection { return r.Pinned }

// RequestForServer calls into the request's serializer.
func (r *SimpleRequest) RequestForServer(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error) {
	return r.Serializer(server, segments)
}

// RequestID returns the identifier of the request.
func (r *SimpleRequest) RequestID() string { return r.ID }

// GatherMode returns the gather mode of the request.
func (r *SimpleRequest) GatherMode() future.GatherMode { return r.Mode }
