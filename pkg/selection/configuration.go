package selection

import (
	"github.com/buildbarn/bb-dispatch/pkg/topology"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewReplicaSelectionFromConfiguration creates a ReplicaSelection based
// on the name of a policy, as it appears in configuration files. An
// empty name selects rendezvous hashing.
func NewReplicaSelectionFromConfiguration(policy string, weights map[topology.ServerInstance]uint32) (ReplicaSelection, error) {
	switch policy {
	case "first":
		return FirstReplicaSelection, nil
	case "hash":
		return HashReplicaSelection, nil
	case "", "rendezvous":
		return NewRendezvousReplicaSelection(weights, 1), nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "Unknown replica selection policy %#v", policy)
	}
}

// NewGranularityFromConfiguration converts the name of a selection
// granularity, as it appears in configuration files, to a Granularity.
// An empty name selects per-group granularity.
func NewGranularityFromConfiguration(name string) (Granularity, error) {
	switch name {
	case "", "SEGMENT_ID_SET":
		return SegmentIDSetGranularity, nil
	case "SEGMENT_ID":
		return SegmentIDGranularity, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "Unknown replica selection granularity %#v", name)
	}
}
