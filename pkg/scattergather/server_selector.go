package scattergather

import (
	"github.com/buildbarn/bb-dispatch/pkg/selection"
	"github.com/buildbarn/bb-dispatch/pkg/topology"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type serverAssignment map[topology.ServerInstance]*topology.SegmentIDSet

func (a serverAssignment) add(server topology.ServerInstance, segment topology.SegmentID) {
	if segments, ok := a[server]; ok {
		segments.Add(segment)
	} else {
		a[server] = topology.NewSegmentIDSet(segment)
	}
}

// selectServers picks a server for every entry of the inverted map,
// using the replica selection policy and granularity of the request.
func selectServers(rc *RequestContext) error {
	request := rc.request
	replicaSelection := request.ReplicaSelection()
	hashKey := request.HashKey()
	selected := serverAssignment{}

	switch granularity := request.ReplicaSelectionGranularity(); granularity {
	case selection.SegmentIDSetGranularity:
		for _, entry := range rc.invertedMap {
			server, ok := replicaSelection.SelectServer(entry.Segments.OneSegment(), entry.Servers, hashKey)
			if !ok {
				return status.Errorf(codes.InvalidArgument, "No server could be selected for segments %s", entry.Segments)
			}
			for _, segment := range entry.Segments.Segments() {
				selected.add(server, segment)
			}
		}
	case selection.SegmentIDGranularity:
		for _, entry := range rc.invertedMap {
			// The first segment of the group is used as the
			// selection key for all of its segments.
			var firstSegment topology.SegmentID
			for i, segment := range entry.Segments.Segments() {
				if i == 0 {
					firstSegment = segment
				}
				server, ok := replicaSelection.SelectServer(firstSegment, entry.Servers, hashKey)
				if !ok {
					return status.Errorf(codes.InvalidArgument, "No server could be selected for segment %#v", string(segment))
				}
				selected.add(server, segment)
			}
		}
	default:
		return status.Errorf(codes.InvalidArgument, "Unknown replica selection granularity %d", granularity)
	}

	rc.selectedServers = selected
	return nil
}
