package scattergather

import (
	"github.com/buildbarn/bb-dispatch/pkg/topology"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// invertedMapBuilder merges segments into groups keyed by their list
// of candidate servers, preserving the order in which lists are first
// observed.
type invertedMapBuilder struct {
	entries []topology.SegmentGroup
	indices map[string]int
}

func (b *invertedMapBuilder) add(servers topology.ServerList, segment topology.SegmentID) {
	key := servers.Key()
	if i, ok := b.indices[key]; ok {
		b.entries[i].Segments.Add(segment)
		return
	}
	b.indices[key] = len(b.entries)
	b.entries = append(b.entries, topology.SegmentGroup{
		Segments: topology.NewSegmentIDSet(segment),
		Servers:  append(topology.ServerList(nil), servers...),
	})
}

// buildInvertedMap converts the segment groups of the request into a
// list of groups keyed by candidate server list. Segments of request
// groups that share the same list of candidates are merged, so that
// they can be resolved using a single request. Pinned segments are
// split off into groups whose only candidate is the pinned server.
//
// Every segment of the request ends up in exactly one group. Segments
// listed by multiple request groups are kept in the first one.
func buildInvertedMap(rc *RequestContext) error {
	pinned := rc.request.PinnedSelection()
	builder := invertedMapBuilder{
		indices: map[string]int{},
	}
	seen := topology.NewSegmentIDSet()
	for _, group := range rc.request.SegmentGroups() {
		if group.Segments == nil {
			continue
		}
		for _, segment := range group.Segments.Segments() {
			if seen.Contains(segment) {
				continue
			}
			seen.Add(segment)
			if server, ok := pinned.PreselectedServer(segment); ok {
				builder.add(topology.ServerList{server}, segment)
			} else if len(group.Servers) == 0 {
				return status.Errorf(codes.InvalidArgument, "Segment %#v has no candidate servers", string(segment))
			} else {
				builder.add(group.Servers, segment)
			}
		}
	}
	rc.invertedMap = builder.entries
	return nil
}
