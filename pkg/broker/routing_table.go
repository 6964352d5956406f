package broker

import (
	"sort"

	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RoutingTable stores, for every segment known to the broker, the
// ordered list of servers that hold a replica of it.
type RoutingTable struct {
	replicas map[topology.SegmentID]topology.ServerList
}

// NewRoutingTable creates a RoutingTable from a map of segments to
// their replicas. Every segment must have at least one replica.
func NewRoutingTable(replicas map[topology.SegmentID]topology.ServerList) (*RoutingTable, error) {
	rt := &RoutingTable{
		replicas: make(map[topology.SegmentID]topology.ServerList, len(replicas)),
	}
	for segment, servers := range replicas {
		if len(servers) == 0 {
			return nil, status.Errorf(codes.InvalidArgument, "Segment %#v has no replicas", segment)
		}
		rt.replicas[segment] = append(topology.ServerList(nil), servers...)
	}
	return rt, nil
}

// NewRoutingTableFromConfiguration creates a RoutingTable from the form
// used in configuration files, where servers are "host:port" strings.
func NewRoutingTableFromConfiguration(table map[string][]string) (*RoutingTable, error) {
	replicas := make(map[topology.SegmentID]topology.ServerList, len(table))
	for segment, addresses := range table {
		servers := make(topology.ServerList, 0, len(addresses))
		for _, address := range addresses {
			server, err := topology.ParseServerInstance(address)
			if err != nil {
				return nil, util.StatusWrapf(err, "Segment %#v", segment)
			}
			servers = append(servers, server)
		}
		replicas[topology.SegmentID(segment)] = servers
	}
	return NewRoutingTable(replicas)
}

// Segments returns all segments in the routing table in sorted order.
func (rt *RoutingTable) Segments() []topology.SegmentID {
	segments := make([]topology.SegmentID, 0, len(rt.replicas))
	for segment := range rt.replicas {
		segments = append(segments, segment)
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i] < segments[j] })
	return segments
}

// SegmentGroups looks up the replicas of the provided segments and
// groups segments that have an identical replica list. Groups are
// returned in the order in which their first segment was provided.
// Segments that are provided more than once are only included once.
func (rt *RoutingTable) SegmentGroups(segments []topology.SegmentID) ([]topology.SegmentGroup, error) {
	var groups []topology.SegmentGroup
	groupIndices := map[string]int{}
	for _, segment := range segments {
		servers, ok := rt.replicas[segment]
		if !ok {
			return nil, status.Errorf(codes.NotFound, "Segment %#v is not present in the routing table", segment)
		}
		key := servers.Key()
		if i, ok := groupIndices[key]; ok {
			groups[i].Segments.Add(segment)
			continue
		}
		groupIndices[key] = len(groups)
		groups = append(groups, topology.SegmentGroup{
			Segments: topology.NewSegmentIDSet(segment),
			Servers:  append(topology.ServerList(nil), servers...),
		})
	}
	return groups, nil
}
