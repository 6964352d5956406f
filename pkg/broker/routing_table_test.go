package broker_test

import (
	"testing"

	"github.com/buildbarn/bb-dispatch/pkg/broker"
	"github.com/buildbarn/bb-dispatch/pkg/testutil"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	storage1 = topology.ServerInstance{Hostname: "storage-1", Port: 8981}
	storage2 = topology.ServerInstance{Hostname: "storage-2", Port: 8981}
	storage3 = topology.ServerInstance{Hostname: "storage-3", Port: 8981}
)

func newTestRoutingTable(t *testing.T) *broker.RoutingTable {
	rt, err := broker.NewRoutingTableFromConfiguration(map[string][]string{
		"seg1": {"storage-1:8981", "storage-2:8981"},
		"seg2": {"storage-2:8981", "storage-3:8981"},
		"seg3": {"storage-1:8981", "storage-2:8981"},
		"seg4": {"storage-2:8981", "storage-1:8981"},
	})
	require.NoError(t, err)
	return rt
}

func TestRoutingTableSegmentGroups(t *testing.T) {
	rt := newTestRoutingTable(t)
	require.Equal(t, []topology.SegmentID{"seg1", "seg2", "seg3", "seg4"}, rt.Segments())

	t.Run("Grouping", func(t *testing.T) {
		// Segments with identical replica lists end up in the
		// same group. The order of replicas matters.
		groups, err := rt.SegmentGroups([]topology.SegmentID{"seg3", "seg2", "seg1", "seg4", "seg3"})
		require.NoError(t, err)
		require.Len(t, groups, 3)
		require.True(t, groups[0].Segments.Equal(topology.NewSegmentIDSet("seg1", "seg3")))
		require.Equal(t, topology.ServerList{storage1, storage2}, groups[0].Servers)
		require.True(t, groups[1].Segments.Equal(topology.NewSegmentIDSet("seg2")))
		require.Equal(t, topology.ServerList{storage2, storage3}, groups[1].Servers)
		require.True(t, groups[2].Segments.Equal(topology.NewSegmentIDSet("seg4")))
		require.Equal(t, topology.ServerList{storage2, storage1}, groups[2].Servers)
	})

	t.Run("GroupsAreCopies", func(t *testing.T) {
		groups, err := rt.SegmentGroups([]topology.SegmentID{"seg1"})
		require.NoError(t, err)
		groups[0].Servers[0] = storage3

		groups, err = rt.SegmentGroups([]topology.SegmentID{"seg1"})
		require.NoError(t, err)
		require.Equal(t, topology.ServerList{storage1, storage2}, groups[0].Servers)
	})

	t.Run("UnknownSegment", func(t *testing.T) {
		_, err := rt.SegmentGroups([]topology.SegmentID{"seg1", "seg9"})
		testutil.RequireEqualStatus(t, status.Error(codes.NotFound, "Segment \"seg9\" is not present in the routing table"), err)
	})

	t.Run("NoSegments", func(t *testing.T) {
		groups, err := rt.SegmentGroups(nil)
		require.NoError(t, err)
		require.Empty(t, groups)
	})
}

func TestNewRoutingTableFromConfiguration(t *testing.T) {
	t.Run("InvalidAddress", func(t *testing.T) {
		_, err := broker.NewRoutingTableFromConfiguration(map[string][]string{
			"seg1": {"storage-1:http"},
		})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Segment \"seg1\": Invalid port in server address \"storage-1:http\""), err)
	})

	t.Run("NoReplicas", func(t *testing.T) {
		_, err := broker.NewRoutingTableFromConfiguration(map[string][]string{
			"seg1": {},
		})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Segment \"seg1\" has no replicas"), err)
	})
}
