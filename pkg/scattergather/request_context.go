package scattergather

import (
	"math"
	"sort"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/topology"
)

// RequestContext holds the state of a single call to
// ScatterGather.ScatterGather(). It is populated in stages: first the
// inverted map is computed, followed by the assignment of segments to
// servers. It is never shared between calls.
type RequestContext struct {
	startTime       time.Time
	request         Request
	invertedMap     []topology.SegmentGroup
	selectedServers map[topology.ServerInstance]*topology.SegmentIDSet
}

// NewRequestContext creates a RequestContext for a request that is
// started at a given point in time.
func NewRequestContext(request Request, startTime time.Time) *RequestContext {
	return &RequestContext{
		startTime: startTime,
		request:   request,
	}
}

// Request returns the request for which the context was created.
func (rc *RequestContext) Request() Request {
	return rc.request
}

// InvertedMap returns the segments of the request, grouped by the list
// of candidate servers able to answer them. Entries are ordered by
// first appearance in the request.
func (rc *RequestContext) InvertedMap() []topology.SegmentGroup {
	return rc.invertedMap
}

// SelectedServers returns the servers to which the request is sent,
// along with the segments assigned to each of them.
func (rc *RequestContext) SelectedServers() map[topology.ServerInstance]*topology.SegmentIDSet {
	return rc.selectedServers
}

// sortedSelectedServers returns the selected servers in sorted order,
// so that requests are dispatched in a deterministic order.
func (rc *RequestContext) sortedSelectedServers() []topology.ServerInstance {
	servers := make([]topology.ServerInstance, 0, len(rc.selectedServers))
	for server := range rc.selectedServers {
		servers = append(servers, server)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Less(servers[j]) })
	return servers
}

// TimeRemaining returns the amount of time that is left until the
// timeout of the request expires. Requests without a timeout have an
// effectively infinite amount of time remaining. Requests whose
// timeout has expired yield a value that is zero or negative.
func (rc *RequestContext) TimeRemaining(now time.Time) time.Duration {
	timeout := rc.request.RequestTimeout()
	if timeout < 0 {
		return math.MaxInt64
	}
	return timeout - now.Sub(rc.startTime)
}
