package selection

import (
	"github.com/buildbarn/bb-dispatch/pkg/topology"
)

type firstReplicaSelection struct{}

func (firstReplicaSelection) SelectServer(segment topology.SegmentID, candidates topology.ServerList, hashKey string) (topology.ServerInstance, bool) {
	if len(candidates) == 0 {
		return topology.ServerInstance{}, false
	}
	return candidates[0], true
}

// FirstReplicaSelection always picks the first candidate server. It is
// useful in setups where the candidate list is already ordered by
// preference.
var FirstReplicaSelection ReplicaSelection = firstReplicaSelection{}
