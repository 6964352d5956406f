package selection

import (
	"github.com/buildbarn/bb-dispatch/pkg/topology"
)

type hashReplicaSelection struct{}

func (hashReplicaSelection) SelectServer(segment topology.SegmentID, candidates topology.ServerList, hashKey string) (topology.ServerInstance, bool) {
	if len(candidates) == 0 {
		return topology.ServerInstance{}, false
	}
	return candidates[splitmix64(hashSegmentAndKey(segment, hashKey))%uint64(len(candidates))], true
}

// HashReplicaSelection picks a candidate by hashing the request's hash
// key and the representative segment, taking the result modulo the
// number of candidates. Requests with different hash keys are spread
// across replicas. The outcome depends on the order of the candidates.
var HashReplicaSelection ReplicaSelection = hashReplicaSelection{}
