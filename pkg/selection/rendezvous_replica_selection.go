package selection

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/buildbarn/bb-dispatch/pkg/topology"
)

type rendezvousReplicaSelection struct {
	weights       map[topology.ServerInstance]uint32
	defaultWeight uint32
}

// NewRendezvousReplicaSelection creates a ReplicaSelection that uses
// the Rendezvous Hashing algorithm. Every candidate is scored by mixing
// a hash of its address with a hash of the request's hash key and the
// representative segment. The candidate with the highest score wins.
//
// Unlike HashReplicaSelection, the outcome does not depend on the
// order of the candidate list. Removing a candidate only affects
// selections that would have resolved to it.
//
// Weights can be provided to let servers receive a share of selections
// proportional to their weight. Servers not present in the map use the
// default weight.
func NewRendezvousReplicaSelection(weights map[topology.ServerInstance]uint32, defaultWeight uint32) ReplicaSelection {
	return &rendezvousReplicaSelection{
		weights:       weights,
		defaultWeight: defaultWeight,
	}
}

func hashServer(server topology.ServerInstance) uint64 {
	h := sha256.Sum256([]byte(server.Address()))
	return binary.BigEndian.Uint64(h[:8])
}

func score(x uint64, weight uint32) uint64 {
	// The formula being approximated is -weight/log(X), where X is
	// a uniform random number in ]0,1[. No floating point is used,
	// so that results are identical on all architectures.
	//
	// Only the relative order of scores matters, so log2 is used.
	// -log2(x/(MaxUint64+1)) simplifies to 64-log2(x).
	logFixed := uint64(64)<<16 - Log2Fixed(x)
	weightFixed := uint64(weight) << 32
	return weightFixed / logFixed
}

const (
	lutEntryBits = 6
)

// Fixed point representation of log2(x) for x in [1,2], using 16 bits
// of precision. The final entry simplifies interpolation.
var lut = [(1 << lutEntryBits) + 1]uint16{
	0x0000, 0x05ba, 0x0b5d, 0x10eb, 0x1664, 0x1bc8, 0x2119, 0x2656,
	0x2b80, 0x3098, 0x359f, 0x3a94, 0x3f78, 0x444c, 0x4910, 0x4dc5,
	0x526a, 0x5700, 0x5b89, 0x6003, 0x646f, 0x68ce, 0x6d20, 0x7165,
	0x759d, 0x79ca, 0x7dea, 0x81ff, 0x8608, 0x8a06, 0x8dfa, 0x91e2,
	0x95c0, 0x9994, 0x9d5e, 0xa11e, 0xa4d4, 0xa881, 0xac24, 0xafbe,
	0xb350, 0xb6d9, 0xba59, 0xbdd1, 0xc140, 0xc4a8, 0xc807, 0xcb5f,
	0xceaf, 0xd1f7, 0xd538, 0xd872, 0xdba5, 0xded0, 0xe1f5, 0xe513,
	0xe82a, 0xeb3b, 0xee45, 0xf149, 0xf446, 0xf73e, 0xfa2f, 0xfd1a,
	0x0000, // the overflow of 0x10000, cancels out when interpolating
}

// Log2Fixed is a fixed point approximation of log2, having 16 bits of
// precision for the fractional part. The integer part is obtained by
// counting bits. The fractional part is obtained from a lookup table,
// linearly interpolated with the next entry.
//
// This function is defined for x=0. The maximum value it produces is
// 64<<16 - 1.
func Log2Fixed(x uint64) uint64 {
	msb := bits.Len64(x >> 1)
	bitfield := x << (64 - msb)
	index := bitfield >> (64 - lutEntryBits)
	interp := bitfield << lutEntryBits >> 16
	base := lut[index]
	next := lut[index+1]
	delta := uint64(next - base)
	frac := uint64(base)<<48 + (delta * interp)
	return (uint64(msb) << 16) | uint64(frac)>>48
}

// splitmix64 is a fast PRNG step with strong mixing properties.
func splitmix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func (rs *rendezvousReplicaSelection) weight(server topology.ServerInstance) uint32 {
	if w, ok := rs.weights[server]; ok {
		return w
	}
	return rs.defaultWeight
}

func (rs *rendezvousReplicaSelection) SelectServer(segment topology.SegmentID, candidates topology.ServerList, hashKey string) (topology.ServerInstance, bool) {
	if len(candidates) == 0 {
		return topology.ServerInstance{}, false
	}
	h := hashSegmentAndKey(segment, hashKey)
	best := candidates[0]
	bestScore := score(splitmix64(hashServer(best)^h), rs.weight(best))
	for _, candidate := range candidates[1:] {
		current := score(splitmix64(hashServer(candidate)^h), rs.weight(candidate))
		// Ties are broken on the server itself, so that the
		// order of candidates has no influence.
		if current > bestScore || (current == bestScore && candidate.Less(best)) {
			best = candidate
			bestScore = current
		}
	}
	return best, true
}
