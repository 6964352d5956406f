package eviction

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CacheReplacementPolicy selects the Set implementation that is
// created by NewSet().
type CacheReplacementPolicy int

const (
	// LeastRecentlyUsed is the default policy.
	LeastRecentlyUsed CacheReplacementPolicy = iota
	FirstInFirstOut
	RandomReplacement
)

// NewCacheReplacementPolicyFromConfiguration parses the name of a
// cache replacement policy. An empty name yields LeastRecentlyUsed.
func NewCacheReplacementPolicyFromConfiguration(name string) (CacheReplacementPolicy, error) {
	switch name {
	case "", "LEAST_RECENTLY_USED":
		return LeastRecentlyUsed, nil
	case "FIRST_IN_FIRST_OUT":
		return FirstInFirstOut, nil
	case "RANDOM_REPLACEMENT":
		return RandomReplacement, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "Unknown cache replacement policy %#v", name)
	}
}

// NewSet creates an empty Set that implements a cache replacement
// policy.
func NewSet[T comparable](policy CacheReplacementPolicy) Set[T] {
	switch policy {
	case FirstInFirstOut:
		return NewFIFOSet[T]()
	case RandomReplacement:
		return NewRRSet[T]()
	default:
		return NewLRUSet[T]()
	}
}
