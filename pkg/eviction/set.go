package eviction

// Set of values ordered by a cache replacement policy. Peek() returns
// the value that should be discarded first once the set holds more
// values than desired. Sets are not safe for concurrent use.
type Set[T any] interface {
	// Insert a value that is not yet present in the set.
	Insert(value T)

	// Touch marks a value that is present in the set as recently
	// used. Policies that do not track usage ignore this.
	Touch(value T)

	// Peek returns the value that is to be removed first. The set
	// may not be empty.
	Peek() T

	// Remove the value that was last returned by Peek().
	Remove()
}
