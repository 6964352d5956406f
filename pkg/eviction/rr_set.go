package eviction

import (
	"math/rand"
)

type rrSet[T any] struct {
	elements []T
}

// NewRRSet creates a Set that implements the Random Replacement (RR)
// policy. Touching values has no effect.
func NewRRSet[T any]() Set[T] {
	return &rrSet[T]{}
}

func (s *rrSet[T]) Insert(value T) {
	// Place the value at a random index, moving the value that was
	// stored there to the end. Peek() then only has to look at the
	// last element.
	index := rand.Intn(len(s.elements) + 1)
	if index == len(s.elements) {
		s.elements = append(s.elements, value)
	} else {
		s.elements = append(s.elements, s.elements[index])
		s.elements[index] = value
	}
}

func (rrSet[T]) Touch(value T) {}

func (s *rrSet[T]) Peek() T {
	return s.elements[len(s.elements)-1]
}

func (s *rrSet[T]) Remove() {
	var zero T
	s.elements[len(s.elements)-1] = zero
	s.elements = s.elements[:len(s.elements)-1]
}
