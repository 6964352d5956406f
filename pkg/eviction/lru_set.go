package eviction

type lruElement[T comparable] struct {
	older *lruElement[T]
	newer *lruElement[T]
	value T
}

func (e *lruElement[T]) unlink() {
	e.older.newer = e.newer
	e.newer.older = e.older
	e.older = nil
	e.newer = nil
}

type lruSet[T comparable] struct {
	// Sentinel of a circular list. head.newer is the least
	// recently used element.
	head     lruElement[T]
	elements map[T]*lruElement[T]
}

// NewLRUSet creates a Set that implements the Least Recently Used
// (LRU) policy.
func NewLRUSet[T comparable]() Set[T] {
	s := &lruSet[T]{
		elements: map[T]*lruElement[T]{},
	}
	s.head.older = &s.head
	s.head.newer = &s.head
	return s
}

func (s *lruSet[T]) link(e *lruElement[T]) {
	e.older = s.head.older
	e.newer = &s.head
	e.older.newer = e
	e.newer.older = e
}

func (s *lruSet[T]) Insert(value T) {
	if _, ok := s.elements[value]; ok {
		panic("Value is already present in the LRU set")
	}
	e := &lruElement[T]{value: value}
	s.link(e)
	s.elements[value] = e
}

func (s *lruSet[T]) Touch(value T) {
	e := s.elements[value]
	e.unlink()
	s.link(e)
}

func (s *lruSet[T]) Peek() T {
	return s.head.newer.value
}

func (s *lruSet[T]) Remove() {
	e := s.head.newer
	e.unlink()
	delete(s.elements, e.value)
}
