package util

import (
	"github.com/google/uuid"
)

// UUIDGenerator has the signature of uuid.NewRandom(). It is used to
// assign identifiers to requests that arrive without one, and can be
// replaced by a deterministic generator in tests.
type UUIDGenerator func() (uuid.UUID, error)

var _ UUIDGenerator = uuid.NewRandom
