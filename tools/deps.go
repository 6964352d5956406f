//go:build tools

package tools

import (
	// Used by //internal/mock.
	_ "go.uber.org/mock/mockgen"
)
