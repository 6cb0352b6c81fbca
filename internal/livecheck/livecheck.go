// Package livecheck holds the one process-wide flag this module defines
// outside of the DSL's inference-variable state: whether execution paths
// should no-op and return placeholders instead of touching a backend.
// It is read from the environment exactly once.
package livecheck

import (
	"os"
	"sync"
)

var (
	once    sync.Once
	enabled bool
)

// Enabled reports whether LIVECHECK mode is active: the environment
// variable LIVECHECK is set to anything other than unset, empty, or "0".
func Enabled() bool {
	once.Do(func() {
		v := os.Getenv("LIVECHECK")
		enabled = v != "" && v != "0"
	})
	return enabled
}
