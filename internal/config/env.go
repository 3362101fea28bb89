package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultLockTimeout is the fallback lock acquisition timeout (spec §5).
const DefaultLockTimeout = 10 * time.Second

// LockTimeout resolves JIT_LOCK_TIMEOUT (seconds) from the environment,
// falling back to DefaultLockTimeout when unset or unparsable (spec §5,
// §6.6).
func LockTimeout() time.Duration {
	v := os.Getenv("JIT_LOCK_TIMEOUT")
	if v == "" {
		return DefaultLockTimeout
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return DefaultLockTimeout
	}
	return time.Duration(secs * float64(time.Second))
}

// DataDir resolves JIT_DATA_DIR, overriding the data-plane root (spec
// §6.6). Returns "" if unset, leaving the caller to use its own default
// (normally "<worktree-root>/.jit").
func DataDir() string {
	return os.Getenv("JIT_DATA_DIR")
}
