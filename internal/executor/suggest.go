package executor

import (
	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/types"
	"github.com/jitvcs/jit/internal/utils"
)

// gateNotFound builds a GateNotFound error whose remediation suggests the
// closest registered key by edit distance, when one is close enough to be
// plausibly a typo (distance <= 2, the teacher's own threshold for
// "did you mean" suggestions on unknown keys/flags).
func gateNotFound(registry *types.GateRegistry, key string) *jerrors.Error {
	err := jerrors.GateNotFound(key)
	if best, ok := closestKey(registry, key); ok {
		err = err.WithRemediation("did you mean \"" + best + "\"?")
	}
	return err
}

func closestKey(registry *types.GateRegistry, key string) (string, bool) {
	const maxDistance = 2
	best := ""
	bestDist := maxDistance + 1
	for candidate := range registry.Gates {
		d := utils.ComputeDistance(key, candidate)
		if d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	if bestDist > maxDistance {
		return "", false
	}
	return best, true
}
