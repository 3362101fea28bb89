// Package storage defines the capability set every storage backend must
// provide (spec §4.1): load/save/list issues, append events, load/save
// the gate registry, advisory file locks, and the claims log primitives
// the coordination kernel builds on. Two backends implement it:
// internal/storage/jsonstore (the real two-file-tree backend) and
// internal/storage/memstore (in-memory, for tests and embedders that
// want a throwaway sandbox) — spec §9's "dynamic dispatch for storage
// backends" design note made concrete. Grounded on the teacher's
// internal/storage/storage.go: a single Storage interface covering every
// capability, generalized from a SQLite-specific surface to this spec's
// two-plane, lock-based one.
package storage

import (
	"context"

	"github.com/jitvcs/jit/internal/types"
)

// Storage is the full capability set described in spec §4.1.
type Storage interface {
	// Issues (data plane)
	LoadIssue(ctx context.Context, idOrPrefix string) (*types.Issue, error)
	SaveIssue(ctx context.Context, issue *types.Issue) error
	DeleteIssue(ctx context.Context, id string) error
	ListIssues(ctx context.Context) ([]*types.Issue, error)

	// Events (data plane)
	AppendEvent(ctx context.Context, event types.Event) error
	ListEvents(ctx context.Context, issueID string, limit int) ([]types.Event, error)

	// Gate registry (data plane)
	LoadGates(ctx context.Context) (*types.GateRegistry, error)
	SaveGates(ctx context.Context, reg *types.GateRegistry) error

	// Claims log (control plane)
	ClaimLogAppend(ctx context.Context, op types.ClaimOp) (types.ClaimOp, error)
	ClaimLogAll(ctx context.Context) ([]types.ClaimOp, error)
	// WithClaimsLock holds the claims-log's exclusive lock for fn's
	// entire duration and hands fn the log as of that moment plus an
	// appendOp closure that appends under the same lock hold, so a
	// caller can run rebuild -> decide -> append as one critical
	// section (spec §4.3.3) instead of two separately-locked calls.
	WithClaimsLock(ctx context.Context, fn func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error) error

	// ClaimsIndexLoad returns the cached derived index if the backend
	// keeps one, and whether it found one; callers fall back to
	// rebuilding from ClaimLogAll when ok is false.
	ClaimsIndexLoad(ctx context.Context) (*types.ClaimsIndex, bool, error)
	// ClaimsIndexSave persists a derived index snapshot, purely as an
	// optimization — correctness never depends on this being called.
	ClaimsIndexSave(ctx context.Context, idx *types.ClaimsIndex) error
}

// ResolvePrefix implements the shared "case-insensitive prefix of >=4
// characters" resolution rule from spec §3.1 against a concrete id list,
// so every backend gets identical NotFound/AmbiguousPrefix behavior.
func ResolvePrefix(ids []string, idOrPrefix string) (string, error) {
	for _, id := range ids {
		if id == idOrPrefix {
			return id, nil
		}
	}

	if len(idOrPrefix) < types.MinPrefixLen {
		return "", nil
	}

	var matches []string
	for _, id := range ids {
		if types.MatchesPrefix(id, idOrPrefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousPrefixError{Prefix: idOrPrefix, Candidates: matches}
	}
}

// AmbiguousPrefixError signals that a prefix matched more than one id.
// The storage backends return it to their callers unchanged.
type AmbiguousPrefixError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousPrefixError) Error() string {
	return "ambiguous prefix: " + e.Prefix
}
