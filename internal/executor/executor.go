// Package executor is the transactional core (spec §4.5): every public
// operation is one logical transaction that validates, writes, appends
// an event, and returns — never leaving partial state on an error.
// Grounded on the teacher's validator-chain idiom
// (internal/validation/issue.go's Chain(...) composition), generalized
// from CLI-facing validators to the precondition checks spec §3.1's
// invariants and §4.5's transition table require.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jitvcs/jit/internal/claims"
	"github.com/jitvcs/jit/internal/clock"
	"github.com/jitvcs/jit/internal/config"
	"github.com/jitvcs/jit/internal/gitplane"
	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/obslog"
	"github.com/jitvcs/jit/internal/storage"
	"github.com/jitvcs/jit/internal/types"
)

// Caller identifies who is invoking a structural write, for enforcement
// (spec §4.4) and for ownership on claim operations.
type Caller struct {
	AgentID    string
	WorktreeID string
}

// Executor binds the storage backend, the claims kernel, and the
// resolved configuration into the single transactional surface every
// other package in this module's callers (a CLI, an HTTP handler, a
// dispatcher) drives.
type Executor struct {
	store  storage.Storage
	claims *claims.Kernel
	cfg    config.Config
	clock  clock.Source
	log    zerolog.Logger
	git    *gitplane.Plane
}

// New returns an Executor. Pass obslog.Nop() for log when no diagnostic
// output is wanted.
func New(store storage.Storage, kernel *claims.Kernel, cfg config.Config, src clock.Source, log zerolog.Logger) *Executor {
	return &Executor{store: store, claims: kernel, cfg: cfg, clock: src, log: log}
}

// NewDefault wires an Executor with a default claims.Kernel and a
// discarding logger, convenient for tests and simple embedders.
func NewDefault(store storage.Storage, src clock.Source, cfg config.Config) *Executor {
	return New(store, claims.New(store, src, claims.Policy{
		MaxIndefiniteLeasesPerAgent: cfg.Worktree.MaxIndefiniteLeasesPerAgent,
		MaxIndefiniteLeasesPerRepo:  cfg.Worktree.MaxIndefiniteLeasesPerRepo,
		StaleThreshold:              time.Duration(cfg.Worktree.StaleThresholdSecs) * time.Second,
	}, obslog.Nop()), cfg, src, obslog.Nop())
}

// WithGitPlane attaches a gitplane.Plane for the validate(--divergence)
// check, returning x for chaining. Optional: callers that never request
// --divergence never need to call this.
func (x *Executor) WithGitPlane(p *gitplane.Plane) *Executor {
	x.git = p
	return x
}

// enforce implements spec §4.4: structural writes to an existing issue
// check the calling (agent_id, worktree_id) against the issue's active
// lease, according to worktree.enforce_leases.
func (x *Executor) enforce(ctx context.Context, issueID string, caller Caller) error {
	mode := x.cfg.Worktree.EnforceLeases
	if mode == config.EnforceOff {
		return nil
	}

	lease, ok, err := x.claims.ActiveFor(ctx, issueID)
	if err != nil {
		return err
	}
	if ok && lease.Owner(caller.AgentID, caller.WorktreeID) {
		return nil
	}

	if mode == config.EnforceWarn {
		x.log.Warn().Str("issue_id", issueID).Str("agent_id", caller.AgentID).Msg("executor: structural write without an active lease (enforce_leases=warn)")
		return nil
	}
	return jerrors.LeaseRequired(issueID)
}

func (x *Executor) appendEvent(ctx context.Context, typ types.EventType, issueID string, payload any) {
	wall, _ := x.clock.Now()
	event, err := types.WithPayload(typ, issueID, wall, payload)
	if err != nil {
		x.log.Error().Err(err).Str("issue_id", issueID).Msg("executor: failed to build event payload")
		return
	}
	if err := x.store.AppendEvent(ctx, event); err != nil {
		x.log.Error().Err(err).Str("issue_id", issueID).Msg("executor: failed to append event")
	}
}

// resolver returns the dependency-state lookup closure internal/validation
// and internal/query's Context both take, backed by a single ListIssues
// call (callers that need many lookups in one transaction should build
// this once and reuse it rather than calling resolver per-dependency).
func (x *Executor) resolver(ctx context.Context) (func(id string) (types.State, bool), error) {
	issues, err := x.store.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.State, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue.State
	}
	return func(id string) (types.State, bool) {
		st, ok := byID[id]
		return st, ok
	}, nil
}
