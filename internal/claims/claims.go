// Package claims is the coordination kernel (spec §4.3): the append-only
// claim-op log, the derived ClaimsIndex, and the full lease lifecycle
// (acquire/renew/release/heartbeat/auto-evict/force-evict). It is
// storage-backend agnostic — it takes a storage.Storage and a
// clock.Source, so the same code runs against jsonstore or memstore,
// and lease-expiry tests can use a clock.Fake to prove P10 without
// sleeping. Grounded on spec §4.3's atomic-acquire protocol and
// rebuild-from-log fold; there is no teacher equivalent (BeadsLog has
// no lease/claim concept), so this package is built directly from
// spec.md rather than adapted from teacher source, using the storage
// capability set and clock split the teacher's surrounding idiom (file
// locks, structured errors, zerolog diagnostics) already establishes
// elsewhere in this tree.
package claims

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/jitvcs/jit/internal/clock"
	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/obslog"
	"github.com/jitvcs/jit/internal/storage"
	"github.com/jitvcs/jit/internal/types"
)

// Policy bounds indefinite-lease issuance (spec §4.3.3, config
// worktree.max_indefinite_leases_per_agent/_per_repo).
type Policy struct {
	MaxIndefiniteLeasesPerAgent int
	MaxIndefiniteLeasesPerRepo  int
	StaleThreshold              time.Duration
}

// DefaultPolicy matches internal/config.Default()'s worktree table.
func DefaultPolicy() Policy {
	return Policy{
		MaxIndefiniteLeasesPerAgent: 5,
		MaxIndefiniteLeasesPerRepo:  50,
		StaleThreshold:              5 * time.Minute,
	}
}

// monoAnchor is the in-process, jump-immune reference for a lease this
// Kernel instance itself last acquired, renewed, or heartbeat. It is
// never persisted to the claims log (spec §4.3.1 reserves wall-clock for
// the audit record), and a monotonic duration is meaningless to any
// process other than the one that read it, so this is a plain in-memory
// cache keyed by lease id rather than something rebuild() can recover
// from disk.
type monoAnchor struct {
	acquiredMono time.Duration
	expiresMono  *time.Duration
	lastBeatMono time.Duration
}

// Kernel is the coordination kernel bound to one storage backend, one
// clock source, and one policy.
type Kernel struct {
	store  storage.Storage
	clock  clock.Source
	policy Policy
	log    zerolog.Logger

	mu   sync.Mutex
	mono map[string]monoAnchor // lease id -> this process's own mono reading
}

// New returns a Kernel bound to store, src, and policy. Pass
// obslog.Nop() for log when no diagnostic output is wanted.
func New(store storage.Storage, src clock.Source, policy Policy, log zerolog.Logger) *Kernel {
	return &Kernel{store: store, clock: src, policy: policy, log: log, mono: make(map[string]monoAnchor)}
}

// NewDefault wires a Kernel with DefaultPolicy and a discarding logger,
// convenient for tests and simple embedders.
func NewDefault(store storage.Storage, src clock.Source) *Kernel {
	return New(store, src, DefaultPolicy(), obslog.Nop())
}

func (k *Kernel) rememberAcquire(leaseID string, nowMono time.Duration, ttlSecs int64) {
	a := monoAnchor{acquiredMono: nowMono, lastBeatMono: nowMono}
	if ttlSecs > 0 {
		exp := nowMono + time.Duration(ttlSecs)*time.Second
		a.expiresMono = &exp
	}
	k.mu.Lock()
	k.mono[leaseID] = a
	k.mu.Unlock()
}

func (k *Kernel) rememberRenew(leaseID string, nowMono time.Duration, newTTLSecs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.mono[leaseID]
	if !ok {
		a = monoAnchor{acquiredMono: nowMono}
	}
	a.lastBeatMono = nowMono
	a.expiresMono = nil
	if newTTLSecs > 0 {
		exp := nowMono + time.Duration(newTTLSecs)*time.Second
		a.expiresMono = &exp
	}
	k.mono[leaseID] = a
}

func (k *Kernel) rememberHeartbeat(leaseID string, nowMono time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.mono[leaseID]
	if !ok {
		a = monoAnchor{acquiredMono: nowMono}
	}
	a.lastBeatMono = nowMono
	k.mono[leaseID] = a
}

func (k *Kernel) forgetMono(leaseID string) {
	k.mu.Lock()
	delete(k.mono, leaseID)
	k.mu.Unlock()
}

// applyMono overlays lease with this Kernel's own cached mono reading for
// its lease id, if any, and reports whether one was found. A miss means
// this Kernel has never itself acquired/renewed/heartbeat this lease —
// it was rebuilt from the on-disk log only — so its mono fields stay
// zero and callers fall back to the wall-clock record.
func (k *Kernel) applyMono(lease *types.Lease) bool {
	k.mu.Lock()
	a, ok := k.mono[lease.LeaseID]
	k.mu.Unlock()
	if !ok {
		return false
	}
	lease.AcquiredAtMono = a.acquiredMono
	lease.LastBeatMono = a.lastBeatMono
	lease.ExpiresAtMono = a.expiresMono
	return true
}

// rebuild folds the persisted op log into a ClaimsIndex (spec §4.3.5).
// Pure and deterministic: calling it twice on the same log yields
// identical output (spec P6), and it never mutates storage itself —
// callers that want lazy eviction realized on disk append the
// auto_evict op themselves (see Acquire). Only the wall-clock fields are
// populated here; Kernel overlays its own mono cache afterward wherever
// it has one (see applyMono).
func rebuild(ops []types.ClaimOp, staleThreshold time.Duration) *types.ClaimsIndex {
	idx := types.NewClaimsIndex()
	for _, op := range ops {
		switch op.Op {
		case types.OpAcquire:
			lease := &types.Lease{
				LeaseID:        op.LeaseID,
				IssueID:        op.IssueID,
				WorktreeID:     op.WorktreeID,
				AgentID:        op.AgentID,
				AcquiredAtWall: op.AcquiredAt,
				TTLSecs:        op.TTLSecs,
				Indefinite:     op.TTLSecs == 0,
				LastBeatWall:   op.LastBeat,
				Reason:         op.Reason,
			}
			if !lease.Indefinite && op.ExpiresAt != nil {
				exp := *op.ExpiresAt
				lease.ExpiresAtWall = &exp
			}
			idx.ByIssue[op.IssueID] = lease
		case types.OpRenew:
			if lease, ok := idx.ByIssue[op.IssueID]; ok && lease.LeaseID == op.LeaseID {
				lease.TTLSecs = op.TTLSecs
				lease.Indefinite = op.TTLSecs == 0
				if lease.Indefinite {
					lease.ExpiresAtWall = nil
				} else if op.ExpiresAt != nil {
					exp := *op.ExpiresAt
					lease.ExpiresAtWall = &exp
				}
			}
		case types.OpHeartbeat:
			if lease, ok := idx.ByIssue[op.IssueID]; ok && lease.LeaseID == op.LeaseID {
				lease.LastBeatWall = op.LastBeat
				lease.Stale = false
			}
		case types.OpRelease, types.OpAutoEvict, types.OpForceEvict:
			if lease, ok := idx.ByIssue[op.IssueID]; ok && lease.LeaseID == op.LeaseID {
				delete(idx.ByIssue, op.IssueID)
			}
		}
	}

	return idx
}

// Index rebuilds and returns the current ClaimsIndex, overlays this
// Kernel's own mono cache onto every lease it recognizes, and marks
// stale any indefinite lease whose heartbeat gap exceeds the policy's
// stale threshold — measured on mono duration when this Kernel itself
// holds a reading for that lease, wall-clock duration otherwise (spec
// §4.3.1). Finite leases past expiry are NOT dropped here (spec §4.3.2:
// "realized lazily at the next acquire on the same issue"); Index only
// reports the logical state, it does not itself evict.
func (k *Kernel) Index(ctx context.Context, nowWall time.Time, nowMono time.Duration) (*types.ClaimsIndex, error) {
	ops, err := k.store.ClaimLogAll(ctx)
	if err != nil {
		return nil, err
	}
	idx := rebuild(ops, k.policy.StaleThreshold)
	for _, lease := range idx.ByIssue {
		hasMono := k.applyMono(lease)
		if !lease.Indefinite {
			continue
		}
		var gap time.Duration
		if hasMono {
			gap = nowMono - lease.LastBeatMono
		} else {
			gap = nowWall.Sub(lease.LastBeatWall)
		}
		if gap > k.policy.StaleThreshold {
			lease.Stale = true
		}
	}
	return idx, nil
}

// IsExpired reports whether lease's finite TTL has passed (spec §4.3.2).
// Indefinite leases are never expired. Decided from the monotonic
// reading whenever lease carries one (spec §4.3.1: "never compare
// wall-clock times to decide expiry") — Acquire and Renew populate
// ExpiresAtMono from this process's own clock.Source, so a repeat check
// against the same Kernel instance for a lease it acquired or renewed
// never falls back to wall-clock arithmetic. A lease rebuilt fresh from the on-disk log with no mono
// reading yet (a different process's acquire, or this process's first
// read after restart) falls back to the persisted wall-clock expiry —
// the one case the clock split cannot eliminate, since a monotonic
// reading is meaningless once the process that took it has exited.
// Exported for internal/executor's validate --leases consistency check.
func IsExpired(lease *types.Lease, nowWall time.Time, nowMono time.Duration) bool {
	if lease.Indefinite {
		return false
	}
	if lease.ExpiresAtMono != nil {
		return nowMono >= *lease.ExpiresAtMono
	}
	if lease.ExpiresAtWall == nil {
		return false
	}
	return !nowWall.Before(*lease.ExpiresAtWall)
}

// AcquireRequest names who is asking and on what terms (spec §4.3.3).
type AcquireRequest struct {
	IssueID    string
	AgentID    string
	WorktreeID string
	TTLSecs    int64
	Reason     string
}

// Acquire implements spec §4.3.3's atomic acquire protocol: the whole
// rebuild -> check-existing -> (auto-evict) -> append sequence runs
// inside a single storage.Storage.WithClaimsLock call, so it executes as
// one critical section under the control-plane claims.lock rather than
// as a shared-lock read followed by a separately-locked append. That
// earlier shape left a window between the read and the append in which
// two concurrent callers could both observe no active lease and both
// append an acquire op for the same issue (spec P4, boundary scenario
// 3); holding the lock across the whole decision closes it.
func (k *Kernel) Acquire(ctx context.Context, req AcquireRequest) (*types.Lease, error) {
	if req.TTLSecs == 0 && req.Reason == "" {
		return nil, jerrors.InvalidArgument("reason", "indefinite leases (ttl_secs=0) require a reason")
	}

	nowWall, nowMono := k.clock.Now()
	var lease *types.Lease
	var evicted *types.Lease

	err := k.store.WithClaimsLock(ctx, func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error {
		idx := rebuild(ops, k.policy.StaleThreshold)
		for _, l := range idx.ByIssue {
			k.applyMono(l)
		}

		if existing, ok := idx.Get(req.IssueID); ok {
			if IsExpired(existing, nowWall, nowMono) {
				if _, err := appendOp(types.ClaimOp{
					Op:         types.OpAutoEvict,
					LeaseID:    existing.LeaseID,
					IssueID:    existing.IssueID,
					WorktreeID: existing.WorktreeID,
					AgentID:    existing.AgentID,
					AcquiredAt: nowWall,
					LastBeat:   nowWall,
					Reason:     "expired",
				}); err != nil {
					return err
				}
				evicted = existing
				delete(idx.ByIssue, req.IssueID)
			} else {
				var expires string
				if existing.ExpiresAtWall != nil {
					expires = humanize.Time(*existing.ExpiresAtWall)
				} else if existing.Indefinite {
					expires = "indefinitely"
				}
				return jerrors.AlreadyClaimed(existing.AgentID, expires)
			}
		}

		if req.TTLSecs == 0 {
			if idx.CountIndefiniteFor(req.AgentID) >= k.policy.MaxIndefiniteLeasesPerAgent {
				return jerrors.PolicyViolation("agent has reached max_indefinite_leases_per_agent")
			}
			if idx.CountIndefinite() >= k.policy.MaxIndefiniteLeasesPerRepo {
				return jerrors.PolicyViolation("repository has reached max_indefinite_leases_per_repo")
			}
		}

		leaseID := types.NewID()
		op := types.ClaimOp{
			Op:         types.OpAcquire,
			LeaseID:    leaseID,
			IssueID:    req.IssueID,
			WorktreeID: req.WorktreeID,
			AgentID:    req.AgentID,
			TTLSecs:    req.TTLSecs,
			AcquiredAt: nowWall,
			LastBeat:   nowWall,
			Reason:     req.Reason,
		}
		if req.TTLSecs > 0 {
			exp := nowWall.Add(time.Duration(req.TTLSecs) * time.Second)
			op.ExpiresAt = &exp
		}

		recorded, err := appendOp(op)
		if err != nil {
			return err
		}
		lease = opToLease(recorded)
		idx.ByIssue[req.IssueID] = lease
		_ = k.store.ClaimsIndexSave(ctx, idx)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if evicted != nil {
		k.forgetMono(evicted.LeaseID)
		k.log.Info().Str("issue_id", evicted.IssueID).Str("lease_id", evicted.LeaseID).Msg("claims: auto-evicted expired lease")
	}
	k.rememberAcquire(lease.LeaseID, nowMono, req.TTLSecs)
	k.applyMono(lease)
	k.log.Info().Str("issue_id", req.IssueID).Str("lease_id", lease.LeaseID).Str("agent_id", req.AgentID).Msg("claims: acquired")
	return lease, nil
}

func opToLease(op types.ClaimOp) *types.Lease {
	lease := &types.Lease{
		LeaseID:        op.LeaseID,
		IssueID:        op.IssueID,
		WorktreeID:     op.WorktreeID,
		AgentID:        op.AgentID,
		AcquiredAtWall: op.AcquiredAt,
		TTLSecs:        op.TTLSecs,
		Indefinite:     op.TTLSecs == 0,
		LastBeatWall:   op.LastBeat,
		Reason:         op.Reason,
	}
	if op.ExpiresAt != nil {
		exp := *op.ExpiresAt
		lease.ExpiresAtWall = &exp
	}
	return lease
}

// findInIndex returns the active lease with the given id out of an
// already-built index, if any (spec §3.4).
func findInIndex(idx *types.ClaimsIndex, leaseID string) (*types.Lease, bool) {
	for _, lease := range idx.ByIssue {
		if lease.LeaseID == leaseID {
			return lease, true
		}
	}
	return nil, false
}

// Renew extends (or, for an indefinite lease, confirms) a lease held by
// (agentID, worktreeID) (spec §4.3.4). Runs under the claims lock so the
// ownership check and the append happen against the same log state.
func (k *Kernel) Renew(ctx context.Context, leaseID, agentID, worktreeID string, newTTLSecs int64) (*types.Lease, error) {
	nowWall, nowMono := k.clock.Now()
	var lease *types.Lease

	err := k.store.WithClaimsLock(ctx, func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error {
		idx := rebuild(ops, k.policy.StaleThreshold)
		found, ok := findInIndex(idx, leaseID)
		if !ok {
			return jerrors.LeaseNotFound(leaseID)
		}
		if !found.Owner(agentID, worktreeID) {
			return jerrors.NotOwner(found.AgentID, agentID)
		}

		op := types.ClaimOp{
			Op:         types.OpRenew,
			LeaseID:    leaseID,
			IssueID:    found.IssueID,
			WorktreeID: worktreeID,
			AgentID:    agentID,
			TTLSecs:    newTTLSecs,
			AcquiredAt: found.AcquiredAtWall,
			LastBeat:   nowWall,
		}
		if newTTLSecs > 0 {
			exp := nowWall.Add(time.Duration(newTTLSecs) * time.Second)
			op.ExpiresAt = &exp
		}
		if _, err := appendOp(op); err != nil {
			return err
		}

		found.TTLSecs = newTTLSecs
		found.Indefinite = newTTLSecs == 0
		if found.Indefinite {
			found.ExpiresAtWall = nil
		} else {
			exp := nowWall.Add(time.Duration(newTTLSecs) * time.Second)
			found.ExpiresAtWall = &exp
		}
		lease = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	k.rememberRenew(leaseID, nowMono, newTTLSecs)
	k.applyMono(lease)
	return lease, nil
}

// Release terminates a lease held by (agentID, worktreeID) (spec
// §4.3.4).
func (k *Kernel) Release(ctx context.Context, leaseID, agentID, worktreeID string) error {
	nowWall, _ := k.clock.Now()

	err := k.store.WithClaimsLock(ctx, func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error {
		idx := rebuild(ops, k.policy.StaleThreshold)
		found, ok := findInIndex(idx, leaseID)
		if !ok {
			return jerrors.LeaseNotFound(leaseID)
		}
		if !found.Owner(agentID, worktreeID) {
			return jerrors.NotOwner(found.AgentID, agentID)
		}
		_, err := appendOp(types.ClaimOp{
			Op:         types.OpRelease,
			LeaseID:    leaseID,
			IssueID:    found.IssueID,
			WorktreeID: worktreeID,
			AgentID:    agentID,
			AcquiredAt: found.AcquiredAtWall,
			LastBeat:   nowWall,
		})
		return err
	})
	if err != nil {
		return err
	}
	k.forgetMono(leaseID)
	return nil
}

// Heartbeat bumps last_beat for a lease held by (agentID, worktreeID),
// clearing staleness for indefinite leases (spec §4.3.4).
func (k *Kernel) Heartbeat(ctx context.Context, leaseID, agentID, worktreeID string) (*types.Lease, error) {
	nowWall, nowMono := k.clock.Now()
	var lease *types.Lease

	err := k.store.WithClaimsLock(ctx, func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error {
		idx := rebuild(ops, k.policy.StaleThreshold)
		found, ok := findInIndex(idx, leaseID)
		if !ok {
			return jerrors.LeaseNotFound(leaseID)
		}
		if !found.Owner(agentID, worktreeID) {
			return jerrors.NotOwner(found.AgentID, agentID)
		}
		_, err := appendOp(types.ClaimOp{
			Op:         types.OpHeartbeat,
			LeaseID:    leaseID,
			IssueID:    found.IssueID,
			WorktreeID: worktreeID,
			AgentID:    agentID,
			TTLSecs:    found.TTLSecs,
			AcquiredAt: found.AcquiredAtWall,
			LastBeat:   nowWall,
		})
		if err != nil {
			return err
		}
		found.LastBeatWall = nowWall
		found.Stale = false
		lease = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	k.rememberHeartbeat(leaseID, nowMono)
	k.applyMono(lease)
	return lease, nil
}

// ForceEvict terminates any lease, owner or not, given a mandatory
// reason (spec §4.3.4: operator intervention on crashed agents).
func (k *Kernel) ForceEvict(ctx context.Context, leaseID, reason string) error {
	if reason == "" {
		return jerrors.InvalidArgument("reason", "force_evict requires a reason")
	}
	nowWall, _ := k.clock.Now()

	err := k.store.WithClaimsLock(ctx, func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error {
		idx := rebuild(ops, k.policy.StaleThreshold)
		found, ok := findInIndex(idx, leaseID)
		if !ok {
			return jerrors.LeaseNotFound(leaseID)
		}
		_, err := appendOp(types.ClaimOp{
			Op:         types.OpForceEvict,
			LeaseID:    leaseID,
			IssueID:    found.IssueID,
			WorktreeID: found.WorktreeID,
			AgentID:    found.AgentID,
			AcquiredAt: found.AcquiredAtWall,
			LastBeat:   nowWall,
			Reason:     reason,
		})
		if err == nil {
			k.log.Warn().Str("issue_id", found.IssueID).Str("lease_id", leaseID).Str("reason", reason).Msg("claims: force-evicted")
		}
		return err
	})
	if err != nil {
		return err
	}
	k.forgetMono(leaseID)
	return nil
}

// ActiveFor returns the active lease for issueID, if any, without
// requiring ownership (used by the executor's enforcement check, spec
// §4.4).
func (k *Kernel) ActiveFor(ctx context.Context, issueID string) (*types.Lease, bool, error) {
	nowWall, nowMono := k.clock.Now()
	idx, err := k.Index(ctx, nowWall, nowMono)
	if err != nil {
		return nil, false, err
	}
	lease, ok := idx.Get(issueID)
	if !ok {
		return nil, false, nil
	}
	if IsExpired(lease, nowWall, nowMono) {
		return nil, false, nil
	}
	return lease, true, nil
}
