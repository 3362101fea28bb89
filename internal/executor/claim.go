package executor

import (
	"context"

	"github.com/jitvcs/jit/internal/claims"
	"github.com/jitvcs/jit/internal/query"
	"github.com/jitvcs/jit/internal/types"
)

// ClaimIssue is the claim_issue shorthand (spec §4.5): acquires a lease
// via the coordination kernel, sets assignee on the issue, and logs
// issue_claimed. Atomic from the caller's perspective — if the lease
// acquisition fails, no issue mutation happens.
func (x *Executor) ClaimIssue(ctx context.Context, issueID string, caller Caller, ttlSecs int64, reason string) (*types.Lease, error) {
	issue, err := x.store.LoadIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	lease, err := x.claims.Acquire(ctx, claims.AcquireRequest{
		IssueID: issue.ID, AgentID: caller.AgentID, WorktreeID: caller.WorktreeID,
		TTLSecs: ttlSecs, Reason: reason,
	})
	if err != nil {
		return nil, err
	}

	issue.Assignee = "agent:" + caller.AgentID
	wall, _ := x.clock.Now()
	issue.UpdatedAt = wall
	if err := x.store.SaveIssue(ctx, issue); err != nil {
		return nil, err
	}
	x.appendEvent(ctx, types.EventIssueClaimed, issue.ID, types.ClaimPayload{
		LeaseID: lease.LeaseID, AgentID: caller.AgentID, Reason: reason,
	})
	return lease, nil
}

// ReleaseIssue releases the lease held by caller on issueID and clears
// the issue's assignee (the informational mirror of spec §3.1 I5).
func (x *Executor) ReleaseIssue(ctx context.Context, issueID, leaseID string, caller Caller) error {
	if err := x.claims.Release(ctx, leaseID, caller.AgentID, caller.WorktreeID); err != nil {
		return err
	}
	issue, err := x.store.LoadIssue(ctx, issueID)
	if err != nil {
		return err
	}
	issue.Assignee = ""
	wall, _ := x.clock.Now()
	issue.UpdatedAt = wall
	if err := x.store.SaveIssue(ctx, issue); err != nil {
		return err
	}
	x.appendEvent(ctx, types.EventIssueReleased, issue.ID, types.ClaimPayload{LeaseID: leaseID, AgentID: caller.AgentID})
	return nil
}

// ClaimNext implements spec §4.5's claim_next: queries ready issues in
// priority order (ties broken by created_at ascending), optionally
// narrowed by filter, and attempts to claim each in turn, returning the
// first successful claim. Returns ok=false if none could be claimed
// (every ready issue was claimed out from under the caller by another
// worktree, or none matched filter).
func (x *Executor) ClaimNext(ctx context.Context, caller Caller, ttlSecs int64, reason string, filter query.Expr) (*types.Issue, *types.Lease, bool, error) {
	issues, err := x.store.ListIssues(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	resolve, err := x.resolver(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	candidates := query.Available(issues)
	if filter != nil {
		qctx := query.Context{Resolve: resolve}
		var filtered []*types.Issue
		for _, issue := range candidates {
			if filter.Eval(issue, qctx) {
				filtered = append(filtered, issue)
			}
		}
		candidates = filtered
	}

	for _, candidate := range candidates {
		lease, err := x.ClaimIssue(ctx, candidate.ID, caller, ttlSecs, reason)
		if err == nil {
			return candidate, lease, true, nil
		}
		// AlreadyClaimed means another worktree won the race on this
		// particular issue; move on to the next candidate rather than
		// failing the whole operation.
		if jerr, ok := asJErr(err); !ok || jerr.Code != "AlreadyClaimed" {
			return nil, nil, false, err
		}
	}
	return nil, nil, false, nil
}
