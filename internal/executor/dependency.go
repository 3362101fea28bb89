package executor

import (
	"context"

	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/types"
	"github.com/jitvcs/jit/internal/validation"
)

// AddDependency adds a dependency edge from->to, cycle-checking before
// writing and enforcing a lease on from (spec §4.5). If the new edge
// invalidates I2 for an issue currently in ready, it is moved back to
// backlog and the change is logged.
func (x *Executor) AddDependency(ctx context.Context, caller Caller, from, to string) error {
	fromIssue, err := x.store.LoadIssue(ctx, from)
	if err != nil {
		return err
	}
	if err := validation.Exists(from)(fromIssue); err != nil {
		return err
	}
	if _, err := x.store.LoadIssue(ctx, to); err != nil {
		return jerrors.BrokenDependency([]string{to})
	}
	if err := x.enforce(ctx, fromIssue.ID, caller); err != nil {
		return err
	}
	if fromIssue.HasDependency(to) {
		return nil
	}

	g, _, err := x.buildGraph(ctx)
	if err != nil {
		return err
	}
	if hasCycle, chain := g.HasCycleAfter(fromIssue.ID, to); hasCycle {
		return jerrors.Cycle(chain)
	}

	fromIssue.Dependencies = append(fromIssue.Dependencies, to)
	wall, _ := x.clock.Now()
	fromIssue.UpdatedAt = wall

	demoted := false
	if fromIssue.State == types.StateReady {
		resolve, err := x.resolver(ctx)
		if err != nil {
			return err
		}
		if !validation.IsReady(fromIssue, resolve) {
			fromIssue.State = types.StateBacklog
			demoted = true
		}
	}

	if err := x.store.SaveIssue(ctx, fromIssue); err != nil {
		return err
	}
	x.appendEvent(ctx, types.EventDependencyAdded, fromIssue.ID, types.DependencyPayload{DependsOn: to})
	if demoted {
		x.appendEvent(ctx, types.EventIssueStateChanged, fromIssue.ID, types.StateChangedPayload{
			From: types.StateReady, To: types.StateBacklog, Reason: "dependency added invalidated readiness",
		})
	}
	return nil
}

// RemoveDependency removes a dependency edge from->to, enforcing a lease
// on from (spec §4.5). Removing an edge can only help I2, never hurt it,
// so the only re-transition check here is the promotion direction: if
// from is in backlog and now satisfies I2, it is moved to ready and the
// change is logged.
func (x *Executor) RemoveDependency(ctx context.Context, caller Caller, from, to string) error {
	fromIssue, err := x.store.LoadIssue(ctx, from)
	if err != nil {
		return err
	}
	if err := validation.Exists(from)(fromIssue); err != nil {
		return err
	}
	if err := x.enforce(ctx, fromIssue.ID, caller); err != nil {
		return err
	}
	if !fromIssue.HasDependency(to) {
		return nil
	}

	out := fromIssue.Dependencies[:0]
	for _, dep := range fromIssue.Dependencies {
		if dep != to {
			out = append(out, dep)
		}
	}
	fromIssue.Dependencies = out
	wall, _ := x.clock.Now()
	fromIssue.UpdatedAt = wall

	if err := x.store.SaveIssue(ctx, fromIssue); err != nil {
		return err
	}
	x.appendEvent(ctx, types.EventDependencyRemoved, fromIssue.ID, types.DependencyPayload{DependsOn: to})

	if fromIssue.State == types.StateBacklog {
		resolve, err := x.resolver(ctx)
		if err != nil {
			return err
		}
		if validation.IsReady(fromIssue, resolve) {
			fromIssue.State = types.StateReady
			if err := x.store.SaveIssue(ctx, fromIssue); err != nil {
				return err
			}
			x.appendEvent(ctx, types.EventIssueStateChanged, fromIssue.ID, types.StateChangedPayload{
				From: types.StateBacklog, To: types.StateReady, Reason: "dependency removed satisfied readiness",
			})
		}
	}
	return nil
}
