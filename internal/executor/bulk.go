package executor

import (
	"context"

	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/query"
	"github.com/jitvcs/jit/internal/types"
	"github.com/jitvcs/jit/internal/validation"
)

// BulkResult reports the outcome of a bulk_update call: every issue the
// filter selected, the subset actually written, and a per-issue failure
// message for the rest (spec §4.5: "independent atomicity, best-effort
// semantics... partial failures are enumerated in the result").
type BulkResult struct {
	Selected []string
	Applied  []string
	Failures map[string]string
}

// BulkUpdate selects issues with a boolean query and applies patch to
// each independently (spec §4.5). Field validation (label format,
// priority validity) runs over every selected issue before any writes;
// a single invalid field fails the whole operation. State transitions
// are literal: no auto-gate execution and no automatic ->gated
// redirect, only the I2/I3 dependency-and-gate preconditions are
// checked per issue.
func (x *Executor) BulkUpdate(ctx context.Context, caller Caller, filter query.Expr, patch UpdatePatch) (*BulkResult, error) {
	issues, err := x.store.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	resolve, err := x.resolver(ctx)
	if err != nil {
		return nil, err
	}

	var selected []*types.Issue
	if filter == nil {
		selected = issues
	} else {
		qctx := query.Context{Resolve: resolve}
		for _, issue := range issues {
			if filter.Eval(issue, qctx) {
				selected = append(selected, issue)
			}
		}
	}

	result := &BulkResult{Failures: map[string]string{}}
	for _, issue := range selected {
		result.Selected = append(result.Selected, issue.ID)
	}

	// Pre-validate every field change before any write (spec §4.5:
	// "invalid fields fail the whole operation before any writes").
	for _, issue := range selected {
		if patch.Priority != nil && !patch.Priority.IsValid() {
			return nil, jerrors.InvalidArgument("priority", "must be one of critical, high, normal, low")
		}
		for _, label := range patch.AddLabels {
			if err := validation.Label(x.cfg, issue, label); err != nil {
				return nil, err
			}
		}
		if patch.State != nil && !patch.State.IsValid() {
			return nil, jerrors.InvalidArgument("state", "not a recognized state")
		}
	}

	for _, issue := range selected {
		if err := x.applyBulkOne(ctx, caller, issue, patch, resolve); err != nil {
			result.Failures[issue.ID] = err.Error()
			continue
		}
		result.Applied = append(result.Applied, issue.ID)
	}
	return result, nil
}

func (x *Executor) applyBulkOne(ctx context.Context, caller Caller, issue *types.Issue, patch UpdatePatch, resolve func(string) (types.State, bool)) error {
	if err := x.enforce(ctx, issue.ID, caller); err != nil {
		return err
	}

	changed := false
	if patch.Priority != nil {
		issue.Priority = *patch.Priority
		changed = true
	}
	if patch.Assignee != nil {
		issue.Assignee = *patch.Assignee
		changed = true
	}
	if patch.Description != nil {
		issue.Description = *patch.Description
		changed = true
	}
	for _, label := range patch.RemoveLabels {
		issue.Labels = removeString(issue.Labels, label)
		changed = true
	}
	for _, label := range patch.AddLabels {
		if !issue.HasLabel(label) {
			issue.Labels = append(issue.Labels, label)
			changed = true
		}
	}

	if patch.State != nil {
		from := issue.State
		target := *patch.State
		if from != target {
			if from.IsTerminal() {
				return jerrors.InvalidArgument("state", "issue is terminal")
			}
			switch target {
			case types.StateReady:
				if !validation.IsReady(issue, resolve) {
					return jerrors.InvalidArgument("state", "I2 not satisfied: unresolved dependency or precheck")
				}
			case types.StateDone:
				if !validation.DepsSatisfied(issue, resolve) || !validation.PostchecksPassed(issue) {
					return jerrors.InvalidArgument("state", "I3 not satisfied: unresolved dependency or postcheck")
				}
			}
			issue.State = target
			changed = true
		}
	}

	if !changed {
		return nil
	}
	wall, _ := x.clock.Now()
	issue.UpdatedAt = wall
	if err := x.store.SaveIssue(ctx, issue); err != nil {
		return err
	}
	x.appendEvent(ctx, types.EventIssueUpdated, issue.ID, map[string]any{"bulk": true})
	return nil
}
