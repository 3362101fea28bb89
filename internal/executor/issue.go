package executor

import (
	"context"
	"sort"

	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/types"
	"github.com/jitvcs/jit/internal/validation"
)

// CreateIssueRequest is the create_issue argument set (spec §4.5).
type CreateIssueRequest struct {
	Title         string
	Description   string
	Priority      types.Priority
	Labels        []string
	GatesRequired []types.GateRef
	Dependencies  []string
}

// CreateIssue creates a new issue in backlog, auto-transitioning it to
// ready immediately if I2 already holds (spec §4.5). Creation requires
// no lease: new ids cannot conflict with an existing lease (spec §4.4).
func (x *Executor) CreateIssue(ctx context.Context, req CreateIssueRequest) (*types.Issue, error) {
	if req.Title == "" {
		return nil, jerrors.InvalidArgument("title", "must not be empty")
	}
	priority := req.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	if !priority.IsValid() {
		return nil, jerrors.InvalidArgument("priority", "must be one of critical, high, normal, low")
	}

	issue := &types.Issue{
		ID:            types.NewID(),
		Title:         req.Title,
		Description:   req.Description,
		Priority:      priority,
		State:         types.StateBacklog,
		Dependencies:  append([]string(nil), req.Dependencies...),
		GatesRequired: append([]types.GateRef(nil), req.GatesRequired...),
		GatesStatus:   map[string]types.GateStatus{},
	}
	wall, _ := x.clock.Now()
	issue.CreatedAt = wall
	issue.UpdatedAt = wall

	for _, label := range req.Labels {
		if err := validation.Label(x.cfg, issue, label); err != nil {
			return nil, err
		}
		issue.Labels = append(issue.Labels, label)
	}

	registry, err := x.store.LoadGates(ctx)
	if err != nil {
		return nil, err
	}
	for _, ref := range issue.GatesRequired {
		if _, ok := registry.Lookup(ref.Key); !ok {
			return nil, gateNotFound(registry, ref.Key)
		}
	}

	g, byID, err := x.buildGraph(ctx)
	if err != nil {
		return nil, err
	}
	var broken []string
	for _, dep := range issue.Dependencies {
		if _, ok := byID[dep]; !ok {
			broken = append(broken, dep)
		}
	}
	if len(broken) > 0 {
		return nil, jerrors.BrokenDependency(broken)
	}
	for _, dep := range issue.Dependencies {
		if hasCycle, chain := g.HasCycleAfter(issue.ID, dep); hasCycle {
			return nil, jerrors.Cycle(chain)
		}
	}

	resolve, err := x.resolver(ctx)
	if err != nil {
		return nil, err
	}
	if validation.IsReady(issue, resolve) {
		issue.State = types.StateReady
	}

	if err := x.store.SaveIssue(ctx, issue); err != nil {
		return nil, err
	}
	x.appendEvent(ctx, types.EventIssueCreated, issue.ID, map[string]any{
		"title": issue.Title, "priority": string(issue.Priority), "state": string(issue.State),
	})
	return issue, nil
}

// UpdatePatch carries the mutable fields update_issue accepts (spec
// §4.5). A nil field means "leave unchanged"; AddLabels/RemoveLabels are
// applied before State (so a label change can feed a state transition's
// I2 re-evaluation, consistent with an in-order patch application).
type UpdatePatch struct {
	Priority    *types.Priority
	Assignee    *string
	Description *string
	AddLabels   []string
	RemoveLabels []string
	State       *types.State
	Reason      string
}

// UpdateIssue applies patch to the issue named id, enforcing a lease per
// spec §4.4 and validating the resulting label set (spec §3.1). State
// changes, if present in the patch, are routed through UpdateState.
func (x *Executor) UpdateIssue(ctx context.Context, caller Caller, id string, patch UpdatePatch) (*types.Issue, error) {
	issue, err := x.store.LoadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validation.Exists(id)(issue); err != nil {
		return nil, err
	}
	if err := x.enforce(ctx, issue.ID, caller); err != nil {
		return nil, err
	}

	changed := false
	if patch.Priority != nil {
		if !patch.Priority.IsValid() {
			return nil, jerrors.InvalidArgument("priority", "must be one of critical, high, normal, low")
		}
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
		if err := validation.Label(x.cfg, issue, label); err != nil {
			return nil, err
		}
		if !issue.HasLabel(label) {
			issue.Labels = append(issue.Labels, label)
			changed = true
		}
	}

	if changed {
		wall, _ := x.clock.Now()
		issue.UpdatedAt = wall
		if err := x.store.SaveIssue(ctx, issue); err != nil {
			return nil, err
		}
		x.appendEvent(ctx, types.EventIssueUpdated, issue.ID, map[string]any{"reason": patch.Reason})
	}

	if patch.State != nil {
		return x.UpdateState(ctx, caller, issue.ID, *patch.State, patch.Reason)
	}
	return issue, nil
}

func removeString(ss []string, v string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// allowedTransition reports whether from->to is a transition update_state
// may ever perform (spec §3.1, §4.5's state diagram). →rejected and
// →archived are unconditional from any non-terminal state.
func allowedTransition(from, to types.State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == types.StateRejected || to == types.StateArchived {
		return true
	}
	switch from {
	case types.StateBacklog:
		return to == types.StateReady
	case types.StateReady:
		return to == types.StateBacklog || to == types.StateInProgress
	case types.StateInProgress:
		return to == types.StateDone || to == types.StateGated || to == types.StateBacklog
	case types.StateGated:
		return to == types.StateDone
	default:
		return false
	}
}

// UpdateState implements spec §4.5's update_state contract: validates
// the transition is on the allowed list, applies the postcheck-gating
// rule for in_progress/gated→done, and cascades auto-transitions to
// every dependent issue afterward.
func (x *Executor) UpdateState(ctx context.Context, caller Caller, id string, newState types.State, reason string) (*types.Issue, error) {
	issue, err := x.store.LoadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validation.Exists(id)(issue); err != nil {
		return nil, err
	}
	if err := x.enforce(ctx, issue.ID, caller); err != nil {
		return nil, err
	}
	if !newState.IsValid() {
		return nil, jerrors.InvalidArgument("state", "not a recognized state")
	}

	from := issue.State
	if from == newState {
		return issue, nil
	}
	if !allowedTransition(from, newState) {
		return nil, jerrors.InvalidState(string(from), string(newState))
	}

	target := newState
	if newState == types.StateDone && !validation.PostchecksPassed(issue) {
		// I4: an attempted done transition with unpassed postchecks
		// lands in (or stays in) gated instead (spec §3.1, §4.5 "same
		// postcheck rule" for both in_progress->done and gated->done).
		target = types.StateGated
	}
	if target == from {
		return issue, nil
	}
	if newState == types.StateReady {
		resolve, err := x.resolver(ctx)
		if err != nil {
			return nil, err
		}
		if !validation.IsReady(issue, resolve) {
			return nil, jerrors.InvalidState(string(from), string(newState))
		}
	}

	issue.State = target
	wall, _ := x.clock.Now()
	issue.UpdatedAt = wall
	if err := x.store.SaveIssue(ctx, issue); err != nil {
		return nil, err
	}
	x.appendEvent(ctx, types.EventIssueStateChanged, issue.ID, types.StateChangedPayload{
		From: from, To: target, Reason: reason, Actor: caller.AgentID,
	})

	if err := x.cascadeDependents(ctx, issue.ID); err != nil {
		return nil, err
	}
	return issue, nil
}

// cascadeDependents re-evaluates every issue whose dependencies contain
// changedID: if one is in backlog and now satisfies I2, it is
// auto-transitioned to ready and the change is logged (spec §3.1, §4.5).
// Dependents are visited in id order for deterministic event ordering.
func (x *Executor) cascadeDependents(ctx context.Context, changedID string) error {
	issues, err := x.store.ListIssues(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]types.State, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue.State
	}
	resolve := func(id string) (types.State, bool) {
		st, ok := byID[id]
		return st, ok
	}

	var dependents []*types.Issue
	for _, issue := range issues {
		for _, dep := range issue.Dependencies {
			if dep == changedID {
				dependents = append(dependents, issue)
				break
			}
		}
	}
	sort.Slice(dependents, func(i, j int) bool { return dependents[i].ID < dependents[j].ID })

	for _, dependent := range dependents {
		if dependent.State != types.StateBacklog {
			continue
		}
		if !validation.IsReady(dependent, resolve) {
			continue
		}
		wall, _ := x.clock.Now()
		dependent.State = types.StateReady
		dependent.UpdatedAt = wall
		if err := x.store.SaveIssue(ctx, dependent); err != nil {
			return err
		}
		x.appendEvent(ctx, types.EventIssueStateChanged, dependent.ID, types.StateChangedPayload{
			From: types.StateBacklog, To: types.StateReady, Reason: "dependency satisfied",
		})
	}
	return nil
}
