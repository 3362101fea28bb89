package query

import (
	"fmt"
	"sort"

	"github.com/jitvcs/jit/internal/types"
)

// Filters is the conjunctive filter set for All (spec §4.7), directly
// mirroring the teacher's IssueFilter shape (state/priority/label, one
// optional value each, all ANDed together).
type Filters struct {
	State        types.State
	Assignee     string
	Priority     types.Priority
	LabelPattern string
}

// All returns every issue matching every non-zero field of f.
func All(issues []*types.Issue, f Filters) []*types.Issue {
	var out []*types.Issue
	for _, issue := range issues {
		if f.State != "" && issue.State != f.State {
			continue
		}
		if f.Assignee != "" && issue.Assignee != f.Assignee {
			continue
		}
		if f.Priority != "" && issue.Priority != f.Priority {
			continue
		}
		if f.LabelPattern != "" && !matchesLabelPattern(issue, f.LabelPattern) {
			continue
		}
		out = append(out, issue)
	}
	return out
}

// byPriorityThenCreated sorts issues by priority descending urgency
// (critical first) then created_at ascending, the dispatch order spec
// §4.5's claim_next and §4.7's available both require.
func byPriorityThenCreated(issues []*types.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Priority != issues[j].Priority {
			return issues[i].Priority.Less(issues[j].Priority)
		}
		return issues[i].CreatedAt.Before(issues[j].CreatedAt)
	})
}

// Available returns ready, unassigned issues with every precheck passed,
// ordered by priority desc then created_at asc (spec §4.7).
func Available(issues []*types.Issue) []*types.Issue {
	var out []*types.Issue
	for _, issue := range issues {
		if issue.State != types.StateReady {
			continue
		}
		if issue.Assignee != "" {
			continue
		}
		if len(issue.UnpassedGatesInPhase(types.PhasePrecheck)) != 0 {
			continue
		}
		out = append(out, issue)
	}
	byPriorityThenCreated(out)
	return out
}

// BlockedResult pairs an issue with the human-readable reasons it is not
// ready (spec §4.7).
type BlockedResult struct {
	Issue  *types.Issue
	Causes []string
}

// Blocked returns every non-terminal issue that does not currently
// satisfy I2, with causes naming each unsatisfied dependency or gate.
func Blocked(issues []*types.Issue, ctx Context) []BlockedResult {
	byID := make(map[string]*types.Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}

	var out []BlockedResult
	for _, issue := range issues {
		if issue.State.IsTerminal() {
			continue
		}
		var causes []string
		for _, dep := range issue.Dependencies {
			st, ok := ctx.Resolve(dep)
			if !ok || (st != types.StateDone && st != types.StateArchived) {
				title, state := "unknown", "missing"
				if d, found := byID[dep]; found {
					title, state = d.Title, string(d.State)
				} else if ok {
					state = string(st)
				}
				causes = append(causes, fmt.Sprintf("dependency:%s (%s:%s)", dep, title, state))
			}
		}
		for _, key := range issue.UnpassedGatesInPhase(types.PhasePrecheck) {
			status := types.GatePending
			if st, ok := issue.GatesStatus[key]; ok {
				status = st.Status
			}
			causes = append(causes, fmt.Sprintf("gate:%s (%s)", key, status))
		}
		if len(causes) > 0 {
			out = append(out, BlockedResult{Issue: issue, Causes: causes})
		}
	}
	return out
}

// StrategicTyper names the subset of config.Config Strategic needs,
// avoiding an import of internal/config (which would create a cycle
// since config has no need to know about query).
type StrategicTyper interface {
	IsStrategic(typeName string) bool
}

// Strategic returns issues whose type label belongs to the configured
// strategic tier (spec §4.7).
func Strategic(issues []*types.Issue, hierarchy StrategicTyper) []*types.Issue {
	var out []*types.Issue
	for _, issue := range issues {
		if typ, ok := issue.TypeLabel(); ok && hierarchy.IsStrategic(typ) {
			out = append(out, issue)
		}
	}
	return out
}

// Closed returns every done/rejected/archived issue.
func Closed(issues []*types.Issue) []*types.Issue {
	var out []*types.Issue
	for _, issue := range issues {
		if issue.State.IsTerminal() {
			out = append(out, issue)
		}
	}
	return out
}
