package query

import (
	"testing"

	"github.com/jitvcs/jit/internal/types"
)

func TestAllFiltersConjunctively(t *testing.T) {
	a := issue("a", types.StateReady, types.PriorityHigh, "area:core")
	b := issue("b", types.StateReady, types.PriorityLow, "area:core")
	c := issue("c", types.StateBacklog, types.PriorityHigh, "area:core")
	issues := []*types.Issue{a, b, c}

	out := All(issues, Filters{State: types.StateReady, Priority: types.PriorityHigh})
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("All(state+priority) = %v, want only a", out)
	}

	out = All(issues, Filters{LabelPattern: "area:*"})
	if len(out) != 3 {
		t.Fatalf("All(label glob) = %v, want all three", out)
	}

	out = All(issues, Filters{})
	if len(out) != 3 {
		t.Fatalf("All(no filters) = %v, want all three unchanged", out)
	}
}

type fakeHierarchy struct{ strategic map[string]bool }

func (f fakeHierarchy) IsStrategic(typ string) bool { return f.strategic[typ] }

func TestStrategicFiltersByTypeLabel(t *testing.T) {
	epic := issue("a", types.StateBacklog, types.PriorityNormal, "type:epic")
	task := issue("b", types.StateBacklog, types.PriorityNormal, "type:task")
	untyped := issue("c", types.StateBacklog, types.PriorityNormal)
	hierarchy := fakeHierarchy{strategic: map[string]bool{"epic": true}}

	out := Strategic([]*types.Issue{epic, task, untyped}, hierarchy)
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("Strategic = %v, want only the epic", out)
	}
}

func TestClosedReturnsTerminalStatesOnly(t *testing.T) {
	done := issue("a", types.StateDone, types.PriorityNormal)
	rejected := issue("b", types.StateRejected, types.PriorityNormal)
	archived := issue("c", types.StateArchived, types.PriorityNormal)
	ready := issue("d", types.StateReady, types.PriorityNormal)

	out := Closed([]*types.Issue{done, rejected, archived, ready})
	if len(out) != 3 {
		t.Fatalf("Closed = %v, want exactly the three terminal issues", out)
	}
	for _, i := range out {
		if i.ID == "d" {
			t.Error("Closed should not include a ready issue")
		}
	}
}

func TestMergeWithIssuesDropsStaleMatches(t *testing.T) {
	known := issue("a", types.StateReady, types.PriorityNormal)
	results := []SearchResult{
		{IssueID: "a", Path: "issues/a.md", Line: 3, Text: "TODO"},
		{IssueID: "ghost", Path: "issues/ghost.md", Line: 1, Text: "stale"},
	}
	out := MergeWithIssues(results, []*types.Issue{known})
	if len(out) != 1 || out[0].IssueID != "a" {
		t.Fatalf("MergeWithIssues = %v, want only the known issue's result", out)
	}
}
