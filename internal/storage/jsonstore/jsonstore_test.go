package jsonstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jitvcs/jit/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "data", ".jit"), filepath.Join(dir, "control", "jit"), 2*time.Second)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	issue := &types.Issue{
		ID:            "abcd1234",
		Title:         "hello",
		Priority:      types.PriorityHigh,
		State:         types.StateBacklog,
		Labels:        []string{"type:task"},
		GatesRequired: []types.GateRef{{Key: "tests", Phase: types.PhasePostcheck}},
		GatesStatus:   map[string]types.GateStatus{},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.SaveIssue(ctx, issue); err != nil {
		t.Fatalf("SaveIssue: %v", err)
	}

	got, err := s.LoadIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("LoadIssue: %v", err)
	}
	if got.Title != issue.Title || got.Priority != issue.Priority {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// prefix resolution
	got2, err := s.LoadIssue(ctx, "abcd")
	if err != nil {
		t.Fatalf("LoadIssue by prefix: %v", err)
	}
	if got2.ID != issue.ID {
		t.Fatalf("wrong issue resolved by prefix: %s", got2.ID)
	}
}

func TestListIssuesAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"aaaa1111", "bbbb2222"} {
		if err := s.SaveIssue(ctx, &types.Issue{ID: id, Title: id}); err != nil {
			t.Fatalf("SaveIssue(%s): %v", id, err)
		}
	}

	list, err := s.ListIssues(ctx)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(list))
	}

	if err := s.DeleteIssue(ctx, "aaaa1111"); err != nil {
		t.Fatalf("DeleteIssue: %v", err)
	}
	list, err = s.ListIssues(ctx)
	if err != nil {
		t.Fatalf("ListIssues after delete: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 issue after delete, got %d", len(list))
	}
}

func TestAppendEventAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := types.Event{Timestamp: time.Now().UTC(), Type: types.EventIssueCreated, IssueID: "abcd1234"}
	if err := s.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	events, err := s.ListEvents(ctx, "abcd1234", 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != types.EventIssueCreated {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestClaimLogSeqMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		op, err := s.ClaimLogAppend(ctx, types.ClaimOp{Op: types.OpAcquire, IssueID: "x"})
		if err != nil {
			t.Fatalf("ClaimLogAppend: %v", err)
		}
		if op.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, op.Seq)
		}
	}

	all, err := s.ClaimLogAll(ctx)
	if err != nil {
		t.Fatalf("ClaimLogAll: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}
}

func TestGatesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	reg := types.NewGateRegistry()
	reg.Gates["tests"] = types.GateDefinition{Title: "Tests", Phase: types.PhasePostcheck}
	if err := s.SaveGates(ctx, reg); err != nil {
		t.Fatalf("SaveGates: %v", err)
	}
	got, err := s.LoadGates(ctx)
	if err != nil {
		t.Fatalf("LoadGates: %v", err)
	}
	if _, ok := got.Lookup("tests"); !ok {
		t.Fatal("expected tests gate to round-trip")
	}
}
