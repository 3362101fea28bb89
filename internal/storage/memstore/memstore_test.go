package memstore

import (
	"context"
	"testing"

	"github.com/jitvcs/jit/internal/types"
)

func TestSaveLoadIssueRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	issue := &types.Issue{ID: "abcdef12", Title: "first", State: types.StateBacklog}
	if err := s.SaveIssue(ctx, issue); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadIssue(ctx, "abcdef12")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Title != "first" {
		t.Fatalf("got title %q", got.Title)
	}

	// Mutating the returned clone must not affect the store.
	got.Title = "mutated"
	again, _ := s.LoadIssue(ctx, "abcdef12")
	if again.Title != "first" {
		t.Fatalf("store was mutated through returned clone")
	}
}

func TestLoadIssueByPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.SaveIssue(ctx, &types.Issue{ID: "abc12345", Title: "x"})

	got, err := s.LoadIssue(ctx, "abc1")
	if err != nil {
		t.Fatalf("prefix load: %v", err)
	}
	if got.ID != "abc12345" {
		t.Fatalf("got id %q", got.ID)
	}
}

func TestLoadIssueAmbiguousPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.SaveIssue(ctx, &types.Issue{ID: "abc11111", Title: "x"})
	_ = s.SaveIssue(ctx, &types.Issue{ID: "abc22222", Title: "y"})

	_, err := s.LoadIssue(ctx, "abc")
	if err == nil {
		t.Fatal("expected ambiguous prefix error")
	}
}

func TestLoadIssueNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.LoadIssue(ctx, "zzzzzzzz"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestDeleteIssue(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.SaveIssue(ctx, &types.Issue{ID: "abc12345"})

	if err := s.DeleteIssue(ctx, "abc12345"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteIssue(ctx, "abc12345"); err == nil {
		t.Fatal("expected not found on second delete")
	}
}

func TestListIssuesSorted(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.SaveIssue(ctx, &types.Issue{ID: "bbbbbbbb"})
	_ = s.SaveIssue(ctx, &types.Issue{ID: "aaaaaaaa"})

	list, err := s.ListIssues(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "aaaaaaaa" || list[1].ID != "bbbbbbbb" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestEventAppendAndFilterByIssue(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.AppendEvent(ctx, types.Event{Type: types.EventIssueCreated, IssueID: "a"})
	_ = s.AppendEvent(ctx, types.Event{Type: types.EventIssueCreated, IssueID: "b"})
	_ = s.AppendEvent(ctx, types.Event{Type: types.EventIssueUpdated, IssueID: "a"})

	all, err := s.ListEvents(ctx, "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %d", err, len(all))
	}

	forA, err := s.ListEvents(ctx, "a", 0)
	if err != nil || len(forA) != 2 {
		t.Fatalf("list for a: %v %d", err, len(forA))
	}
}

func TestEventLimitKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		_ = s.AppendEvent(ctx, types.Event{Type: types.EventIssueUpdated, IssueID: "a"})
	}
	out, err := s.ListEvents(ctx, "a", 2)
	if err != nil || len(out) != 2 {
		t.Fatalf("limited list: %v %d", err, len(out))
	}
}

func TestGatesRoundTripIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()
	reg := types.NewGateRegistry()
	reg.Gates["security-review"] = types.GateDefinition{Title: "Security review", Phase: types.PhasePrecheck}

	if err := s.SaveGates(ctx, reg); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the caller's registry after save must not affect the store.
	reg.Gates["extra"] = types.GateDefinition{Title: "should not leak"}

	got, err := s.LoadGates(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := got.Gates["extra"]; ok {
		t.Fatal("store was mutated through caller's registry reference")
	}
	if _, ok := got.Gates["security-review"]; !ok {
		t.Fatal("missing saved gate")
	}
}

func TestClaimLogSeqIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()

	op1, err := s.ClaimLogAppend(ctx, types.ClaimOp{Op: types.OpAcquire, IssueID: "a"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	op2, err := s.ClaimLogAppend(ctx, types.ClaimOp{Op: types.OpRelease, IssueID: "a"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if op2.Seq <= op1.Seq {
		t.Fatalf("seq not monotonic: %d then %d", op1.Seq, op2.Seq)
	}

	all, err := s.ClaimLogAll(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("claim log all: %v %d", err, len(all))
	}
}

func TestClaimsIndexLoadMissing(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, ok, err := s.ClaimsIndexLoad(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("expected no cached index on a fresh store")
	}
}

func TestClaimsIndexSaveThenLoad(t *testing.T) {
	ctx := context.Background()
	s := New()
	idx := types.NewClaimsIndex()
	if err := s.ClaimsIndexSave(ctx, idx); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.ClaimsIndexLoad(ctx)
	if err != nil || !ok {
		t.Fatalf("load: %v %v", err, ok)
	}
	if got == nil {
		t.Fatal("nil index")
	}
}
