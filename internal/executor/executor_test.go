package executor

import (
	"context"
	"testing"
	"time"

	"github.com/jitvcs/jit/internal/clock"
	"github.com/jitvcs/jit/internal/config"
	"github.com/jitvcs/jit/internal/storage/memstore"
	"github.com/jitvcs/jit/internal/types"
)

func newTestExecutor(cfg config.Config) (*Executor, *memstore.Store, *clock.Fake) {
	store := memstore.New()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewDefault(store, fake, cfg), store, fake
}

func offEnforceConfig() config.Config {
	cfg := config.Default()
	cfg.Worktree.EnforceLeases = config.EnforceOff
	return cfg
}

func TestCreateIssueAutoReady(t *testing.T) {
	x, _, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()

	issue, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "no deps", Priority: types.PriorityNormal})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.State != types.StateReady {
		t.Errorf("state = %s, want ready (no dependencies, I2 trivially holds)", issue.State)
	}
}

func TestCreateIssueBlockedStaysBacklog(t *testing.T) {
	x, _, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()

	blocker, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "blocker", Priority: types.PriorityNormal})
	if err != nil {
		t.Fatalf("CreateIssue(blocker): %v", err)
	}
	blocked, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "blocked", Priority: types.PriorityNormal, Dependencies: []string{blocker.ID}})
	if err != nil {
		t.Fatalf("CreateIssue(blocked): %v", err)
	}
	if blocked.State != types.StateBacklog {
		t.Errorf("state = %s, want backlog (unresolved dependency)", blocked.State)
	}
}

func TestCreateIssueBrokenDependencyRejected(t *testing.T) {
	x, _, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()

	_, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "dangling", Dependencies: []string{"nonexistent-id"}})
	if err == nil {
		t.Fatal("expected BrokenDependency error")
	}
	if jerr, ok := asJErr(err); !ok || jerr.Code != "BrokenDependency" {
		t.Errorf("err = %v, want BrokenDependency", err)
	}
}

func TestCreateIssueCycleRejected(t *testing.T) {
	// Boundary scenario 1: a->b->a cycle must be rejected before any write.
	x, _, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()

	a, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "a"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "b", Dependencies: []string{a.ID}})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	if err := x.AddDependency(ctx, Caller{AgentID: "a1", WorktreeID: "w1"}, a.ID, b.ID); err == nil {
		t.Fatal("expected Cycle error adding a->b when b->a already exists")
	} else if jerr, ok := asJErr(err); !ok || jerr.Code != "Cycle" {
		t.Errorf("err = %v, want Cycle", err)
	}
}

func TestCascadeToDoneViaGate(t *testing.T) {
	// Boundary scenario 2: in_progress->done redirected to gated when a
	// postcheck is unpassed, then auto-completed once the gate passes.
	cfg := offEnforceConfig()
	x, store, _ := newTestExecutor(cfg)
	ctx := context.Background()

	reg := types.NewGateRegistry()
	reg.Gates["lint"] = types.GateDefinition{Title: "Lint", Phase: types.PhasePostcheck}
	if err := store.SaveGates(ctx, reg); err != nil {
		t.Fatalf("SaveGates: %v", err)
	}

	issue, err := x.CreateIssue(ctx, CreateIssueRequest{
		Title:         "gated work",
		GatesRequired: []types.GateRef{{Key: "lint", Phase: types.PhasePostcheck}},
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}

	caller := Caller{AgentID: "a1", WorktreeID: "w1"}
	if _, err := x.UpdateState(ctx, caller, issue.ID, types.StateInProgress, "start"); err != nil {
		t.Fatalf("->in_progress: %v", err)
	}
	got, err := x.UpdateState(ctx, caller, issue.ID, types.StateDone, "finish")
	if err != nil {
		t.Fatalf("->done attempt: %v", err)
	}
	if got.State != types.StateGated {
		t.Errorf("state = %s, want gated (postcheck unpassed)", got.State)
	}

	if err := x.PassGate(ctx, caller, issue.ID, "lint", "clean"); err != nil {
		t.Fatalf("PassGate: %v", err)
	}
	got, err = store.LoadIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("LoadIssue: %v", err)
	}
	if got.State != types.StateDone {
		t.Errorf("state after passing last postcheck = %s, want done", got.State)
	}
}

func TestDependencyAddDemotesReadyIssue(t *testing.T) {
	x, _, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()
	caller := Caller{AgentID: "a1", WorktreeID: "w1"}

	ready, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "ready one"})
	if err != nil {
		t.Fatalf("create ready: %v", err)
	}
	if ready.State != types.StateReady {
		t.Fatalf("precondition: want ready, got %s", ready.State)
	}
	blocker, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "new blocker"})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	if err := x.AddDependency(ctx, caller, ready.ID, blocker.ID); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	got, err := x.store.LoadIssue(ctx, ready.ID)
	if err != nil {
		t.Fatalf("LoadIssue: %v", err)
	}
	if got.State != types.StateBacklog {
		t.Errorf("state = %s, want backlog (new unresolved dependency invalidates I2)", got.State)
	}

	if _, err := x.UpdateState(ctx, caller, blocker.ID, types.StateInProgress, "start"); err != nil {
		t.Fatalf("blocker ->in_progress: %v", err)
	}
	if _, err := x.UpdateState(ctx, caller, blocker.ID, types.StateDone, "finish"); err != nil {
		t.Fatalf("blocker ->done: %v", err)
	}
	got, err = x.store.LoadIssue(ctx, ready.ID)
	if err != nil {
		t.Fatalf("LoadIssue after cascade: %v", err)
	}
	if got.State != types.StateReady {
		t.Errorf("state after blocker done = %s, want ready (cascade)", got.State)
	}
}

func TestClaimIssueEnforcement(t *testing.T) {
	// Boundary scenario 6: strict enforcement rejects writes without a lease.
	cfg := config.Default()
	cfg.Worktree.EnforceLeases = config.EnforceStrict
	x, _, _ := newTestExecutor(cfg)
	ctx := context.Background()

	issue, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "strict"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	caller := Caller{AgentID: "a1", WorktreeID: "w1"}
	desc := "in progress"
	if _, err := x.UpdateIssue(ctx, caller, issue.ID, UpdatePatch{Description: &desc}); err == nil {
		t.Fatal("expected LeaseRequired without an active lease under strict enforcement")
	} else if jerr, ok := asJErr(err); !ok || jerr.Code != "LeaseRequired" {
		t.Errorf("err = %v, want LeaseRequired", err)
	}

	if _, err := x.ClaimIssue(ctx, issue.ID, caller, 3600, "working it"); err != nil {
		t.Fatalf("ClaimIssue: %v", err)
	}
	if _, err := x.UpdateIssue(ctx, caller, issue.ID, UpdatePatch{Description: &desc}); err != nil {
		t.Errorf("UpdateIssue after claiming: %v", err)
	}

	other := Caller{AgentID: "a2", WorktreeID: "w2"}
	if _, err := x.UpdateIssue(ctx, other, issue.ID, UpdatePatch{Description: &desc}); err == nil {
		t.Fatal("expected LeaseRequired for a different caller")
	}
}

func TestClaimNextSkipsAlreadyClaimed(t *testing.T) {
	x, _, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()

	first, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "first", Priority: types.PriorityHigh})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "second", Priority: types.PriorityHigh})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	taker := Caller{AgentID: "a1", WorktreeID: "w1"}
	if _, err := x.ClaimIssue(ctx, first.ID, taker, 3600, "taken"); err != nil {
		t.Fatalf("ClaimIssue(first): %v", err)
	}

	claimer := Caller{AgentID: "a2", WorktreeID: "w2"}
	got, _, ok, err := x.ClaimNext(ctx, claimer, 3600, "next", nil)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if !ok {
		t.Fatal("ClaimNext: ok = false, want true (second is still available)")
	}
	if got.ID != second.ID {
		t.Errorf("ClaimNext claimed %s, want %s", got.ID, second.ID)
	}
}

func TestBulkUpdateLiteralSemantics(t *testing.T) {
	x, _, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()
	caller := Caller{AgentID: "a1", WorktreeID: "w1"}

	blocker, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "blocker"})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	blocked, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "blocked", Dependencies: []string{blocker.ID}})
	if err != nil {
		t.Fatalf("create blocked: %v", err)
	}

	low := types.PriorityLow
	result, err := x.BulkUpdate(ctx, caller, nil, UpdatePatch{Priority: &low})
	if err != nil {
		t.Fatalf("BulkUpdate: %v", err)
	}
	if len(result.Applied) != 2 {
		t.Errorf("Applied = %v, want both issues", result.Applied)
	}

	ready := types.StateReady
	result, err = x.BulkUpdate(ctx, caller, nil, UpdatePatch{State: &ready})
	if err != nil {
		t.Fatalf("BulkUpdate(state): %v", err)
	}
	if _, failed := result.Failures[blocked.ID]; !failed {
		t.Errorf("blocked issue should fail bulk ->ready (I2 unsatisfied), failures = %v", result.Failures)
	}
	if _, failed := result.Failures[blocker.ID]; failed {
		t.Errorf("blocker should succeed bulk ->ready, failures = %v", result.Failures)
	}
}

func TestValidateFindsBrokenDependencyAndFixes(t *testing.T) {
	x, store, _ := newTestExecutor(offEnforceConfig())
	ctx := context.Background()

	issue, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "dangling after the fact"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	issue.Dependencies = []string{"missing-id"}
	if err := store.SaveIssue(ctx, issue); err != nil {
		t.Fatalf("SaveIssue: %v", err)
	}

	report, err := x.Validate(ctx, ValidateOptions{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(report.BrokenDependencies) != 1 {
		t.Fatalf("BrokenDependencies = %v, want 1 entry", report.BrokenDependencies)
	}

	report, err = x.Validate(ctx, ValidateOptions{Fix: true})
	if err != nil {
		t.Fatalf("Validate(fix): %v", err)
	}
	if len(report.Fixed) != 1 {
		t.Errorf("Fixed = %v, want 1 repair", report.Fixed)
	}
	got, err := store.LoadIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("LoadIssue: %v", err)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("Dependencies = %v, want none after fix", got.Dependencies)
	}
}

func TestValidateLeaseExpiryFix(t *testing.T) {
	cfg := offEnforceConfig()
	x, _, fake := newTestExecutor(cfg)
	ctx := context.Background()
	caller := Caller{AgentID: "a1", WorktreeID: "w1"}

	issue, err := x.CreateIssue(ctx, CreateIssueRequest{Title: "short lease"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if _, err := x.ClaimIssue(ctx, issue.ID, caller, 10, "brief"); err != nil {
		t.Fatalf("ClaimIssue: %v", err)
	}
	fake.Advance(20 * time.Second)

	report, err := x.Validate(ctx, ValidateOptions{Leases: true})
	if err != nil {
		t.Fatalf("Validate(leases): %v", err)
	}
	if len(report.LeaseProblems) != 1 {
		t.Fatalf("LeaseProblems = %v, want 1 expired lease", report.LeaseProblems)
	}

	report, err = x.Validate(ctx, ValidateOptions{Leases: true, Fix: true})
	if err != nil {
		t.Fatalf("Validate(leases, fix): %v", err)
	}
	if len(report.Fixed) != 1 {
		t.Errorf("Fixed = %v, want 1 eviction", report.Fixed)
	}

	other := Caller{AgentID: "a2", WorktreeID: "w2"}
	if _, err := x.ClaimIssue(ctx, issue.ID, other, 3600, "now free"); err != nil {
		t.Errorf("ClaimIssue after eviction should succeed: %v", err)
	}
}
