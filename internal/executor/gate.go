package executor

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/types"
	"github.com/jitvcs/jit/internal/validation"
)

// AddGate attaches a registry gate to an issue by key, enforcing a lease
// on issue (spec §4.5).
func (x *Executor) AddGate(ctx context.Context, caller Caller, issueID, key string, phase types.GatePhase) error {
	issue, err := x.store.LoadIssue(ctx, issueID)
	if err != nil {
		return err
	}
	if err := validation.Exists(issueID)(issue); err != nil {
		return err
	}
	if err := x.enforce(ctx, issue.ID, caller); err != nil {
		return err
	}

	registry, err := x.store.LoadGates(ctx)
	if err != nil {
		return err
	}
	if _, ok := registry.Lookup(key); !ok {
		return gateNotFound(registry, key)
	}
	if _, ok := issue.Gate(key); ok {
		return nil
	}

	issue.GatesRequired = append(issue.GatesRequired, types.GateRef{Key: key, Phase: phase})
	wall, _ := x.clock.Now()
	issue.UpdatedAt = wall
	return x.store.SaveIssue(ctx, issue)
}

// recordGate writes a gate's status onto issue and logs the matching
// event, then re-applies the gated->done cascade if this was the last
// unpassed postcheck.
func (x *Executor) recordGate(ctx context.Context, caller Caller, issueID, key string, status types.GateStatusValue, by, reason string) error {
	issue, err := x.store.LoadIssue(ctx, issueID)
	if err != nil {
		return err
	}
	if err := validation.Exists(issueID)(issue); err != nil {
		return err
	}
	if _, ok := issue.Gate(key); !ok {
		return jerrors.GateNotFound(key)
	}
	if err := x.enforce(ctx, issue.ID, caller); err != nil {
		return err
	}

	wall, _ := x.clock.Now()
	if issue.GatesStatus == nil {
		issue.GatesStatus = map[string]types.GateStatus{}
	}
	issue.GatesStatus[key] = types.GateStatus{Status: status, By: by, At: wall, Reason: reason}
	issue.UpdatedAt = wall
	if err := x.store.SaveIssue(ctx, issue); err != nil {
		return err
	}

	evt := types.EventGatePassed
	if status == types.GateFailed {
		evt = types.EventGateFailed
	}
	x.appendEvent(ctx, evt, issue.ID, types.GatePayload{Key: key, By: by, Reason: reason})

	if issue.State == types.StateGated && status == types.GatePassed && validation.PostchecksPassed(issue) {
		_, err := x.UpdateState(ctx, caller, issue.ID, types.StateDone, "last postcheck passed")
		return err
	}
	return nil
}

// PassGate records a gate as passed by the named actor (spec §4.5).
func (x *Executor) PassGate(ctx context.Context, caller Caller, issueID, key, by string) error {
	return x.recordGate(ctx, caller, issueID, key, types.GatePassed, by, "")
}

// FailGate records a gate as failed with reason (spec §4.5).
func (x *Executor) FailGate(ctx context.Context, caller Caller, issueID, key, reason string) error {
	return x.recordGate(ctx, caller, issueID, key, types.GateFailed, "", reason)
}

// CheckGate runs an automated gate's command with a timeout, recording
// passed on exit code 0 and failed (with captured stderr as reason)
// otherwise (spec §4.5). Manual gates have no command to run and return
// InvalidArgument.
func (x *Executor) CheckGate(ctx context.Context, caller Caller, issueID, key string) error {
	registry, err := x.store.LoadGates(ctx)
	if err != nil {
		return err
	}
	def, ok := registry.Lookup(key)
	if !ok {
		return gateNotFound(registry, key)
	}
	if def.Automation.Kind != types.AutomationAutomated || def.Automation.Command == "" {
		return jerrors.InvalidArgument("key", "gate \""+key+"\" is not automated")
	}

	timeout := time.Duration(def.Automation.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", def.Automation.Command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if runErr == nil {
		return x.recordGate(ctx, caller, issueID, key, types.GatePassed, def.DefaultActor, "")
	}
	return x.recordGate(ctx, caller, issueID, key, types.GateFailed, def.DefaultActor, stderr.String())
}
