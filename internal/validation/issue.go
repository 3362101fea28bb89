// Package validation holds composable precondition checks over an
// Issue, used by internal/executor before every mutation. Grounded on
// the teacher's internal/validation/issue.go Chain(...) composition
// idiom (NotTemplate, NotPinned, ForUpdate, ...), generalized from its
// CLI-facing checks to the precondition checks spec §3.1's invariants
// and §4.5's transition table require.
package validation

import (
	"github.com/jitvcs/jit/internal/config"
	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/types"
)

// IssueCheck validates an issue and returns a structured *jerrors.Error
// if validation fails, or nil.
type IssueCheck func(issue *types.Issue) *jerrors.Error

// Chain composes checks into a single check; the first failure stops
// evaluation and is returned.
func Chain(checks ...IssueCheck) IssueCheck {
	return func(issue *types.Issue) *jerrors.Error {
		for _, c := range checks {
			if err := c(issue); err != nil {
				return err
			}
		}
		return nil
	}
}

// Exists validates that issue is non-nil.
func Exists(id string) IssueCheck {
	return func(issue *types.Issue) *jerrors.Error {
		if issue == nil {
			return jerrors.NotFound("issue", id)
		}
		return nil
	}
}

// NotTerminal validates that issue is not already in a terminal state
// (done/rejected/archived); several mutations (add dependency, claim)
// are meaningless once an issue is terminal.
func NotTerminal() IssueCheck {
	return func(issue *types.Issue) *jerrors.Error {
		if issue.State.IsTerminal() {
			return jerrors.InvalidState(string(issue.State), "mutate")
		}
		return nil
	}
}

// DepsSatisfied validates spec I2/I3's dependency half: every
// dependency of issue is done or archived. resolve looks up a
// dependency's current state by id.
func DepsSatisfied(issue *types.Issue, resolve func(id string) (types.State, bool)) bool {
	for _, dep := range issue.Dependencies {
		st, ok := resolve(dep)
		if !ok {
			return false
		}
		if st != types.StateDone && st != types.StateArchived {
			return false
		}
	}
	return true
}

// PrechecksPassed validates spec I2's gate half: every precheck gate is
// passed.
func PrechecksPassed(issue *types.Issue) bool {
	return len(issue.UnpassedGatesInPhase(types.PhasePrecheck)) == 0
}

// PostchecksPassed validates spec I3's gate half: every postcheck gate
// is passed.
func PostchecksPassed(issue *types.Issue) bool {
	return len(issue.UnpassedGatesInPhase(types.PhasePostcheck)) == 0
}

// IsReady reports whether issue currently satisfies spec P2: state
// ready iff every dependency is done/archived and every precheck gate
// is passed. This is the pure predicate auto-transitions are driven by;
// it does not itself mutate State.
func IsReady(issue *types.Issue, resolve func(id string) (types.State, bool)) bool {
	return DepsSatisfied(issue, resolve) && PrechecksPassed(issue)
}

// Label validates a single label against the canonical format (spec
// §3.1, I6) and, via cfg, against namespace uniqueness when adding it to
// an issue that may already carry one from the same namespace.
func Label(cfg config.Config, issue *types.Issue, label string) *jerrors.Error {
	ns, _, err := types.ParseLabel(label)
	if err != nil {
		return jerrors.InvalidLabel(label, err.Error())
	}
	if cfg.UniqueNamespace(ns) {
		for _, existing := range issue.LabelsInNamespace(ns) {
			if existing != label {
				return jerrors.InvalidLabel(label, "namespace \""+ns+"\" is unique; issue already carries \""+existing+"\"")
			}
		}
	}
	return nil
}

// AllLabels validates every label on issue, used by validate() (spec
// §4.5) to surface every violation rather than stopping at the first.
func AllLabels(cfg config.Config, issue *types.Issue) []string {
	var problems []string
	seen := map[string]bool{}
	for _, label := range issue.Labels {
		ns, _, err := types.ParseLabel(label)
		if err != nil {
			problems = append(problems, label+": "+err.Error())
			continue
		}
		if cfg.UniqueNamespace(ns) {
			if seen[ns] {
				problems = append(problems, label+": namespace \""+ns+"\" is unique but appears more than once")
			}
			seen[ns] = true
		}
	}
	return problems
}
