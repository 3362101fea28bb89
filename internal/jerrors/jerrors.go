// Package jerrors defines the structured error kinds the coordination
// kernel surfaces (spec §7): a machine-readable code, a human sentence,
// and — when helpful — possible causes and remediation commands.
package jerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a structured kernel error. It implements error and Unwrap, so
// callers can both read Code directly and use errors.As/errors.Is against
// a wrapped cause.
type Error struct {
	Code        string
	Message     string
	Causes      []string
	Remediation []string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches cause to e (via github.com/pkg/errors, which captures a
// stack trace at the wrap site) and returns e for chaining.
func (e *Error) Wrap(cause error) *Error {
	if cause != nil {
		e.cause = errors.WithStack(cause)
	}
	return e
}

// WithCauses appends human-readable possible causes to e.
func (e *Error) WithCauses(causes ...string) *Error {
	e.Causes = append(e.Causes, causes...)
	return e
}

// WithRemediation appends suggested remediation commands to e.
func (e *Error) WithRemediation(remediation ...string) *Error {
	e.Remediation = append(e.Remediation, remediation...)
	return e
}

func newErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// --- Input errors ---

func NotFound(kind, id string) *Error {
	return newErr("NotFound", "%s %q not found", kind, id)
}

func AmbiguousPrefix(prefix string, candidates []string) *Error {
	return newErr("AmbiguousPrefix", "prefix %q matches %d issues", prefix, len(candidates)).
		WithCauses(candidates...)
}

func InvalidLabel(label, reason string) *Error {
	return newErr("InvalidLabel", "label %q invalid: %s", label, reason)
}

func InvalidState(from, to string) *Error {
	return newErr("InvalidState", "cannot transition from %q to %q", from, to)
}

func InvalidArgument(name, reason string) *Error {
	return newErr("InvalidArgument", "argument %q invalid: %s", name, reason)
}

// --- Graph errors ---

func Cycle(chain []string) *Error {
	return newErr("Cycle", "adding this edge would introduce a cycle").
		WithCauses(chain...)
}

func BrokenDependency(ids []string) *Error {
	return newErr("BrokenDependency", "%d dependency reference(s) do not resolve", len(ids)).
		WithCauses(ids...)
}

// --- Gate errors ---

func GateNotFound(key string) *Error {
	return newErr("GateNotFound", "gate %q is not registered", key)
}

func GateUnpassed(keys []string) *Error {
	return newErr("GateUnpassed", "%d required gate(s) have not passed", len(keys)).
		WithCauses(keys...)
}

func GateCheckFailed(key, stderr string) *Error {
	return newErr("GateCheckFailed", "gate %q check command failed", key).
		WithCauses(stderr)
}

// --- Coordination errors ---

func AlreadyClaimed(agentID, expiresAt string) *Error {
	msg := fmt.Sprintf("already claimed by %s", agentID)
	if expiresAt != "" {
		msg += fmt.Sprintf(" (expires %s)", expiresAt)
	}
	return newErr("AlreadyClaimed", "%s", msg)
}

func LeaseNotFound(id string) *Error {
	return newErr("LeaseNotFound", "lease %q not found", id).
		WithCauses("expired", "already released", "wrong id").
		WithRemediation("jit claim list", "jit claim status")
}

func NotOwner(expected, got string) *Error {
	return newErr("NotOwner", "caller %q is not the owner of this lease (owned by %q)", got, expected)
}

func LeaseRequired(issueID string) *Error {
	return newErr("LeaseRequired", "issue %q requires an active lease for structural writes", issueID).
		WithRemediation(fmt.Sprintf("jit claim acquire %s", issueID))
}

func PolicyViolation(reason string) *Error {
	return newErr("PolicyViolation", "%s", reason)
}

// --- I/O errors ---

func LockTimeout(path string) *Error {
	return newErr("LockTimeout", "timed out acquiring lock on %s", path)
}

func Io(cause error) *Error {
	return newErr("Io", "i/o error").Wrap(cause)
}

func SchemaMismatch(got, want int) *Error {
	return newErr("SchemaMismatch", "schema version %d does not match expected %d", got, want)
}

func ChecksumMismatch(path string) *Error {
	return newErr("ChecksumMismatch", "content hash mismatch reading %s", path)
}
