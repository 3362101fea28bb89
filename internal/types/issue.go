// Package types defines the core data model shared by every layer of the
// coordination kernel: issues, gates, events, and claims.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Priority is the total-order dispatch priority of an issue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// rank returns a smaller-is-more-urgent ordinal used for sorting.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Less reports whether p is strictly higher priority (more urgent) than o.
func (p Priority) Less(o Priority) bool { return p.rank() < o.rank() }

// IsValid reports whether p is one of the four recognized priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// State is the lifecycle state of an issue.
type State string

const (
	StateBacklog    State = "backlog"
	StateReady      State = "ready"
	StateInProgress State = "in_progress"
	StateGated      State = "gated"
	StateDone       State = "done"
	StateRejected   State = "rejected"
	StateArchived   State = "archived"

	// stateOpenLegacy is the legacy spelling accepted as an alias for
	// StateBacklog on read (spec §3.1). It is never emitted.
	stateOpenLegacy State = "open"
)

// IsValid reports whether s is one of the seven canonical states. The
// legacy "open" spelling is not itself canonical; callers decode through
// UnmarshalJSON (or NormalizeLegacy) to obtain a canonical State first.
func (s State) IsValid() bool {
	switch s {
	case StateBacklog, StateReady, StateInProgress, StateGated, StateDone, StateRejected, StateArchived:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a terminal lifecycle state.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateRejected, StateArchived:
		return true
	default:
		return false
	}
}

// NormalizeLegacy maps the legacy "open" spelling to StateBacklog and
// passes every other value through unchanged.
func NormalizeLegacy(s State) State {
	if s == stateOpenLegacy {
		return StateBacklog
	}
	return s
}

// UnmarshalJSON accepts the legacy "open" spelling as an alias for
// "backlog" on read (spec §3.1), never emitting it back out.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NormalizeLegacy(State(raw))
	return nil
}

// GatePhase is when a gate must pass relative to an issue's lifecycle.
type GatePhase string

const (
	PhasePrecheck  GatePhase = "precheck"
	PhasePostcheck GatePhase = "postcheck"
)

// GateStatusValue is the outcome of a gate check.
type GateStatusValue string

const (
	GatePending GateStatusValue = "pending"
	GatePassed  GateStatusValue = "passed"
	GateFailed  GateStatusValue = "failed"
)

// GateRef references a gate required by an issue, in the order it must be
// satisfied.
type GateRef struct {
	Key   string    `json:"key"`
	Phase GatePhase `json:"phase"`
}

// GateStatus is the recorded outcome of a single gate for a single issue.
type GateStatus struct {
	Status GateStatusValue `json:"status"`
	By     string          `json:"by,omitempty"`
	At     time.Time       `json:"at,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Document references supporting material attached to an issue.
type Document struct {
	Path    string   `json:"path"`
	Commit  string   `json:"commit,omitempty"`
	Label   string   `json:"label,omitempty"`
	DocType string   `json:"doc_type,omitempty"`
	Assets  []string `json:"assets,omitempty"`
}

// labelPattern is the canonical "<namespace>:<value>" label format from
// spec §3.1: namespace matches [a-z][a-z0-9-]*, value matches
// [a-zA-Z0-9][a-zA-Z0-9._-]*.
var labelPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*:[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ParseLabel splits a canonical label into its namespace and value. It
// returns an error if the label does not match the canonical form.
func ParseLabel(label string) (namespace, value string, err error) {
	if !labelPattern.MatchString(label) {
		return "", "", fmt.Errorf("invalid label %q: must match <namespace>:<value> with namespace [a-z][a-z0-9-]* and value [a-zA-Z0-9][a-zA-Z0-9._-]*", label)
	}
	idx := strings.IndexByte(label, ':')
	return label[:idx], label[idx+1:], nil
}

// IsValidLabel reports whether label matches the canonical form.
func IsValidLabel(label string) bool {
	return labelPattern.MatchString(label)
}

// Issue is the unit of tracked work (spec §3.1).
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Priority Priority `json:"priority"`
	State    State    `json:"state"`
	Assignee string   `json:"assignee,omitempty"`

	Labels       []string `json:"labels"`
	Dependencies []string `json:"dependencies"`

	GatesRequired []GateRef             `json:"gates_required"`
	GatesStatus   map[string]GateStatus `json:"gates_status"`

	Documents []Document `json:"documents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the issue, so callers may mutate it without
// aliasing storage-owned slices and maps.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	out := *i
	out.Labels = append([]string(nil), i.Labels...)
	out.Dependencies = append([]string(nil), i.Dependencies...)
	out.GatesRequired = append([]GateRef(nil), i.GatesRequired...)
	if i.GatesStatus != nil {
		out.GatesStatus = make(map[string]GateStatus, len(i.GatesStatus))
		for k, v := range i.GatesStatus {
			out.GatesStatus[k] = v
		}
	}
	out.Documents = append([]Document(nil), i.Documents...)
	for k := range out.Documents {
		out.Documents[k].Assets = append([]string(nil), i.Documents[k].Assets...)
	}
	return &out
}

// HasLabel reports whether the issue carries label exactly.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// HasDependency reports whether the issue already depends on id.
func (i *Issue) HasDependency(id string) bool {
	for _, d := range i.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// LabelsInNamespace returns every label on the issue in the given
// namespace, in the order they appear.
func (i *Issue) LabelsInNamespace(namespace string) []string {
	var out []string
	prefix := namespace + ":"
	for _, l := range i.Labels {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

// TypeLabel returns the single label in the "type" namespace, if any, and
// whether one was found. Namespace "type" is declared unique (spec §3.1,
// §6.5 type_hierarchy), so at most one should ever be present.
func (i *Issue) TypeLabel() (string, bool) {
	labels := i.LabelsInNamespace("type")
	if len(labels) == 0 {
		return "", false
	}
	_, value, _ := ParseLabel(labels[0])
	return value, true
}

// Gate looks up the required gate by key, returning its GateRef and
// whether it was found.
func (i *Issue) Gate(key string) (GateRef, bool) {
	for _, g := range i.GatesRequired {
		if g.Key == key {
			return g, true
		}
	}
	return GateRef{}, false
}

// GatesInPhase returns the keys of every required gate in the given
// phase, in declaration order.
func (i *Issue) GatesInPhase(phase GatePhase) []string {
	var out []string
	for _, g := range i.GatesRequired {
		if g.Phase == phase {
			out = append(out, g.Key)
		}
	}
	return out
}

// UnpassedGatesInPhase returns the keys of required gates in the given
// phase whose recorded status is not "passed" (pending, failed, or
// entirely unrecorded), in declaration order.
func (i *Issue) UnpassedGatesInPhase(phase GatePhase) []string {
	var out []string
	for _, key := range i.GatesInPhase(phase) {
		st, ok := i.GatesStatus[key]
		if !ok || st.Status != GatePassed {
			out = append(out, key)
		}
	}
	return out
}
