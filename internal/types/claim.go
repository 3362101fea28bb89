package types

import "time"

// ClaimOpKind names the operation recorded in a single claims.jsonl entry
// (spec §3.4).
type ClaimOpKind string

const (
	OpAcquire    ClaimOpKind = "acquire"
	OpRenew      ClaimOpKind = "renew"
	OpRelease    ClaimOpKind = "release"
	OpAutoEvict  ClaimOpKind = "auto_evict"
	OpForceEvict ClaimOpKind = "force_evict"
	OpHeartbeat  ClaimOpKind = "heartbeat"
)

// ClaimOp is one append-only record in the control-plane claims log
// (spec §3.4, §6.4). Seq is assigned by the storage layer at append time
// and is monotonically increasing across all entries with no gaps.
type ClaimOp struct {
	SchemaVersion int         `json:"schema_version"`
	Seq           int64       `json:"seq"`
	Op            ClaimOpKind `json:"op"`
	LeaseID       string      `json:"lease_id"`
	IssueID       string      `json:"issue_id"`
	WorktreeID    string      `json:"worktree_id"`
	AgentID       string      `json:"agent_id"`
	TTLSecs       int64       `json:"ttl_secs"`
	AcquiredAt    time.Time   `json:"acquired_at"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	LastBeat      time.Time   `json:"last_beat"`
	Reason        string      `json:"reason,omitempty"`
}

// LeaseState is the derived lifecycle state of a Lease (spec §4.3.2).
type LeaseState string

const (
	LeaseActive     LeaseState = "active"
	LeaseStale      LeaseState = "stale"
	LeaseExpired    LeaseState = "expired"
	LeaseTerminated LeaseState = "terminated"
)

// Lease is the derived record of a currently held claim (spec §3.4). Both
// a monotonic and a wall-clock timestamp are kept for every time field.
// The monotonic ones are authoritative for expiry/staleness decisions
// whenever they're populated (internal/claims.Kernel fills them in from
// its own clock.Source whenever it itself last acquired, renewed, or
// heartbeat the lease); the wall ones are the persisted audit record and
// the only fallback available for a lease this process rebuilt from the
// on-disk log without ever having touched it directly, since a monotonic
// reading cannot be serialized or compared across processes.
type Lease struct {
	LeaseID    string
	IssueID    string
	WorktreeID string
	AgentID    string

	AcquiredAtWall time.Time
	AcquiredAtMono time.Duration

	TTLSecs int64
	// Indefinite reports whether TTLSecs == 0: no expiry, staleness
	// derived from heartbeat gap instead.
	Indefinite bool

	ExpiresAtWall *time.Time
	ExpiresAtMono *time.Duration

	LastBeatWall time.Time
	LastBeatMono time.Duration

	Stale  bool
	Reason string
}

// Owner reports whether the (agentID, worktreeID) pair named is the
// owner of this lease, per spec §3.4's ownership rule.
func (l *Lease) Owner(agentID, worktreeID string) bool {
	return l.AgentID == agentID && l.WorktreeID == worktreeID
}

// ClaimsIndex is the derived mapping of issue ID to its single active
// lease (spec §3.4). At most one active lease exists per issue ID (P4).
type ClaimsIndex struct {
	ByIssue map[string]*Lease
}

// NewClaimsIndex returns an empty index.
func NewClaimsIndex() *ClaimsIndex {
	return &ClaimsIndex{ByIssue: make(map[string]*Lease)}
}

// Get returns the active lease for issueID, if any.
func (idx *ClaimsIndex) Get(issueID string) (*Lease, bool) {
	if idx == nil {
		return nil, false
	}
	l, ok := idx.ByIssue[issueID]
	return l, ok
}

// CountIndefiniteFor counts indefinite leases currently held by agentID
// across the whole index (spec §4.3.3 policy check).
func (idx *ClaimsIndex) CountIndefiniteFor(agentID string) int {
	n := 0
	for _, l := range idx.ByIssue {
		if l.Indefinite && l.AgentID == agentID {
			n++
		}
	}
	return n
}

// CountIndefinite counts every indefinite lease in the index.
func (idx *ClaimsIndex) CountIndefinite() int {
	n := 0
	for _, l := range idx.ByIssue {
		if l.Indefinite {
			n++
		}
	}
	return n
}
