// Package jsonstore implements storage.Storage over the two on-disk
// file trees spec §4.1/§6.1 describes: the data plane
// (<worktree>/.jit/{issues,gates.json,events.jsonl}) and the control
// plane (<git-common-dir>/jit/{claims.jsonl,claims.index.json,locks/}).
// Every publish is atomic (temp file, fsync, rename); every mutating
// operation except ClaimsIndexSave holds an internal/lockfile-scoped
// advisory lock, acquired in the global order spec §5 requires: claims
// lock, then gates/index lock, then per-issue lock. ClaimsIndexSave takes
// no lock of its own. Grounded on the teacher's
// internal/daemon/registry.go withFileLock pattern (lock-guarded
// read-modify-write over a JSON file) generalized from a single
// registry file to this spec's two-plane layout.
package jsonstore

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/tidwall/gjson"

	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/lockfile"
	"github.com/jitvcs/jit/internal/storage"
	"github.com/jitvcs/jit/internal/types"
)

// Store is the filesystem-backed Storage implementation.
type Store struct {
	dataDir    string // <worktree>/.jit
	controlDir string // <git-common-dir>/jit
	timeout    time.Duration
}

// New returns a Store rooted at dataDir (data plane) and controlDir
// (control plane), using timeout for every lock acquisition.
func New(dataDir, controlDir string, timeout time.Duration) *Store {
	return &Store{dataDir: dataDir, controlDir: controlDir, timeout: timeout}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) issuesDir() string   { return filepath.Join(s.dataDir, "issues") }
func (s *Store) issuePath(id string) string {
	return filepath.Join(s.issuesDir(), id+".json")
}
func (s *Store) sumPath(id string) string {
	return filepath.Join(s.issuesDir(), id+".sum")
}
func (s *Store) indexPath() string   { return filepath.Join(s.issuesDir(), "index.json") }
func (s *Store) gatesPath() string   { return filepath.Join(s.dataDir, "gates.json") }
func (s *Store) eventsPath() string  { return filepath.Join(s.dataDir, "events.jsonl") }

func (s *Store) claimsLogPath() string   { return filepath.Join(s.controlDir, "claims.jsonl") }
func (s *Store) claimsIndexPath() string { return filepath.Join(s.controlDir, "claims.index.json") }
func (s *Store) lockPath(name string) string {
	return filepath.Join(s.controlDir, "locks", name+".lock")
}

// writeAtomic durably publishes data at path: write to a sibling temp
// file, fsync it, then rename over path. A failed fsync or rename
// surfaces an error with the previous file left untouched (spec §4.1's
// "write paths fail closed").
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return jerrors.Io(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return jerrors.Io(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return jerrors.Io(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return jerrors.Io(err)
	}
	if err := tmp.Close(); err != nil {
		return jerrors.Io(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return jerrors.Io(err)
	}
	return nil
}

// appendAtomic appends a single line to path under the caller's lock,
// fsyncing before returning so the write is durable (spec §4.1
// append_event, §4.3.3 step 5's fsync durability requirement).
func appendAtomic(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return jerrors.Io(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return jerrors.Io(err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return jerrors.Io(err)
	}
	return f.Sync()
}

func contentHash(v any) (uint64, error) {
	return hashstructure.Hash(v, hashstructure.FormatV2, nil)
}

// --- Issues ---

func (s *Store) localIssueIDs() ([]string, error) {
	entries, err := os.ReadDir(s.issuesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, jerrors.Io(err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".json") && name != "index.json" {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListIssueIDs returns every issue id known to the local data plane,
// without decoding the issue files. Exposed for internal/storage/crossread,
// which needs id lists from several sources before deciding which one
// to actually read (spec §4.6).
func (s *Store) ListIssueIDs(_ context.Context) ([]string, error) {
	return s.localIssueIDs()
}

// DataDir returns the data-plane root this Store was constructed with.
func (s *Store) DataDir() string { return s.dataDir }

func (s *Store) readIssueFile(id string) (*types.Issue, error) {
	data, err := os.ReadFile(s.issuePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jerrors.NotFound("issue", id)
		}
		return nil, jerrors.Io(err)
	}
	var issue types.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, jerrors.Io(err)
	}

	if sum, err := os.ReadFile(s.sumPath(id)); err == nil {
		want := strings.TrimSpace(string(sum))
		got, herr := contentHash(issue)
		if herr == nil && want != "" && want != formatHash(got) {
			return nil, jerrors.ChecksumMismatch(s.issuePath(id))
		}
	}
	return &issue, nil
}

func formatHash(h uint64) string {
	return strconv.FormatUint(h, 10)
}

func (s *Store) LoadIssue(_ context.Context, idOrPrefix string) (*types.Issue, error) {
	ids, err := s.localIssueIDs()
	if err != nil {
		return nil, err
	}
	id, err := storage.ResolvePrefix(ids, idOrPrefix)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, jerrors.NotFound("issue", idOrPrefix)
	}
	return s.readIssueFile(id)
}

func (s *Store) SaveIssue(_ context.Context, issue *types.Issue) error {
	if issue.ID == "" {
		return jerrors.InvalidArgument("id", "must not be empty")
	}
	lockPath := s.lockPath("issue-" + issue.ID)
	return lockfile.With(lockPath, lockfile.Exclusive, s.timeout, func() error {
		data, err := json.MarshalIndent(issue, "", "  ")
		if err != nil {
			return jerrors.Io(err)
		}
		if err := writeAtomic(s.issuePath(issue.ID), data); err != nil {
			return err
		}
		if h, err := contentHash(*issue); err == nil {
			_ = writeAtomic(s.sumPath(issue.ID), []byte(formatHash(h)))
		}
		return s.rewriteIndex()
	})
}

func (s *Store) DeleteIssue(_ context.Context, id string) error {
	lockPath := s.lockPath("issue-" + id)
	return lockfile.With(lockPath, lockfile.Exclusive, s.timeout, func() error {
		if _, err := os.Stat(s.issuePath(id)); err != nil {
			if os.IsNotExist(err) {
				return jerrors.NotFound("issue", id)
			}
			return jerrors.Io(err)
		}
		if err := os.Remove(s.issuePath(id)); err != nil {
			return jerrors.Io(err)
		}
		os.Remove(s.sumPath(id))
		return s.rewriteIndex()
	})
}

func (s *Store) ListIssues(ctx context.Context) ([]*types.Issue, error) {
	ids, err := s.localIssueIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Issue, 0, len(ids))
	for _, id := range ids {
		issue, err := s.readIssueFile(id)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}

// rewriteIndex regenerates issues/index.json as a flat id list (spec
// §6.1's "optional flat list of known ids"). Called with the per-issue
// lock already held by the caller; best-effort only, never the source
// of truth.
func (s *Store) rewriteIndex() error {
	ids, err := s.localIssueIDs()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(struct {
		Ids []string `json:"ids"`
	}{Ids: ids}, "", "  ")
	if err != nil {
		return jerrors.Io(err)
	}
	return writeAtomic(s.indexPath(), data)
}

// --- Events ---

func (s *Store) AppendEvent(_ context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return jerrors.Io(err)
	}
	lockPath := s.lockPath("events")
	return lockfile.With(lockPath, lockfile.Exclusive, s.timeout, func() error {
		return appendAtomic(s.eventsPath(), data)
	})
}

func (s *Store) ListEvents(_ context.Context, issueID string, limit int) ([]types.Event, error) {
	data, err := os.ReadFile(s.eventsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, jerrors.Io(err)
	}
	var out []types.Event
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		// Peek issue_id with gjson before paying for a full decode (spec
		// §6.3's event log is append-only and can grow large per-issue);
		// this also tolerates a future writer adding fields json.Unmarshal
		// into types.Event would otherwise choke on only if they broke the
		// "issue_id" key itself, which the peek already guards against.
		if issueID != "" && gjson.GetBytes(line, "issue_id").String() != issueID {
			continue
		}
		var e types.Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // forward-compat: tolerate unparsable stray lines
		}
		if issueID == "" || e.IssueID == issueID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// --- Gates ---

func (s *Store) LoadGates(_ context.Context) (*types.GateRegistry, error) {
	lockPath := s.lockPath("gates")
	var reg *types.GateRegistry
	err := lockfile.With(lockPath, lockfile.Shared, s.timeout, func() error {
		data, err := os.ReadFile(s.gatesPath())
		if err != nil {
			if os.IsNotExist(err) {
				reg = types.NewGateRegistry()
				return nil
			}
			return jerrors.Io(err)
		}
		reg = types.NewGateRegistry()
		return json.Unmarshal(data, reg)
	})
	return reg, err
}

func (s *Store) SaveGates(_ context.Context, reg *types.GateRegistry) error {
	lockPath := s.lockPath("gates")
	return lockfile.With(lockPath, lockfile.Exclusive, s.timeout, func() error {
		data, err := json.MarshalIndent(reg, "", "  ")
		if err != nil {
			return jerrors.Io(err)
		}
		return writeAtomic(s.gatesPath(), data)
	})
}

// --- Claims log (control plane) ---

// WithClaimsLock runs fn once, holding the control-plane claims.lock
// exclusively for the entire call: ops is the full persisted history as
// of lock acquisition, and every call to the appendOp it's given appends
// under that same lock hold rather than re-acquiring it. This is the
// single critical section spec §4.3.3's atomic acquire protocol
// (rebuild -> decide -> append) requires; ClaimLogAppend below is just
// the one-op special case of it.
func (s *Store) WithClaimsLock(_ context.Context, fn func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error) error {
	lockPath := s.lockPath("claims")
	return lockfile.With(lockPath, lockfile.Exclusive, s.timeout, func() error {
		ops, err := s.readClaimLogUnlocked()
		if err != nil {
			return err
		}
		var maxSeq int64
		for _, e := range ops {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}
		appendOp := func(op types.ClaimOp) (types.ClaimOp, error) {
			maxSeq++
			op.Seq = maxSeq
			op.SchemaVersion = 1
			data, err := json.Marshal(op)
			if err != nil {
				return types.ClaimOp{}, jerrors.Io(err)
			}
			if err := appendAtomic(s.claimsLogPath(), data); err != nil {
				return types.ClaimOp{}, err
			}
			ops = append(ops, op)
			return op, nil
		}
		return fn(ops, appendOp)
	})
}

func (s *Store) ClaimLogAppend(ctx context.Context, op types.ClaimOp) (types.ClaimOp, error) {
	var result types.ClaimOp
	err := s.WithClaimsLock(ctx, func(_ []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error {
		recorded, err := appendOp(op)
		if err != nil {
			return err
		}
		result = recorded
		return nil
	})
	return result, err
}

func (s *Store) readClaimLogUnlocked() ([]types.ClaimOp, error) {
	data, err := os.ReadFile(s.claimsLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, jerrors.Io(err)
	}
	var out []types.ClaimOp
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var op types.ClaimOp
		if err := json.Unmarshal(line, &op); err != nil {
			return nil, jerrors.Io(err)
		}
		out = append(out, op)
	}
	return out, nil
}

func (s *Store) ClaimLogAll(_ context.Context) ([]types.ClaimOp, error) {
	lockPath := s.lockPath("claims")
	var out []types.ClaimOp
	err := lockfile.With(lockPath, lockfile.Shared, s.timeout, func() error {
		ops, err := s.readClaimLogUnlocked()
		if err != nil {
			return err
		}
		out = ops
		return nil
	})
	return out, err
}

func (s *Store) ClaimsIndexLoad(_ context.Context) (*types.ClaimsIndex, bool, error) {
	data, err := os.ReadFile(s.claimsIndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, jerrors.Io(err)
	}
	var wire wireClaimsIndex
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false, jerrors.Io(err)
	}
	return wire.toIndex(), true, nil
}

func (s *Store) ClaimsIndexSave(_ context.Context, idx *types.ClaimsIndex) error {
	wire := fromIndex(idx)
	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return jerrors.Io(err)
	}
	return writeAtomic(s.claimsIndexPath(), data)
}

// wireClaimsIndex is the on-disk snapshot shape for claims.index.json,
// purely an optimization (spec §4.1): correctness never depends on it
// existing or being current, only on replaying claims.jsonl.
type wireClaimsIndex struct {
	ByIssue map[string]*types.Lease `json:"by_issue"`
}

func fromIndex(idx *types.ClaimsIndex) wireClaimsIndex {
	return wireClaimsIndex{ByIssue: idx.ByIssue}
}

func (w wireClaimsIndex) toIndex() *types.ClaimsIndex {
	idx := types.NewClaimsIndex()
	for k, v := range w.ByIssue {
		idx.ByIssue[k] = v
	}
	return idx
}
