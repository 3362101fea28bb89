// Package memstore is an in-memory implementation of storage.Storage,
// used by the executor/claims/query test suites and by embedders that
// want a throwaway sandbox with no filesystem footprint. It has no
// cross-process visibility — the control-plane semantics spec §5
// describes are meaningless here, which is why the concurrent-acquire
// boundary test (spec §8 scenario 3) also runs against jsonstore.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/storage"
	"github.com/jitvcs/jit/internal/types"
)

// Store is a mutex-guarded in-memory Storage implementation.
type Store struct {
	mu sync.RWMutex

	issues map[string]*types.Issue
	events []types.Event
	gates  *types.GateRegistry

	claimLog []types.ClaimOp
	nextSeq  int64
	index    *types.ClaimsIndex
}

// New returns an empty store.
func New() *Store {
	return &Store{
		issues: make(map[string]*types.Issue),
		gates:  types.NewGateRegistry(),
	}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) ids() []string {
	ids := make([]string, 0, len(s.issues))
	for id := range s.issues {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) LoadIssue(_ context.Context, idOrPrefix string) (*types.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := storage.ResolvePrefix(s.ids(), idOrPrefix)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, jerrors.NotFound("issue", idOrPrefix)
	}
	return s.issues[id].Clone(), nil
}

func (s *Store) SaveIssue(_ context.Context, issue *types.Issue) error {
	if issue.ID == "" {
		return jerrors.InvalidArgument("id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[issue.ID] = issue.Clone()
	return nil
}

func (s *Store) DeleteIssue(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[id]; !ok {
		return jerrors.NotFound("issue", id)
	}
	delete(s.issues, id)
	return nil
}

func (s *Store) ListIssues(_ context.Context) ([]*types.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Issue, 0, len(s.issues))
	for _, i := range s.issues {
		out = append(out, i.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) AppendEvent(_ context.Context, event types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListEvents(_ context.Context, issueID string, limit int) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Event
	for _, e := range s.events {
		if issueID == "" || e.IssueID == issueID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) LoadGates(_ context.Context) (*types.GateRegistry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := types.NewGateRegistry()
	for k, v := range s.gates.Gates {
		out.Gates[k] = v
	}
	return out, nil
}

func (s *Store) SaveGates(_ context.Context, reg *types.GateRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := types.NewGateRegistry()
	for k, v := range reg.Gates {
		out.Gates[k] = v
	}
	s.gates = out
	return nil
}

// WithClaimsLock runs fn once, holding s.mu for the entire call so
// rebuild -> decide -> append (spec §4.3.3) runs as one critical
// section instead of a read followed by a separately-locked append.
func (s *Store) WithClaimsLock(_ context.Context, fn func(ops []types.ClaimOp, appendOp func(types.ClaimOp) (types.ClaimOp, error)) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]types.ClaimOp, len(s.claimLog))
	copy(ops, s.claimLog)
	appendOp := func(op types.ClaimOp) (types.ClaimOp, error) {
		s.nextSeq++
		op.Seq = s.nextSeq
		s.claimLog = append(s.claimLog, op)
		ops = append(ops, op)
		return op, nil
	}
	return fn(ops, appendOp)
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

func (s *Store) ClaimLogAll(_ context.Context) ([]types.ClaimOp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ClaimOp, len(s.claimLog))
	copy(out, s.claimLog)
	return out, nil
}

func (s *Store) ClaimsIndexLoad(_ context.Context) (*types.ClaimsIndex, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return nil, false, nil
	}
	return s.index, true, nil
}

func (s *Store) ClaimsIndexSave(_ context.Context, idx *types.ClaimsIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = idx
	return nil
}
