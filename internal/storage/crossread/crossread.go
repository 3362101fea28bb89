// Package crossread wraps a local jsonstore.Store with the three-tier
// cross-worktree read resolution spec §4.6 requires: local .jit/ first,
// then the committed blob at git HEAD, then the main worktree's local
// .jit/. Only LoadIssue and ListIssues are overridden; every other
// Storage operation (events, gates, claims) delegates straight through
// to the local store, since those are either per-worktree-authoritative
// (data plane writes) or already control-plane-shared (claims, via the
// common controlDir every jsonstore.Store in one repository shares).
package crossread

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/jitvcs/jit/internal/gitplane"
	"github.com/jitvcs/jit/internal/jerrors"
	"github.com/jitvcs/jit/internal/storage"
	"github.com/jitvcs/jit/internal/storage/jsonstore"
	"github.com/jitvcs/jit/internal/types"
)

// Store layers tier-2/tier-3 reads over a local jsonstore.Store.
type Store struct {
	*jsonstore.Store // tier 1: local data plane; also the delegate for every non-overridden method

	plane *gitplane.Plane
	rev   string // git revision tier 2 reads from; "HEAD" in production
}

// New returns a Store that reads local's data plane first, falling
// back to plane's git HEAD and main-worktree tiers.
func New(local *jsonstore.Store, plane *gitplane.Plane) *Store {
	return &Store{Store: local, plane: plane, rev: "HEAD"}
}

const issuesRelDir = ".jit/issues"

// mainStore returns a jsonstore.Store rooted at the repository's main
// worktree, and false if this Store's own data plane already IS the
// main worktree's (tier 3 would degenerate to tier 1).
func (s *Store) mainStore() (*jsonstore.Store, bool) {
	if s.plane == nil {
		return nil, false
	}
	main, err := s.plane.MainWorktree()
	if err != nil {
		return nil, false
	}
	localRoot := filepath.Dir(s.Store.DataDir())
	if gitplane.SamePath(main, localRoot) {
		return nil, false
	}
	return jsonstore.New(filepath.Join(main, ".jit"), "", 0), true
}

// LoadIssue resolves idOrPrefix against the union of ids visible from
// all three tiers, then reads from whichever tier first has an exact
// hit (spec §4.6: "the first hit wins").
func (s *Store) LoadIssue(ctx context.Context, idOrPrefix string) (*types.Issue, error) {
	localIDs, err := s.Store.ListIssueIDs(ctx)
	if err != nil {
		return nil, err
	}
	union := dedupe(localIDs)
	union = append(union, s.tier2IDs()...)

	main, haveMain := s.mainStore()
	if haveMain {
		if ids, err := main.ListIssueIDs(ctx); err == nil {
			union = append(union, ids...)
		}
	}
	union = dedupe(union)

	id, err := storage.ResolvePrefix(union, idOrPrefix)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, jerrors.NotFound("issue", idOrPrefix)
	}

	if issue, err := s.Store.LoadIssue(ctx, id); err == nil {
		return issue, nil
	}
	if issue, ok := s.readTier2(id); ok {
		return issue, nil
	}
	if haveMain {
		if issue, err := main.LoadIssue(ctx, id); err == nil {
			return issue, nil
		}
	}
	return nil, jerrors.NotFound("issue", idOrPrefix)
}

// ListIssues returns the union of all three tiers, deduplicated by id
// with tier 1 overriding tier 2 overriding tier 3 (spec §4.6).
func (s *Store) ListIssues(ctx context.Context) ([]*types.Issue, error) {
	byID := map[string]*types.Issue{}

	if main, ok := s.mainStore(); ok {
		if list, err := main.ListIssues(ctx); err == nil {
			for _, issue := range list {
				byID[issue.ID] = issue
			}
		}
	}

	for _, id := range s.tier2IDs() {
		if issue, ok := s.readTier2(id); ok {
			byID[issue.ID] = issue
		}
	}

	localList, err := s.Store.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	for _, issue := range localList {
		byID[issue.ID] = issue
	}

	out := make([]*types.Issue, 0, len(byID))
	for _, issue := range byID {
		out = append(out, issue)
	}
	return out, nil
}

func (s *Store) tier2IDs() []string {
	if s.plane == nil {
		return nil
	}
	names, err := s.plane.ListBlobFiles(s.rev, issuesRelDir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, n := range names {
		if strings.HasSuffix(n, ".json") && n != "index.json" {
			ids = append(ids, strings.TrimSuffix(n, ".json"))
		}
	}
	return ids
}

func (s *Store) readTier2(id string) (*types.Issue, bool) {
	if s.plane == nil {
		return nil, false
	}
	data, err := s.plane.ReadBlob(s.rev, issuesRelDir+"/"+id+".json")
	if err != nil {
		return nil, false
	}
	var issue types.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, false
	}
	return &issue, true
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

var _ storage.Storage = (*Store)(nil)
