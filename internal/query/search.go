package query

import "github.com/jitvcs/jit/internal/types"

// SearchOptions normalizes the options an external content-search tool
// (e.g. ripgrep) is invoked with over the .jit/issues/ tree and
// referenced documents (spec §4.7, §1's explicit exclusion of search
// itself: the core only shapes the invocation contract, never shells out
// to the tool directly).
type SearchOptions struct {
	Regex         bool
	Glob          string
	CaseSensitive bool
}

// SearchResult pairs one external tool match with the issue it belongs
// to, letting callers merge content hits with issue metadata.
type SearchResult struct {
	IssueID string
	Path    string
	Line    int
	Text    string
}

// MergeWithIssues attaches each result's issue metadata by id, dropping
// results whose issue id is not present in issues (e.g. a stale match
// against a deleted issue file).
func MergeWithIssues(results []SearchResult, issues []*types.Issue) []SearchResult {
	known := make(map[string]bool, len(issues))
	for _, i := range issues {
		known[i.ID] = true
	}
	var out []SearchResult
	for _, r := range results {
		if known[r.IssueID] {
			out = append(out, r)
		}
	}
	return out
}
