package executor

import (
	"context"

	"github.com/jitvcs/jit/internal/graph"
	"github.com/jitvcs/jit/internal/types"
)

// issueNode adapts *types.Issue to graph.Node, so internal/graph never
// needs to know about the issue shape (spec §9's "cyclic object graphs"
// design note: the graph indexes by id only).
type issueNode struct{ issue *types.Issue }

func (n issueNode) ID() string             { return n.issue.ID }
func (n issueNode) Dependencies() []string { return n.issue.Dependencies }

// buildGraph loads every issue and constructs the dependency graph over
// them, returning both for callers that need per-issue lookups alongside
// graph queries.
func (x *Executor) buildGraph(ctx context.Context) (*graph.Graph, map[string]*types.Issue, error) {
	issues, err := x.store.ListIssues(ctx)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*types.Issue, len(issues))
	nodes := make([]graph.Node, 0, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
		nodes = append(nodes, issueNode{issue: issue})
	}
	return graph.Build(nodes), byID, nil
}
