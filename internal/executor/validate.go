package executor

import (
	"context"
	"sort"

	"github.com/jitvcs/jit/internal/claims"
	"github.com/jitvcs/jit/internal/graph"
	"github.com/jitvcs/jit/internal/types"
	"github.com/jitvcs/jit/internal/validation"
)

// ValidateOptions selects the optional, more expensive checks validate()
// runs beyond its always-on structural pass (spec §4.5).
type ValidateOptions struct {
	// Leases cross-checks the claims index against the issue set.
	Leases bool
	// Divergence reports HEAD's commit divergence from BaseRef, when a
	// git plane is attached via Executor.WithGitPlane.
	Divergence bool
	BaseRef    string
	// Fix applies the safe repairs validate() can make on its own
	// initiative: dropping broken dependency references, removing
	// transitively-redundant edges, and evicting expired leases.
	Fix bool
}

// ValidateReport is the structured result of validate() (spec §4.5):
// every category is independently populated, empty when clean.
type ValidateReport struct {
	BrokenDependencies []BrokenDepProblem
	Cycles             []string // cause chain, if the graph isn't a DAG
	InvalidGateKeys    []InvalidGateProblem
	LabelProblems      []LabelProblem
	OrphanedTypeLabels []string // issue ids using an undeclared type label
	RedundantEdges     []graph.Reduction
	LeaseProblems      []LeaseProblem
	Divergence         *struct{ Ahead, Behind int }
	Fixed              []string // human-readable description of each repair applied
}

type BrokenDepProblem struct {
	IssueID string
	Missing string
}

type InvalidGateProblem struct {
	IssueID string
	GateKey string
}

type LabelProblem struct {
	IssueID string
	Problem string
}

type LeaseProblem struct {
	LeaseID string
	IssueID string
	Problem string
}

// Validate runs validate() (spec §4.5): a structural integrity sweep over
// every issue and, when requested, the lease index and branch
// divergence. With opts.Fix, safe repairs are applied and logged.
func (x *Executor) Validate(ctx context.Context, opts ValidateOptions) (*ValidateReport, error) {
	issues, err := x.store.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}

	report := &ValidateReport{}

	g, _, err := x.buildGraph(ctx)
	if err != nil {
		return nil, err
	}

	for _, issue := range issues {
		var missing []string
		for _, dep := range issue.Dependencies {
			if _, ok := byID[dep]; !ok {
				report.BrokenDependencies = append(report.BrokenDependencies, BrokenDepProblem{IssueID: issue.ID, Missing: dep})
				missing = append(missing, dep)
			}
		}
		if opts.Fix && len(missing) > 0 {
			issue.Dependencies = dropAll(issue.Dependencies, missing)
			if err := x.store.SaveIssue(ctx, issue); err != nil {
				return nil, err
			}
			x.appendEvent(ctx, types.EventIssueUpdated, issue.ID, map[string]any{"validate_fix": "dropped broken dependencies", "removed": missing})
			report.Fixed = append(report.Fixed, issue.ID+": dropped broken dependencies "+joinIDs(missing))
		}
	}

	if _, err := g.TopologicalRank(nil); err != nil {
		if jerr, ok := asJErr(err); ok {
			report.Cycles = jerr.Causes
		} else {
			report.Cycles = []string{err.Error()}
		}
	}

	gates, err := x.store.LoadGates(ctx)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		keys := append(append([]string{}, issue.GatesInPhase(types.PhasePrecheck)...), issue.GatesInPhase(types.PhasePostcheck)...)
		for _, key := range keys {
			if _, ok := gates.Lookup(key); !ok {
				report.InvalidGateKeys = append(report.InvalidGateKeys, InvalidGateProblem{IssueID: issue.ID, GateKey: key})
			}
		}
	}

	for _, issue := range issues {
		for _, problem := range validation.AllLabels(x.cfg, issue) {
			report.LabelProblems = append(report.LabelProblems, LabelProblem{IssueID: issue.ID, Problem: problem})
		}
		if typ, ok := issue.TypeLabel(); ok && len(x.cfg.TypeHierarchy.Types) > 0 {
			if _, declared := x.cfg.TypeHierarchy.Types[typ]; !declared && !x.cfg.TypeHierarchy.IsStrategic(typ) {
				report.OrphanedTypeLabels = append(report.OrphanedTypeLabels, issue.ID)
			}
		}
	}

	ids := make([]string, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.ID)
	}
	sort.Strings(ids)
	if len(report.Cycles) == 0 {
		redundant := g.TransitiveReduction(ids)
		report.RedundantEdges = redundant
		if opts.Fix {
			for _, r := range redundant {
				issue := byID[r.From]
				issue.Dependencies = dropAll(issue.Dependencies, []string{r.To})
				if err := x.store.SaveIssue(ctx, issue); err != nil {
					return nil, err
				}
				x.appendEvent(ctx, types.EventIssueUpdated, issue.ID, map[string]any{"validate_fix": "removed redundant dependency", "removed": r.To})
				report.Fixed = append(report.Fixed, r.From+": removed redundant dependency on "+r.To)
			}
		}
	}

	if opts.Leases {
		if err := x.validateLeases(ctx, byID, opts.Fix, report); err != nil {
			return nil, err
		}
	}

	if opts.Divergence && x.git != nil {
		div, err := x.git.Diverged(opts.BaseRef)
		if err != nil {
			return nil, err
		}
		report.Divergence = &struct{ Ahead, Behind int }{Ahead: div.Ahead, Behind: div.Behind}
	}

	return report, nil
}

func (x *Executor) validateLeases(ctx context.Context, byID map[string]*types.Issue, fix bool, report *ValidateReport) error {
	wall, mono := x.clock.Now()
	idx, err := x.claims.Index(ctx, wall, mono)
	if err != nil {
		return err
	}
	for issueID, lease := range idx.ByIssue {
		if _, ok := byID[issueID]; !ok {
			report.LeaseProblems = append(report.LeaseProblems, LeaseProblem{LeaseID: lease.LeaseID, IssueID: issueID, Problem: "lease references a nonexistent issue"})
			continue
		}
		if claims.IsExpired(lease, wall, mono) {
			report.LeaseProblems = append(report.LeaseProblems, LeaseProblem{LeaseID: lease.LeaseID, IssueID: issueID, Problem: "lease is expired but not yet evicted"})
			if fix {
				if err := x.claims.ForceEvict(ctx, lease.LeaseID, "validate --fix: expired lease eviction"); err != nil {
					return err
				}
				report.Fixed = append(report.Fixed, lease.LeaseID+": force-evicted expired lease")
			}
		}
	}
	return nil
}

func dropAll(ids []string, drop []string) []string {
	set := make(map[string]bool, len(drop))
	for _, d := range drop {
		set[d] = true
	}
	var out []string
	for _, id := range ids {
		if !set[id] {
			out = append(out, id)
		}
	}
	return out
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}

