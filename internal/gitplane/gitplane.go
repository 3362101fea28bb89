// Package gitplane resolves the shared git common directory and
// enumerates worktrees, and reads committed blobs, backing spec §4.6's
// cross-worktree three-tier read resolution and the control-plane path
// at <git-common-dir>/jit/. Grounded on the teacher's
// internal/git/worktree.go: shelling out to git throughout, parsing
// `git worktree list --porcelain`, and comparing paths through
// filepath.EvalSymlinks the way the teacher's isValidWorktree does.
package gitplane

import (
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jitvcs/jit/internal/jerrors"
)

// Plane locates the data- and control-plane roots for a repository
// rooted at worktreeRoot.
type Plane struct {
	worktreeRoot string
}

// New returns a Plane anchored at worktreeRoot (normally the process's
// current working directory, or an ancestor of it containing .git).
func New(worktreeRoot string) *Plane {
	return &Plane{worktreeRoot: worktreeRoot}
}

// DataPlaneDir returns <worktreeRoot>/.jit.
func (p *Plane) DataPlaneDir() string {
	return filepath.Join(p.worktreeRoot, ".jit")
}

// CommonDir shells out to `git rev-parse --git-common-dir` to find the
// shared git directory, which is the same path across every worktree of
// one repository (spec §6.1's "shared control plane").
func (p *Plane) CommonDir() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--git-common-dir")
	cmd.Dir = p.worktreeRoot
	out, err := cmd.Output()
	if err != nil {
		return "", jerrors.Io(err)
	}
	dir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.worktreeRoot, dir)
	}
	return filepath.Clean(dir), nil
}

// ControlPlaneDir returns <git-common-dir>/jit.
func (p *Plane) ControlPlaneDir() (string, error) {
	common, err := p.CommonDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(common, "jit"), nil
}

// Worktree describes one entry from `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Head   string
	Branch string
	Bare   bool
}

// ListWorktrees enumerates every worktree of the repository p belongs
// to, parsed from `git worktree list --porcelain` the way the teacher's
// isValidWorktree parses the same output.
func (p *Plane) ListWorktrees() ([]Worktree, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = p.worktreeRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, jerrors.Io(err)
	}

	var worktrees []Worktree
	var cur *Worktree
	flush := func() {
		if cur != nil {
			worktrees = append(worktrees, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if cur != nil {
				cur.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				cur.Branch = strings.TrimPrefix(line, "branch ")
			}
		case line == "bare":
			if cur != nil {
				cur.Bare = true
			}
		case line == "":
			flush()
		}
	}
	flush()
	return worktrees, nil
}

// MainWorktree returns the first (main) worktree reported by git, which
// is always listed first by `git worktree list`.
func (p *Plane) MainWorktree() (string, error) {
	wts, err := p.ListWorktrees()
	if err != nil {
		return "", err
	}
	if len(wts) == 0 {
		return "", jerrors.NotFound("worktree", "main")
	}
	return wts[0].Path, nil
}

// SamePath reports whether a and b name the same filesystem location,
// resolving symlinks where possible and falling back to Abs when a path
// does not exist yet — matching the teacher's isValidWorktree tolerance
// for not-yet-created paths.
func SamePath(a, b string) bool {
	ra := resolve(a)
	rb := resolve(b)
	return ra == rb
}

func resolve(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return filepath.Clean(real)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}

// ListBlobFiles lists the file names directly under dir at rev via
// `git ls-tree --name-only`, implementing the directory-listing half of
// tier 2 in spec §4.6 (enumerating committed issue ids without reading
// every blob). An empty or missing tree is reported as an empty list,
// not an error.
func (p *Plane) ListBlobFiles(rev, dir string) ([]string, error) {
	cmd := exec.Command("git", "ls-tree", "--name-only", rev+":"+dir)
	cmd.Dir = p.worktreeRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// ReadBlob reads the committed content of path at rev via `git show
// rev:path`, implementing tier 2 of spec §4.6's three-tier resolution.
// A missing path at rev is reported as jerrors.NotFound, not a generic
// I/O error, so callers can fall through to tier 3.
func (p *Plane) ReadBlob(rev, path string) ([]byte, error) {
	cmd := exec.Command("git", "show", rev+":"+path)
	cmd.Dir = p.worktreeRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, jerrors.NotFound("blob", rev+":"+path)
	}
	return out, nil
}

// Divergence reports how far HEAD has drifted from baseRef: the number
// of commits each side has that the other lacks, via `git rev-list
// --left-right --count`.
type Divergence struct {
	Ahead, Behind int
}

// Diverged computes HEAD's divergence from baseRef (e.g. "origin/main"),
// backing the validate(--divergence) check in spec §4.5: a worktree with
// commits the main branch lacks (Ahead > 0) may be holding issue state
// that the control plane's other worktrees can't yet see at tier 2.
func (p *Plane) Diverged(baseRef string) (Divergence, error) {
	cmd := exec.Command("git", "rev-list", "--left-right", "--count", baseRef+"...HEAD")
	cmd.Dir = p.worktreeRoot
	out, err := cmd.Output()
	if err != nil {
		return Divergence{}, jerrors.Io(err)
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return Divergence{}, jerrors.Io(errors.New("unexpected `git rev-list --left-right --count` output: " + string(out)))
	}
	behind, err := strconv.Atoi(fields[0])
	if err != nil {
		return Divergence{}, jerrors.Io(err)
	}
	ahead, err := strconv.Atoi(fields[1])
	if err != nil {
		return Divergence{}, jerrors.Io(err)
	}
	return Divergence{Ahead: ahead, Behind: behind}, nil
}
