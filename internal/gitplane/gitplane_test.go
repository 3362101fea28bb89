package gitplane

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	run("add", "README")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestCommonDirAndControlPlaneDir(t *testing.T) {
	dir := setupGitRepo(t)
	p := New(dir)

	common, err := p.CommonDir()
	if err != nil {
		t.Fatalf("CommonDir: %v", err)
	}
	if filepath.Base(common) != ".git" {
		t.Errorf("CommonDir = %q, want a path ending in .git", common)
	}

	control, err := p.ControlPlaneDir()
	if err != nil {
		t.Fatalf("ControlPlaneDir: %v", err)
	}
	if filepath.Base(control) != "jit" || filepath.Dir(control) != common {
		t.Errorf("ControlPlaneDir = %q, want <common>/jit", control)
	}
}

func TestListWorktreesSingleMain(t *testing.T) {
	dir := setupGitRepo(t)
	p := New(dir)

	wts, err := p.ListWorktrees()
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(wts) != 1 {
		t.Fatalf("ListWorktrees = %v, want exactly the main worktree", wts)
	}
	if !SamePath(wts[0].Path, dir) {
		t.Errorf("worktree path = %q, want %q", wts[0].Path, dir)
	}

	main, err := p.MainWorktree()
	if err != nil {
		t.Fatalf("MainWorktree: %v", err)
	}
	if !SamePath(main, dir) {
		t.Errorf("MainWorktree = %q, want %q", main, dir)
	}
}

func TestReadBlobAndListBlobFiles(t *testing.T) {
	dir := setupGitRepo(t)
	p := New(dir)

	data, err := p.ReadBlob("HEAD", "README")
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadBlob content = %q, want \"hello\"", data)
	}

	if _, err := p.ReadBlob("HEAD", "nonexistent.txt"); err == nil {
		t.Error("ReadBlob(nonexistent.txt) should report NotFound")
	}

	names, err := p.ListBlobFiles("HEAD", ".")
	if err != nil {
		t.Fatalf("ListBlobFiles: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "README" {
			found = true
		}
	}
	if !found {
		t.Errorf("ListBlobFiles = %v, want README present", names)
	}
}

func TestDivergedAheadOnly(t *testing.T) {
	dir := setupGitRepo(t)
	p := New(dir)
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("branch", "base")

	if err := os.WriteFile(filepath.Join(dir, "second.txt"), []byte("more"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	run("add", "second.txt")
	run("commit", "-q", "-m", "second")

	div, err := p.Diverged("base")
	if err != nil {
		t.Fatalf("Diverged: %v", err)
	}
	if div.Ahead != 1 || div.Behind != 0 {
		t.Errorf("Diverged = %+v, want Ahead=1 Behind=0", div)
	}
}
