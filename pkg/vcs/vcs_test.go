package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"bimport/pkg/ierr"
)

func runOrSkip(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("git %v unavailable or failed: %v: %s", args, err, out)
	}
}

func newRepoWithTag(t *testing.T, tag string) string {
	t.Helper()
	dir := t.TempDir()
	runOrSkip(t, dir, "init", "-q", "-b", "master")
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	runOrSkip(t, dir, "add", ".")
	runOrSkip(t, dir, "commit", "-q", "-m", "initial")
	if tag != "" {
		runOrSkip(t, dir, "tag", tag)
	}
	return dir
}

func TestOpenRejectsNonRoot(t *testing.T) {
	dir := newRepoWithTag(t, "")
	sub := filepath.Join(dir, "subdir")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), sub); err == nil {
		t.Errorf("Open(subdir) succeeded, want error since it's not the repo root")
	}
	if _, err := Open(context.Background(), dir); err != nil {
		t.Errorf("Open(root) failed: %v", err)
	}
}

func TestCheckoutVersionCandidates(t *testing.T) {
	dir := newRepoWithTag(t, "v1.2.3")
	repo, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	versionInUse, ref, err := repo.CheckoutVersion(context.Background(), "somelib", "1.2.3", false)
	if err != nil {
		t.Fatalf("CheckoutVersion error: %v", err)
	}
	if versionInUse != "1.2.3" || ref != "v1.2.3" {
		t.Errorf("CheckoutVersion = (%q, %q), want (1.2.3, v1.2.3)", versionInUse, ref)
	}
}

func TestCheckoutVersionNotFound(t *testing.T) {
	dir := newRepoWithTag(t, "")
	repo, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	_, _, err = repo.CheckoutVersion(context.Background(), "somelib", "9.9.9", false)
	if !ierr.Is(err, ierr.RefNotFound) {
		t.Errorf("CheckoutVersion with no match = %v, want RefNotFound", err)
	}
}

func TestCheckoutVersionMasterFallback(t *testing.T) {
	dir := newRepoWithTag(t, "")
	repo, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	versionInUse, ref, err := repo.CheckoutVersion(context.Background(), "somelib", "9.9.9", true)
	if err != nil {
		t.Fatalf("CheckoutVersion error: %v", err)
	}
	if versionInUse != "master" || ref != "master" {
		t.Errorf("CheckoutVersion fallback = (%q, %q), want (master, master)", versionInUse, ref)
	}
}
