// Package vcs wraps the external git binary and the external
// mirror-fetch tool, the two collaborators spec.md explicitly treats as
// outside the system's core logic. Grounded on the original tool's
// GitDirectory subclass and its _run_lorry/_fetch_or_update_source
// shelling, reimplemented with os/exec in the teacher's
// pkg/bubblewrap process-construction style.
package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"bimport/pkg/ierr"
)

// Repo is a checked-out working copy rooted at Dir.
type Repo struct {
	Dir string
}

// Open returns a Repo for an existing working copy at dir, refusing to
// proceed if dir isn't itself a git repository root (rather than letting
// git's normal upward-search land on some unrelated parent repo), the
// same guard the original GitDirectory subclass added.
func Open(ctx context.Context, dir string) (*Repo, error) {
	out, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("opening git dir %s: %w", dir, err)
	}
	top := strings.TrimSpace(out)
	if cleanPath(top) != cleanPath(dir) {
		return nil, fmt.Errorf("%s is not the root of a git repository (root is %s)", dir, top)
	}
	return &Repo{Dir: dir}, nil
}

func cleanPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return filepath.Clean(abs)
}

// Clone clones repopath into dir and returns the resulting Repo.
func Clone(ctx context.Context, repopath, dir string) (*Repo, error) {
	if _, err := runGitIn(ctx, ".", "clone", repopath, dir); err != nil {
		return nil, ierr.Wrap(ierr.ImportFailed, fmt.Sprintf("cloning %s", repopath), err)
	}
	return Open(ctx, dir)
}

// UpdateRemotes fetches every configured remote.
func (r *Repo) UpdateRemotes(ctx context.Context) error {
	if _, err := runGit(ctx, r.Dir, "remote", "update"); err != nil {
		return ierr.Wrap(ierr.ImportFailed, "updating remotes", err)
	}
	return nil
}

// HasRef reports whether ref resolves to a commit in this repo.
func (r *Repo) HasRef(ctx context.Context, ref string) bool {
	_, err := runGit(ctx, r.Dir, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// Checkout checks out ref.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	if _, err := runGit(ctx, r.Dir, "checkout", ref); err != nil {
		return ierr.Wrap(ierr.ImportFailed, fmt.Sprintf("checking out %s", ref), err)
	}
	return nil
}

// ResolveRefToCommit returns the commit sha1 a ref resolves to.
func (r *Repo) ResolveRefToCommit(ctx context.Context, ref string) (string, error) {
	out, err := runGit(ctx, r.Dir, "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("resolving ref %s: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// CheckoutVersion tries each of the candidate refs a version might be
// tagged as (version, "v"+version, "name-version"), checking out the
// first that exists. If none exist and useMaster is true, it falls back
// to the default branch and reports version "master". Otherwise it
// returns RefNotFound.
func (r *Repo) CheckoutVersion(ctx context.Context, name, version string, useMaster bool) (versionInUse, ref string, err error) {
	candidates := []string{version, "v" + version, fmt.Sprintf("%s-%s", name, version)}
	for _, c := range candidates {
		if r.HasRef(ctx, c) {
			if err := r.Checkout(ctx, c); err != nil {
				return "", "", err
			}
			return version, c, nil
		}
	}
	if useMaster {
		if err := r.Checkout(ctx, "master"); err != nil {
			return "", "", err
		}
		return "master", "master", nil
	}
	return "", "", ierr.New(ierr.RefNotFound,
		fmt.Sprintf("could not find ref for %s version %s (tried %v)", name, version, candidates))
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	return runGitIn(ctx, dir, args...)
}

func runGitIn(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// MirrorDescriptor is the subset of a mirror descriptor the external
// fetch tool needs: a name and a URL.
type MirrorDescriptor struct {
	Name string
	URL  string
}

// FetchMirror shells out to the configured external mirror-fetch tool
// (default "lorry", matching the original), passing the descriptor
// serialized to a temp file, exactly as the original tool's _run_lorry
// did with tempfile.NamedTemporaryFile.
func FetchMirror(ctx context.Context, toolName, workingDir string, d MirrorDescriptor) error {
	if toolName == "" {
		toolName = "lorry"
	}
	doc := map[string]map[string]string{d.Name: {"url": d.URL}}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling mirror descriptor: %w", err)
	}

	f, err := os.CreateTemp("", "bimport-mirror-*.json")
	if err != nil {
		return fmt.Errorf("creating temp descriptor file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("writing temp descriptor file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp descriptor file: %w", err)
	}

	cmd := exec.CommandContext(ctx, toolName,
		"--working-area", workingDir,
		"--pull-only", "--bundle", "never", "--tarball", "never", f.Name())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ierr.Wrap(ierr.ImportFailed,
			fmt.Sprintf("mirror-fetch tool %s failed", toolName), err).
			WithContext(map[string]any{"output": strings.TrimSpace(string(out))})
	}
	return nil
}
