// Package extension runs the per-ecosystem extension subprocesses that
// turn a package name into a mirror descriptor, a build recipe, or a
// dependency list, grounded on the original tool's run_extension and on
// the teacher's os/exec subprocess-construction style (pkg/bubblewrap).
package extension

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"bimport/pkg/ierr"
)

// Importer is the pluggable dispatch design note 9 calls for: the three
// operations an ecosystem plugin performs. Implementations may shell out
// to an extension subprocess (Runner, below) or run in-process
// (pkg/script.ScriptedImporter). extraArgs is the enabled importer's
// configured extra-argument list (spec.md §4.1/§6: "extra_args ++
// [...]"), prepended ahead of the positional arguments on every call.
type Importer interface {
	ToLorry(ctx context.Context, extraArgs []string, packageName string) (string, error)
	ToChunk(ctx context.Context, extraArgs []string, checkoutDir, packageName, version string) (string, error)
	FindDeps(ctx context.Context, extraArgs []string, checkoutDir, packageName, version string) (string, error)
}

// Runner locates and invokes named extension executables under a
// configured directory.
type Runner struct {
	Dir string
}

// NewRunner returns a Runner that resolves extension names under dir.
func NewRunner(dir string) *Runner {
	return &Runner{Dir: dir}
}

// Run invokes toolName with args in cwd, streaming stdout and stderr
// line-by-line, forwarding stderr lines to the debug log, and returning
// the captured stdout; stdout bytes after the last newline are discarded.
// A non-zero exit produces an *ierr.Error with code
// ExtensionFailed carrying the exit code and captured stderr.
func (r *Runner) Run(ctx context.Context, toolName string, args []string, cwd string) (string, error) {
	path := filepath.Join(r.Dir, toolName)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = cwd

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("creating stdout pipe for %s: %w", toolName, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("creating stderr pipe for %s: %w", toolName, err)
	}

	if err := cmd.Start(); err != nil {
		return "", ierr.Wrap(ierr.ExtensionFailed, fmt.Sprintf("starting extension %s", toolName), err)
	}

	var stdout, stderr strings.Builder
	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		rd := bufio.NewReader(stdoutPipe)
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				break // a final line with no terminating newline is dropped
			}
			stdout.WriteString(line)
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		s := bufio.NewScanner(stderrPipe)
		for s.Scan() {
			line := s.Text()
			stderr.WriteString(line)
			stderr.WriteByte('\n')
			slog.Debug("extension stderr", "tool", toolName, "line", line)
		}
	}()
	<-done
	<-done

	err = cmd.Wait()
	out := stdout.String()
	slog.Debug("extension finished", "tool", toolName, "stdout_bytes", humanize.Bytes(uint64(len(out))))

	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return "", ierr.Wrap(ierr.ExtensionFailed,
			fmt.Sprintf("extension %s exited with status %d", toolName, code), err).
			WithContext(map[string]any{"tool": toolName, "code": code, "stderr": stderr.String()})
	}
	return out, nil
}

// SubprocessImporter implements Importer by shelling out to
// "<kind>.to_lorry", "<kind>.to_chunk" and "<kind>.find_deps" under the
// runner's extension directory.
type SubprocessImporter struct {
	Runner *Runner
	Kind   string
}

func NewSubprocessImporter(r *Runner, kind string) *SubprocessImporter {
	return &SubprocessImporter{Runner: r, Kind: kind}
}

func (s *SubprocessImporter) ToLorry(ctx context.Context, extraArgs []string, packageName string) (string, error) {
	args := append(append([]string{}, extraArgs...), packageName)
	return s.Runner.Run(ctx, s.Kind+".to_lorry", args, ".")
}

func (s *SubprocessImporter) ToChunk(ctx context.Context, extraArgs []string, checkoutDir, packageName, version string) (string, error) {
	args := append(append([]string{}, extraArgs...), checkoutDir, packageName)
	if version != "" {
		args = append(args, version)
	}
	return s.Runner.Run(ctx, s.Kind+".to_chunk", args, ".")
}

func (s *SubprocessImporter) FindDeps(ctx context.Context, extraArgs []string, checkoutDir, packageName, version string) (string, error) {
	args := append(append([]string{}, extraArgs...), checkoutDir, packageName)
	if version != "" {
		args = append(args, version)
	}
	return s.Runner.Run(ctx, s.Kind+".find_deps", args, ".")
}
