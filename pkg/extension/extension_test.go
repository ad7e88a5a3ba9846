package extension

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bimport/pkg/ierr"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("writing script %s: %v", name, err)
	}
}

func TestRunnerRunSuccess(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pypi.to_lorry", `echo "{\"$1\": {\"url\": \"https://example.com/$1\"}}"`)

	r := NewRunner(dir)
	out, err := r.Run(context.Background(), "pypi.to_lorry", []string{"requests"}, dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out == "" {
		t.Errorf("Run returned empty stdout")
	}
}

func TestRunnerRunFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pypi.to_chunk", `echo "boom" 1>&2; exit 3`)

	r := NewRunner(dir)
	_, err := r.Run(context.Background(), "pypi.to_chunk", []string{"requests", "", ""}, dir)
	if !ierr.Is(err, ierr.ExtensionFailed) {
		t.Fatalf("Run error = %v, want ExtensionFailed", err)
	}
	code, _ := ierr.CodeOf(err)
	if code != ierr.ExtensionFailed {
		t.Errorf("unexpected code %v", code)
	}
}

func TestSubprocessImporterDispatch(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pypi.find_deps", `echo "{\"pypi\": {\"build-dependencies\": {}, \"runtime-dependencies\": {}}}"`)

	imp := NewSubprocessImporter(NewRunner(dir), "pypi")
	out, err := imp.FindDeps(context.Background(), nil, dir, "requests", "2.31.0")
	if err != nil {
		t.Fatalf("FindDeps error: %v", err)
	}
	if out == "" {
		t.Errorf("FindDeps returned empty output")
	}
}

func TestSubprocessImporterArgumentOrder(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pypi.to_chunk", `echo "$@"`)

	imp := NewSubprocessImporter(NewRunner(dir), "pypi")
	out, err := imp.ToChunk(context.Background(), []string{"--registry", "https://pypi.org"}, "/checkout/requests", "requests", "2.31.0")
	if err != nil {
		t.Fatalf("ToChunk error: %v", err)
	}
	want := "--registry https://pypi.org /checkout/requests requests 2.31.0\n"
	if out != want {
		t.Errorf("ToChunk args = %q, want %q", out, want)
	}
}
