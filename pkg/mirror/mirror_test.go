package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"bimport/pkg/ierr"
)

func TestAddAndGet(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	d := Descriptor{Name: "requests", URL: "https://github.com/psf/requests"}
	if err := s.Add("requests.lorry.json", d); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	got, ok := s.Get("requests")
	if !ok || got.URL != d.URL {
		t.Errorf("Get(requests) = (%+v, %v), want matching descriptor", got, ok)
	}

	if _, err := os.Stat(filepath.Join(dir, "requests.lorry.json")); err != nil {
		t.Errorf("descriptor file was not written: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	got2, ok := reloaded.Get("requests")
	if !ok || got2.URL != d.URL {
		t.Errorf("reloaded Get(requests) = (%+v, %v)", got2, ok)
	}
}

func TestAddConflict(t *testing.T) {
	dir := t.TempDir()
	s, _ := Load(dir)

	if err := s.Add("a.lorry.json", Descriptor{Name: "flask", URL: "https://example.com/flask"}); err != nil {
		t.Fatalf("first Add error: %v", err)
	}
	err := s.Add("b.lorry.json", Descriptor{Name: "flask", URL: "https://example.com/other-flask"})
	if !ierr.Is(err, ierr.DescriptorConflict) {
		t.Errorf("Add with conflicting url = %v, want DescriptorConflict", err)
	}
}

func TestAddMergesProducts(t *testing.T) {
	dir := t.TempDir()
	s, _ := Load(dir)

	base := Descriptor{
		Name: "ruby-gems", URL: "https://example.com/gems",
		Extra: map[string]any{"x-products-gem": []any{"rails"}},
	}
	if err := s.Add("gems.lorry.json", base); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	more := Descriptor{
		Name: "ruby-gems", URL: "https://example.com/gems",
		Extra: map[string]any{"x-products-gem": []any{"rake"}},
	}
	if err := s.Add("gems.lorry.json", more); err != nil {
		t.Fatalf("merging Add error: %v", err)
	}

	d, ok := s.FindByProduct("gem", "rails")
	if !ok || d.Name != "ruby-gems" {
		t.Errorf("FindByProduct(rails) = (%+v, %v)", d, ok)
	}
	d2, ok := s.FindByProduct("gem", "rake")
	if !ok || d2.Name != "ruby-gems" {
		t.Errorf("FindByProduct(rake) = (%+v, %v)", d2, ok)
	}
}

func TestAddRejectsEmptyFields(t *testing.T) {
	dir := t.TempDir()
	s, _ := Load(dir)
	if err := s.Add("x.lorry.json", Descriptor{URL: "https://example.com"}); !ierr.Is(err, ierr.InvalidDescriptor) {
		t.Errorf("Add with empty name = %v, want InvalidDescriptor", err)
	}
	if err := s.Add("x.lorry.json", Descriptor{Name: "x"}); !ierr.Is(err, ierr.InvalidDescriptor) {
		t.Errorf("Add with empty url = %v, want InvalidDescriptor", err)
	}
}
