// Package mirror implements the mirror-descriptor set: the on-disk
// record of where each upstream project's source lives, keyed by name
// and searchable by the ecosystem-specific product name an extension
// reports. Grounded on the original tool's lorryset.py, restructured
// onto the lazyjson atomic-write manager.
package mirror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bimport/pkg/ierr"
	"bimport/pkg/lazyjson"
)

// Descriptor is one mirror entry: where a project's source repository
// lives, plus whatever ecosystem-specific fields ("x-products-pypi" and
// similar) extensions attached to it.
type Descriptor struct {
	Name  string
	URL   string
	Extra map[string]any
}

// MarshalJSON flattens Extra into top-level keys alongside name/url, the
// way the original tool's lorry files store "x-products-<kind>" fields
// next to "url".
func (d Descriptor) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	for k, v := range d.Extra {
		m[k] = v
	}
	m["url"] = d.URL
	return json.Marshal(m)
}

// UnmarshalJSON reconstructs Extra from every key but "url". Name is set
// separately by the Set loader, which knows the entry's key.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	d.Extra = map[string]any{}
	for k, v := range m {
		if k == "url" {
			s, ok := v.(string)
			if !ok {
				return ierr.New(ierr.InvalidDescriptor, "url field is not a string")
			}
			d.URL = s
			continue
		}
		d.Extra[k] = v
	}
	return nil
}

// productKey is the field name an ecosystem kind's product list is
// stored under, e.g. "x-products-pypi".
func productKey(kind string) string { return "x-products-" + kind }

// normalizeURL strips a trailing slash so two URLs differing only in
// that respect compare equal, per the original tool's rstrip('/')
// comparison.
func normalizeURL(u string) string { return strings.TrimRight(u, "/") }

type file struct {
	path    string
	mgr     lazyjson.Manager[map[string]Descriptor]
	dirname string
}

// Set is the mirror-descriptor set for one import run: every descriptor
// file under a directory, merged into a single name-keyed index.
type Set struct {
	dir     string
	files   []*file
	byName  map[string]*Descriptor
	fileOf  map[string]*file
}

// Load reads every "*.lorry.json" file directly in dir into a Set;
// subdirectories of dir are not searched. A project name defined in
// more than one file is a DescriptorConflict. Descriptor files use the
// suffix ".lorry.json" (rather than the original tool's bare ".lorry")
// so the format is apparent from the filename alone.
func Load(dir string) (*Set, error) {
	s := &Set{
		dir:    dir,
		byName: map[string]*Descriptor{},
		fileOf: map[string]*file{},
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating descriptor dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing descriptor dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lorry.json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		mgr := lazyjson.New[map[string]Descriptor](path,
			lazyjson.WithDefaultValue(func() *map[string]Descriptor {
				m := map[string]Descriptor{}
				return &m
			}),
		)
		f := &file{path: path, mgr: mgr, dirname: e.Name()}
		data, err := mgr.Get()
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		s.files = append(s.files, f)
		for name, d := range *data {
			dd := d
			dd.Name = name
			if _, ok := s.byName[name]; ok {
				return nil, ierr.New(ierr.DescriptorConflict,
					fmt.Sprintf("descriptor %q is defined in more than one file", name))
			}
			s.byName[name] = &dd
			s.fileOf[name] = f
		}
	}
	return s, nil
}

// checkConflict compares non-"x-" fields of two descriptors claiming the
// same name and returns an error if any of them disagree.
func checkConflict(a, b *Descriptor) error {
	if normalizeURL(a.URL) != normalizeURL(b.URL) {
		return fmt.Errorf("url mismatch: %q vs %q", a.URL, b.URL)
	}
	for k, av := range a.Extra {
		if strings.HasPrefix(k, "x-") {
			continue
		}
		if bv, ok := b.Extra[k]; ok {
			aj, _ := json.Marshal(av)
			bj, _ := json.Marshal(bv)
			if string(aj) != string(bj) {
				return fmt.Errorf("field %q mismatch", k)
			}
		}
	}
	return nil
}

// mergeProducts unions every "x-products-*" list field of b into a.
func mergeProducts(a, b *Descriptor) {
	for k, bv := range b.Extra {
		if !strings.HasPrefix(k, "x-products-") {
			continue
		}
		bl, ok := bv.([]any)
		if !ok {
			continue
		}
		al, _ := a.Extra[k].([]any)
		seen := map[string]bool{}
		for _, v := range al {
			seen[fmt.Sprint(v)] = true
		}
		for _, v := range bl {
			if !seen[fmt.Sprint(v)] {
				al = append(al, v)
				seen[fmt.Sprint(v)] = true
			}
		}
		a.Extra[k] = al
	}
}

// Get returns the descriptor registered under name, if any.
func (s *Set) Get(name string) (*Descriptor, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// FindByProduct scans every descriptor's "x-products-<kind>" list for
// packageName, returning the first match. This is a linear scan, as in
// the original lorryset.find_lorry_for_package.
func (s *Set) FindByProduct(kind, packageName string) (*Descriptor, bool) {
	key := productKey(kind)
	// Deterministic order: sort names before scanning.
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		d := s.byName[n]
		products, ok := d.Extra[key].([]any)
		if !ok {
			continue
		}
		for _, p := range products {
			if fmt.Sprint(p) == packageName {
				return d, true
			}
		}
	}
	return nil, false
}

// Add inserts a new descriptor or merges it into an existing one with
// the same name, then writes the owning file. filename names the file a
// newly created descriptor is stored in; it is ignored when merging into
// an existing descriptor.
func (s *Set) Add(filename string, d Descriptor) error {
	if d.Name == "" {
		return ierr.New(ierr.InvalidDescriptor, "descriptor name must not be empty")
	}
	if d.URL == "" {
		return ierr.New(ierr.InvalidDescriptor, "descriptor url must not be empty")
	}

	if existing, ok := s.byName[d.Name]; ok {
		if err := checkConflict(existing, &d); err != nil {
			return ierr.Wrap(ierr.DescriptorConflict,
				fmt.Sprintf("descriptor %q conflicts with existing entry", d.Name), err)
		}
		mergeProducts(existing, &d)
		f := s.fileOf[d.Name]
		return s.save(f)
	}

	path := filepath.Join(s.dir, filename)
	f := s.findFile(path)
	if f == nil {
		mgr := lazyjson.New[map[string]Descriptor](path,
			lazyjson.WithDefaultValue(func() *map[string]Descriptor {
				m := map[string]Descriptor{}
				return &m
			}),
		)
		f = &file{path: path, mgr: mgr, dirname: filename}
		s.files = append(s.files, f)
	}
	s.byName[d.Name] = &d
	s.fileOf[d.Name] = f
	return s.save(f)
}

func (s *Set) findFile(path string) *file {
	for _, f := range s.files {
		if f.path == path {
			return f
		}
	}
	return nil
}

func (s *Set) save(f *file) error {
	out := map[string]Descriptor{}
	for name, fo := range s.fileOf {
		if fo == f {
			out[name] = *s.byName[name]
		}
	}
	if err := f.mgr.Modify(func(m *map[string]Descriptor) error {
		*m = out
		return nil
	}); err != nil {
		return err
	}
	if err := f.mgr.Save(); err != nil {
		return fmt.Errorf("saving descriptor file %s: %w", f.path, err)
	}
	slog.Debug("mirror descriptor written", "file", f.path, "entries", len(out))
	return nil
}
