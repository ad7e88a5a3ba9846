// Package pkgref implements the Package record: one in-flight unit of
// work in an import run, together with the arena that owns all records
// for a run so the queue, the processed graph and required_by chains can
// refer to a package by a stable handle instead of a pointer.
package pkgref

import (
	"fmt"
	"strings"
)

// Handle identifies a Record within an Arena. The zero Handle is never
// issued by New, so a zero value reliably means "no such package".
type Handle int

// DependencyLists holds the build and runtime dependency names/version
// constraints an extension's find_deps reported for one package, keyed by
// dependency project name.
type DependencyLists struct {
	BuildDependencies   map[string]string
	RuntimeDependencies map[string]string
}

// Record is one Package: a (kind, name, version) triple plus the
// bookkeeping the import loop accumulates as it processes it.
type Record struct {
	Kind    string
	Name    string
	Version string

	// VersionInUse is the version actually checked out, which may differ
	// from Version when no exact ref exists and a fallback is used.
	VersionInUse string

	RequiredBy []string
	IsBuildDep bool

	RecipeFilename string
	Dependencies   *DependencyLists
}

// String renders "name-version, required by: a, b, c" the way the
// original tool's Package.__str__ did.
func (r *Record) String() string {
	s := fmt.Sprintf("%s-%s", r.Name, r.Version)
	if len(r.RequiredBy) > 0 {
		s += ", required by: " + strings.Join(r.RequiredBy, ", ")
	}
	return s
}

// AddRequiredBy appends a "name-version" provenance entry.
func (r *Record) AddRequiredBy(name, version string) {
	r.RequiredBy = append(r.RequiredBy, fmt.Sprintf("%s-%s", name, version))
}

// Match reports whether this record is the same (kind, name) pair, and if
// version is non-empty, whether the versions also match.
func (r *Record) Match(kind, name, version string) bool {
	if r.Kind != kind || r.Name != name {
		return false
	}
	return version == "" || r.Version == version
}

// Less orders records lexicographically by name.
func Less(a, b *Record) bool { return a.Name < b.Name }

// Arena owns every Record created during one import run.
type Arena struct {
	records []*Record
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{records: []*Record{{}}} // index 0 reserved
}

// New allocates a Record and returns its Handle.
func (a *Arena) New(kind, name, version string) Handle {
	r := &Record{Kind: kind, Name: name, Version: version, VersionInUse: version}
	a.records = append(a.records, r)
	return Handle(len(a.records) - 1)
}

// Get dereferences a Handle. It panics on an out-of-range handle, which
// indicates a bug in the caller rather than a recoverable runtime state.
func (a *Arena) Get(h Handle) *Record {
	return a.records[h]
}

// Find returns the handle of the first record matching (kind, name,
// version), or 0, false if none exists.
func (a *Arena) Find(kind, name, version string) (Handle, bool) {
	for i := 1; i < len(a.records); i++ {
		if a.records[i].Match(kind, name, version) {
			return Handle(i), true
		}
	}
	return 0, false
}

// All returns every handle allocated so far, in allocation order.
func (a *Arena) All() []Handle {
	out := make([]Handle, 0, len(a.records)-1)
	for i := 1; i < len(a.records); i++ {
		out = append(out, Handle(i))
	}
	return out
}
