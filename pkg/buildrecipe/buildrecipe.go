// Package buildrecipe implements the recipe set: the cached, on-disk
// build recipe for each (repo, ref) a run has already processed, plus
// the gzip-compressed dependency-list cache alongside it. Grounded on
// the original tool's morphsetondisk.py, using YAML the way a recipe
// document (a "chunk morph") was always YAML in that tool.
package buildrecipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"bimport/pkg/pkgref"
)

// Recipe is one package's cached build recipe: the fields an extension's
// to_chunk call filled in, plus whatever it emitted that this system
// doesn't interpret directly.
type Recipe struct {
	Name     string
	Kind     string
	RepoURL  string
	Ref      string
	// NamedRef is the human-readable ref (tag or branch name) that
	// resolved to Ref, kept for diagnostics and emitted as the aggregate
	// recipe's unpetrify-ref.
	NamedRef string
	Filename string

	// BuildDependencies is keyed by ecosystem kind, then dependency name,
	// wire-encoded one field per kind as "x-build-dependencies-<kind>",
	// the way the original tool's chunk morphs carried per-ecosystem
	// dependency lists alongside the fields this system interprets
	// directly.
	BuildDependencies map[string]map[string]string

	Extra map[string]any
}

// buildDepsPrefix is the wire-field prefix a to_chunk document uses for
// each ecosystem kind's build-dependency list.
const buildDepsPrefix = "x-build-dependencies-"

// MarshalYAML flattens BuildDependencies into one "x-build-dependencies-
// <kind>" field per kind, alongside Extra and the named fields, mirroring
// mirror.Descriptor's JSON flatten/unflatten.
func (r Recipe) MarshalYAML() (any, error) {
	m := make(map[string]any, len(r.Extra)+len(r.BuildDependencies)+6)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["name"] = r.Name
	m["kind"] = r.Kind
	if r.RepoURL != "" {
		m["repo-url"] = r.RepoURL
	}
	if r.Ref != "" {
		m["ref"] = r.Ref
	}
	if r.NamedRef != "" {
		m["named-ref"] = r.NamedRef
	}
	if r.Filename != "" {
		m["filename"] = r.Filename
	}
	for kind, deps := range r.BuildDependencies {
		m[buildDepsPrefix+kind] = deps
	}
	return m, nil
}

// UnmarshalYAML reconstructs BuildDependencies from every
// "x-build-dependencies-<kind>" key and Extra from everything else,
// mirroring mirror.Descriptor's JSON flatten/unflatten.
func (r *Recipe) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	r.Extra = map[string]any{}
	r.BuildDependencies = map[string]map[string]string{}
	for k, v := range raw {
		switch k {
		case "name":
			r.Name, _ = v.(string)
		case "kind":
			r.Kind, _ = v.(string)
		case "repo-url":
			r.RepoURL, _ = v.(string)
		case "ref":
			r.Ref, _ = v.(string)
		case "named-ref":
			r.NamedRef, _ = v.(string)
		case "filename":
			r.Filename, _ = v.(string)
		default:
			if strings.HasPrefix(k, buildDepsPrefix) {
				deps, err := toStringMap(v)
				if err != nil {
					return fmt.Errorf("decoding %s: %w", k, err)
				}
				r.BuildDependencies[strings.TrimPrefix(k, buildDepsPrefix)] = deps
				continue
			}
			r.Extra[k] = v
		}
	}
	return nil
}

// toStringMap coerces a decoded YAML mapping into map[string]string,
// stringifying non-string values rather than failing on them.
func toStringMap(v any) (map[string]string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
	out := make(map[string]string, len(m))
	for k, vv := range m {
		if s, ok := vv.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", vv)
		}
	}
	return out, nil
}

// key identifies a cached recipe by the same (repo, ref, path) triple the
// original MorphologySetOnDisk.get_morphology used.
type key struct {
	repoURL string
	ref     string
	path    string
}

// Set is the set of recipes cached for one import run.
type Set struct {
	dir     string
	recipes map[key]*Recipe
}

// Load reads every "*.recipe.yaml" file under dir.
func Load(dir string) (*Set, error) {
	s := &Set{dir: dir, recipes: map[key]*Recipe{}}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating recipe dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing recipe dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".recipe.yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var r Recipe
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		k := key{repoURL: r.RepoURL, ref: r.Ref, path: r.Filename}
		// repo-url/ref are per-run context, not persisted identity, so
		// unset them after load exactly as load_all_morphologies did.
		r.RepoURL = ""
		r.Ref = ""
		s.recipes[k] = &r
	}
	return s, nil
}

// Get looks up a cached recipe by the repo/ref/path it was generated
// for.
func (s *Set) Get(repoURL, ref, path string) (*Recipe, bool) {
	r, ok := s.recipes[key{repoURL, ref, path}]
	return r, ok
}

// GetByPath looks up a recipe by its filename alone, ignoring the
// (repoURL, ref) it was generated against. The aggregate emitter only
// knows a package's recipe path, not the exact commit that produced it,
// so it needs this rather than Get.
func (s *Set) GetByPath(path string) (*Recipe, bool) {
	for k, r := range s.recipes {
		if k.path == path {
			return r, true
		}
	}
	return nil, false
}

// filename derives a stable on-disk name for a recipe from its identity.
func filename(name, ref string) string {
	return fmt.Sprintf("%s.%s.recipe.yaml", name, ref)
}

// Save writes a recipe, keyed by repoURL/ref/path for future Get calls,
// atomically (temp file + rename, matching lazyjson.saveLocked).
func (s *Set) Save(repoURL, ref, path string, r *Recipe) error {
	k := key{repoURL: repoURL, ref: ref, path: path}
	s.recipes[k] = r

	out := *r
	out.RepoURL = ""
	out.Ref = ""
	out.Filename = path
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling recipe: %w", err)
	}

	target := filepath.Join(s.dir, filename(r.Name, ref))
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp recipe file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming recipe file: %w", err)
	}
	return nil
}

// FormatBuildDep renders a recipe's build-dependency entry the way the
// original tool's format_build_dep did: "name-version_in_use".
func FormatBuildDep(r *pkgref.Record) string {
	return fmt.Sprintf("%s-%s", r.Name, r.VersionInUse)
}

// DependencyCache persists the foreign-dependencies list an extension's
// find_deps produced for one package, gzip-compressed since these lists
// can be large for ecosystems with deep transitive graphs.
type DependencyCache struct{ dir string }

// NewDependencyCache returns a cache rooted at dir.
func NewDependencyCache(dir string) (*DependencyCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating dependency cache dir: %w", err)
	}
	return &DependencyCache{dir: dir}, nil
}

func (c *DependencyCache) path(name, version string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s-%s.foreign-dependencies.json.gz", name, version))
}

// Load returns the cached dependency lists for (name, version), if any.
func (c *DependencyCache) Load(name, version string) (*pkgref.DependencyLists, bool) {
	f, err := os.Open(c.path(name, version))
	if err != nil {
		return nil, false
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, false
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, false
	}
	var dl pkgref.DependencyLists
	if err := json.Unmarshal(raw, &dl); err != nil {
		return nil, false
	}
	return &dl, true
}

// Save writes the dependency lists for (name, version), gzip-compressed,
// atomically.
func (c *DependencyCache) Save(name, version string, dl *pkgref.DependencyLists) error {
	raw, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshaling dependency list: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("compressing dependency list: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	target := c.path(name, version)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing temp dependency cache file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming dependency cache file: %w", err)
	}
	return nil
}

// sortedNames returns the keys of a dependency map in sorted order.
func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
