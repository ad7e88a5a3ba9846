// Package aggregate implements the aggregate-recipe emitter: once the
// import loop's queue is drained, assemble the goal's stratum-equivalent
// document from every processed package in build order. Grounded on the
// original tool's _generate_stratum_morph_if_none_exists /
// _sort_chunks_by_build_order.
package aggregate

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"bimport/pkg/buildrecipe"
	"bimport/pkg/depgraph"
	"bimport/pkg/pkgref"
)

// ChunkEntry is one package's entry in the aggregate document.
type ChunkEntry struct {
	Name          string   `yaml:"name"`
	Repo          string   `yaml:"repo"`
	Ref           string   `yaml:"ref"`
	UnpetrifyRef  string   `yaml:"unpetrify-ref"`
	Morph         string   `yaml:"morph"`
	BuildDepends  []string `yaml:"build-depends"`
}

// Document is the emitted aggregate recipe.
type Document struct {
	Name         string       `yaml:"name"`
	Kind         string       `yaml:"kind"`
	Description  string       `yaml:"description"`
	BuildDepends []string     `yaml:"build-depends"`
	Chunks       []ChunkEntry `yaml:"chunks"`
}

// Loop is the subset of importloop.Loop the emitter needs, kept as an
// interface so it can be exercised without constructing a full loop.
type Loop interface {
	Arena() *pkgref.Arena
	Graph() *depgraph.Graph
	Recipes() *buildrecipe.Set
	HasErrors() bool
	GoalName() string
	ImporterKinds() []string
}

// Options controls the policy gate.
type Options struct {
	ForceStratumGeneration bool
	UpdateExisting         bool
}

// Emit applies the §4.7 policy gate and, if it passes, writes the
// aggregate recipe to targetPath. skipped reports whether the gate
// suppressed emission (not an error).
func Emit(l Loop, targetPath string, opts Options) (skipped bool, err error) {
	if !opts.ForceStratumGeneration {
		if l.HasErrors() {
			return true, nil
		}
		if _, statErr := os.Stat(targetPath); statErr == nil && !opts.UpdateExisting {
			return true, nil
		}
	}

	order, err := l.Graph().TopologicalOrder(func(h pkgref.Handle) string {
		return l.Arena().Get(h).Name
	})
	if err != nil {
		return false, err
	}

	doc := Document{
		Name:        l.GoalName(),
		Kind:        "stratum",
		Description: fmt.Sprintf("Auto-generated aggregate recipe for %s and its dependencies", l.GoalName()),
		BuildDepends: []string{"build-essential"},
	}

	for _, h := range order {
		rec := l.Arena().Get(h)
		if rec.RecipeFilename == "" {
			if opts.ForceStratumGeneration {
				continue // tolerate missing per-package recipes when forced
			}
			return false, fmt.Errorf("package %s has no recipe", rec)
		}
		recipe, ok := l.Recipes().GetByPath(rec.RecipeFilename)
		if !ok {
			if opts.ForceStratumGeneration {
				continue
			}
			return false, fmt.Errorf("no cached recipe for %s at %s", rec.Name, rec.RecipeFilename)
		}

		entry := ChunkEntry{
			Name:         rec.Name,
			Repo:         recipe.RepoURL,
			Ref:          recipe.Ref,
			UnpetrifyRef: recipe.NamedRef,
			Morph:        rec.RecipeFilename,
		}
		entry.BuildDepends = buildDependsFor(l, recipe)
		doc.Chunks = append(doc.Chunks, entry)
	}

	return false, writeAtomic(targetPath, &doc)
}

// buildDependsFor renders a recipe's build-dependency entries as
// "name-version_in_use" by looking each one up in the package arena.
func buildDependsFor(l Loop, recipe *buildrecipe.Recipe) []string {
	var out []string
	for _, kind := range l.ImporterKinds() {
		deps, ok := recipe.BuildDependencies[kind]
		if !ok {
			continue
		}
		for depName, depVersion := range deps {
			h, found := l.Arena().Find(kind, depName, depVersion)
			if !found {
				continue
			}
			out = append(out, buildrecipe.FormatBuildDep(l.Arena().Get(h)))
		}
	}
	return out
}

func writeAtomic(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating aggregate directory: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling aggregate recipe: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp aggregate file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming aggregate file: %w", err)
	}
	return nil
}
