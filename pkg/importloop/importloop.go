// Package importloop implements the import loop: the orchestrator that
// drains a work queue of packages, running each through the descriptor,
// source, version-pin, recipe and dependency steps of spec.md §4.5 and
// folding discovered dependencies back into the queue per §4.6.
// Grounded on the original tool's mainloop.ImportLoop, restructured as
// Go stage methods in the shape of the teacher's pkg/installer/stages.go.
package importloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bimport/pkg/buildrecipe"
	"bimport/pkg/config"
	"bimport/pkg/depgraph"
	"bimport/pkg/extension"
	"bimport/pkg/ierr"
	"bimport/pkg/lock"
	"bimport/pkg/mirror"
	"bimport/pkg/pkgref"
	"bimport/pkg/status"
	"bimport/pkg/vcs"
)

// ImporterConfig is one enabled ecosystem importer: its dispatch
// implementation plus the extra arguments passed ahead of the
// extension's positional arguments.
type ImporterConfig struct {
	Importer  extension.Importer
	ExtraArgs []string
}

// Loop holds all state for one import run: the arena, queue, processed
// graph, error map, descriptor/recipe sets and enabled importers.
type Loop struct {
	cfg      config.Config
	settings config.Settings
	sink     status.Sink

	goalKind, goalName, goalVersion string

	arena *pkgref.Arena
	graph *depgraph.Graph
	queue []pkgref.Handle

	errors map[pkgref.Handle]error

	descriptors *mirror.Set
	recipes     *buildrecipe.Set
	depCache    *buildrecipe.DependencyCache

	importers map[string]ImporterConfig

	releaseLock func() error
}

// New constructs a Loop for goal (kind, name, version). It takes an
// exclusive lock on the goal's slot in the state directory so a second
// bimport invocation for the same goal waits rather than racing the
// first over the same mirror/recipe/checkout tree; callers must call
// Close when done.
func New(cfg config.Config, settings config.Settings, sink status.Sink, goalKind, goalName, goalVersion string) (*Loop, error) {
	releaseLock, err := lock.Acquire(filepath.Join(cfg.StateDir(), goalName))
	if err != nil {
		return nil, fmt.Errorf("locking state directory: %w", err)
	}

	descriptors, err := mirror.Load(cfg.DescriptorDir())
	if err != nil {
		releaseLock()
		return nil, fmt.Errorf("loading mirror descriptors: %w", err)
	}
	recipeDir := filepath.Join(cfg.RecipeDir(), "strata", goalName)
	if err := os.MkdirAll(recipeDir, 0755); err != nil {
		releaseLock()
		return nil, fmt.Errorf("creating recipe directory: %w", err)
	}
	recipes, err := buildrecipe.Load(recipeDir)
	if err != nil {
		releaseLock()
		return nil, fmt.Errorf("loading recipes: %w", err)
	}
	depCache, err := buildrecipe.NewDependencyCache(recipeDir)
	if err != nil {
		releaseLock()
		return nil, err
	}

	return &Loop{
		cfg:         cfg,
		settings:    settings,
		sink:        sink,
		goalKind:    goalKind,
		goalName:    goalName,
		goalVersion: goalVersion,
		arena:       pkgref.NewArena(),
		graph:       depgraph.New(),
		errors:      map[pkgref.Handle]error{},
		descriptors: descriptors,
		recipes:     recipes,
		depCache:    depCache,
		importers:   map[string]ImporterConfig{},
		releaseLock: releaseLock,
	}, nil
}

// Close releases the state-directory lock taken by New. Safe to call
// once after the Loop is no longer needed.
func (l *Loop) Close() error {
	return l.releaseLock()
}

// EnableImporter registers the dispatch implementation for one
// ecosystem kind; it must be called before Run.
func (l *Loop) EnableImporter(kind string, imp extension.Importer, extraArgs ...string) {
	l.importers[kind] = ImporterConfig{Importer: imp, ExtraArgs: extraArgs}
}

// RunResult summarizes one completed run.
type RunResult struct {
	Processed int
	Errors    map[string]error // keyed by "name-version"
}

// Run drains the queue starting from the goal package and returns
// normally even if some packages failed; failures are reported through
// the status sink and returned in RunResult.Errors.
func (l *Loop) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	l.sink.Status("import of %s %s started", l.goalKind, l.goalName)

	goal := l.arena.New(l.goalKind, l.goalName, l.goalVersion)
	l.queue = append(l.queue, goal)

	for len(l.queue) > 0 {
		h := l.queue[len(l.queue)-1]
		l.queue = l.queue[:len(l.queue)-1]

		rec := l.arena.Get(h)
		if err := l.processPackage(ctx, h); err != nil {
			l.sink.Error("%s: %v", rec, err)
			l.errors[h] = err
		}
		l.graph.AddNode(h)

		if l.errors[h] == nil {
			l.enqueueDependencies(h)
		}
	}

	result := &RunResult{Processed: len(l.arena.All()), Errors: map[string]error{}}
	for h, err := range l.errors {
		rec := l.arena.Get(h)
		result.Errors[fmt.Sprintf("%s-%s", rec.Name, rec.Version)] = err
	}

	l.sink.Status("import of %s %s ended (took %s)", l.goalKind, l.goalName, time.Since(start).Round(time.Second))
	return result, nil
}

// processPackage runs the five per-package steps of spec.md §4.5.
func (l *Loop) processPackage(ctx context.Context, h pkgref.Handle) error {
	rec := l.arena.Get(h)
	imp, ok := l.importers[rec.Kind]
	if !ok {
		return fmt.Errorf("no importer enabled for kind %q", rec.Kind)
	}

	desc, err := l.descriptorStep(ctx, rec, imp)
	if err != nil {
		return err
	}

	repo, err := l.sourceStep(ctx, rec, desc)
	if err != nil {
		return err
	}

	versionInUse, ref, err := l.versionPinStep(ctx, repo, rec)
	if err != nil {
		return err
	}
	rec.VersionInUse = versionInUse

	recipe, commit, err := l.recipeStep(ctx, rec, imp, repo, desc, versionInUse, ref)
	if err != nil {
		return err
	}
	rec.RecipeFilename = recipeFilename(l.goalName, rec.Name, versionInUse)
	_ = commit

	deps, err := l.dependencyStep(ctx, rec, imp, repo, versionInUse)
	if err != nil {
		return err
	}
	rec.Dependencies = deps
	_ = recipe

	return nil
}

func recipeFilename(goalName, name, version string) string {
	return fmt.Sprintf("strata/%s/%s-%s.morph", goalName, name, version)
}

// descriptorStep finds or creates the mirror descriptor for rec.
func (l *Loop) descriptorStep(ctx context.Context, rec *pkgref.Record, imp ImporterConfig) (*mirror.Descriptor, error) {
	if d, ok := l.descriptors.FindByProduct(rec.Kind, rec.Name); ok {
		return d, nil
	}

	l.sink.Status("calling %s.to_lorry to generate lorry for %s", rec.Kind, rec.Name)
	text, err := imp.Importer.ToLorry(ctx, imp.ExtraArgs, rec.Name)
	if err != nil {
		return nil, err
	}

	d, stem, err := parseLorry(rec.Name, text)
	if err != nil {
		return nil, err
	}
	if err := l.descriptors.Add(stem+".lorry.json", *d); err != nil {
		return nil, err
	}
	return d, nil
}

// parseLorry parses to_lorry's output (a single-entry mapping) and
// derives the file stem: the prefix before the first "/" in the project
// name, matching _find_or_create_lorry_file's handling of "mega-lorry"
// files like ruby-gems.lorry.
func parseLorry(fallbackName, text string) (*mirror.Descriptor, string, error) {
	var doc map[string]mirror.Descriptor
	if err := decodeJSON(text, &doc); err != nil {
		return nil, "", ierr.Wrap(ierr.InvalidDescriptor, "invalid to_lorry output", err)
	}
	if len(doc) != 1 {
		return nil, "", ierr.New(ierr.InvalidDescriptor, "to_lorry must emit exactly one entry")
	}
	var name string
	var d mirror.Descriptor
	for k, v := range doc {
		name, d = k, v
	}
	d.Name = name
	if d.URL == "" {
		return nil, "", ierr.New(ierr.InvalidDescriptor, "to_lorry entry missing url")
	}

	stem := name
	if idx := strings.Index(name, "/"); idx >= 0 {
		stem = name[:idx]
	}
	if stem == "" {
		return nil, "", ierr.New(ierr.InvalidDescriptor, fmt.Sprintf("invalid lorry data for %s", fallbackName))
	}
	return &d, stem, nil
}

// sourceStep ensures the mirror is fetched and a local checkout exists.
func (l *Loop) sourceStep(ctx context.Context, rec *pkgref.Record, d *mirror.Descriptor) (*vcs.Repo, error) {
	subpath := strings.ReplaceAll(d.Name, "/", "_")
	mirrorPath := filepath.Join(l.cfg.MirrorDir(), subpath, "git")
	checkoutPath := filepath.Join(l.cfg.CheckoutsDir(), subpath)

	alreadyMirrored := exists(mirrorPath)
	if !alreadyMirrored || l.settings.UpdateExisting {
		l.sink.Status("fetching mirror of %s", d.URL)
		if err := vcs.FetchMirror(ctx, "lorry", l.cfg.MirrorDir(), vcs.MirrorDescriptor{Name: d.Name, URL: d.URL}); err != nil {
			return nil, err
		}
	}

	var repo *vcs.Repo
	var err error
	if exists(checkoutPath) {
		repo, err = vcs.Open(ctx, checkoutPath)
		if err != nil {
			return nil, ierr.Wrap(ierr.ImportFailed, "opening checkout", err)
		}
		if err := repo.UpdateRemotes(ctx); err != nil {
			return nil, err
		}
	} else {
		repo, err = vcs.Clone(ctx, mirrorPath, checkoutPath)
		if err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// versionPinStep resolves rec.Version against the checkout.
func (l *Loop) versionPinStep(ctx context.Context, repo *vcs.Repo, rec *pkgref.Record) (versionInUse, ref string, err error) {
	return repo.CheckoutVersion(ctx, rec.Name, rec.Version, l.settings.UseMasterIfNoTag)
}

// recipeStep resolves or regenerates the build recipe for rec.
func (l *Loop) recipeStep(ctx context.Context, rec *pkgref.Record, imp ImporterConfig, repo *vcs.Repo, d *mirror.Descriptor, versionInUse, ref string) (*buildrecipe.Recipe, string, error) {
	commit, err := repo.ResolveRefToCommit(ctx, ref)
	if err != nil {
		return nil, "", ierr.Wrap(ierr.ImportFailed, "resolving ref to commit", err)
	}
	path := recipeFilename(l.goalName, rec.Name, versionInUse)

	regenerate := func() (*buildrecipe.Recipe, error) {
		l.sink.Status("calling %s.to_chunk to generate recipe for %s %s", rec.Kind, rec.Name, versionInUse)
		text, err := imp.Importer.ToChunk(ctx, imp.ExtraArgs, repo.Dir, rec.Name, versionInUse)
		if err != nil {
			return nil, err
		}
		var r buildrecipe.Recipe
		if err := decodeYAML(text, &r); err != nil {
			return nil, ierr.Wrap(ierr.InvalidDescriptor, "invalid to_chunk output", err)
		}
		r.Name = rec.Name
		r.Kind = rec.Kind
		r.Filename = path
		if err := l.recipes.Save(d.URL, commit, path, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}

	var r *buildrecipe.Recipe
	if l.settings.UpdateExisting {
		r, err = regenerate()
	} else if cached, ok := l.recipes.Get(d.URL, commit, path); ok {
		r = cached
	} else if cached, ok := l.recipes.Get("", "", path); ok {
		r = cached
	} else {
		r, err = regenerate()
	}
	if err != nil {
		return nil, "", err
	}

	if l.settings.UseLocalSources {
		r.RepoURL = "file://" + repo.Dir
	} else {
		r.RepoURL = "upstream:" + d.Name
	}
	r.Ref = commit
	r.NamedRef = ref
	return r, commit, nil
}

// dependencyStep resolves or regenerates the dependency lists for rec.
func (l *Loop) dependencyStep(ctx context.Context, rec *pkgref.Record, imp ImporterConfig, repo *vcs.Repo, versionInUse string) (*pkgref.DependencyLists, error) {
	if !l.settings.UpdateExisting {
		if dl, ok := l.depCache.Load(rec.Name, versionInUse); ok {
			return dl, nil
		}
	}

	l.sink.Status("calling %s.find_deps for %s %s", rec.Kind, rec.Name, versionInUse)
	text, err := imp.Importer.FindDeps(ctx, imp.ExtraArgs, repo.Dir, rec.Name, versionInUse)
	if err != nil {
		return nil, err
	}
	lists, err := parseDependencyLists(rec.Kind, text)
	if err != nil {
		return nil, err
	}
	if err := l.depCache.Save(rec.Name, versionInUse, lists); err != nil {
		return nil, err
	}
	return lists, nil
}

func parseDependencyLists(kind, text string) (*pkgref.DependencyLists, error) {
	var doc map[string]struct {
		BuildDependencies   map[string]string `json:"build-dependencies"`
		RuntimeDependencies map[string]string `json:"runtime-dependencies"`
	}
	if err := decodeJSON(text, &doc); err != nil {
		return nil, ierr.Wrap(ierr.InvalidDescriptor, "invalid find_deps output", err)
	}
	entry, ok := doc[kind]
	if !ok {
		return &pkgref.DependencyLists{BuildDependencies: map[string]string{}, RuntimeDependencies: map[string]string{}}, nil
	}
	return &pkgref.DependencyLists{
		BuildDependencies:   entry.BuildDependencies,
		RuntimeDependencies: entry.RuntimeDependencies,
	}, nil
}

// enqueueDependencies implements the §4.6 queue/graph update for every
// dependency of the package at h.
func (l *Loop) enqueueDependencies(h pkgref.Handle) {
	rec := l.arena.Get(h)
	if rec.Dependencies == nil {
		return
	}
	l.enqueueList(h, rec, rec.Dependencies.BuildDependencies, true)
	l.enqueueList(h, rec, rec.Dependencies.RuntimeDependencies, false)
}

func (l *Loop) enqueueList(parent pkgref.Handle, parentRec *pkgref.Record, deps map[string]string, theseAreBuildDeps bool) {
	for depName, depVersion := range deps {
		if l.matchesAnyError(parentRec.Kind, depName, depVersion) {
			continue // step 1: skip quietly, don't propagate as a new error
		}

		dep, found := l.arena.Find(parentRec.Kind, depName, depVersion)
		if !found {
			if h, ok := l.findInQueue(parentRec.Kind, depName, depVersion); ok {
				dep = h
			} else {
				dep = l.arena.New(parentRec.Kind, depName, depVersion)
				l.queue = append(l.queue, dep)
			}
		}

		depRec := l.arena.Get(dep)
		depRec.AddRequiredBy(parentRec.Name, parentRec.Version)

		if theseAreBuildDeps || parentRec.IsBuildDep {
			depRec.IsBuildDep = true
			l.graph.AddNode(dep)
			l.graph.AddNode(parent)
			l.graph.AddEdge(dep, parent)
		}
	}
}

func (l *Loop) matchesAnyError(kind, name, version string) bool {
	for h := range l.errors {
		if l.arena.Get(h).Match(kind, name, version) {
			return true
		}
	}
	return false
}

func (l *Loop) findInQueue(kind, name, version string) (pkgref.Handle, bool) {
	for _, h := range l.queue {
		if l.arena.Get(h).Match(kind, name, version) {
			return h, true
		}
	}
	return 0, false
}

// Arena exposes the package arena, e.g. for the aggregate emitter.
func (l *Loop) Arena() *pkgref.Arena { return l.arena }

// Graph exposes the processed graph.
func (l *Loop) Graph() *depgraph.Graph { return l.graph }

// Recipes exposes the recipe set.
func (l *Loop) Recipes() *buildrecipe.Set { return l.recipes }

// HasErrors reports whether any package failed during the run.
func (l *Loop) HasErrors() bool { return len(l.errors) > 0 }

// GoalName returns the goal package's name.
func (l *Loop) GoalName() string { return l.goalName }

// ImporterKinds returns every enabled ecosystem kind.
func (l *Loop) ImporterKinds() []string {
	kinds := make([]string, 0, len(l.importers))
	for k := range l.importers {
		kinds = append(kinds, k)
	}
	return kinds
}
