package script

import (
	"context"
	"embed"
	"fmt"

	"go.starlark.net/starlark"
)

//go:embed scripts/*.star
var builtinScripts embed.FS

// ScriptedImporter implements extension.Importer by running Starlark
// functions to_lorry/to_chunk/find_deps loaded from a single script
// file, the in-process alternative design note 9 calls for.
type ScriptedImporter struct {
	source  string
	globals starlark.StringDict
}

// Load parses and executes a Starlark script, capturing its top-level
// functions.
func Load(name, source string) (*ScriptedImporter, error) {
	thread := &starlark.Thread{Name: name}
	predeclared := starlark.StringDict{
		"jq":         jqBuiltin(),
		"html_parse": htmlParseBuiltin(),
		"fetch":      fetchBuiltin(),
	}
	for k, v := range jsonBuiltins() {
		predeclared[k] = v
	}
	globals, err := starlark.ExecFile(thread, name+".star", source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("loading script %s: %w", name, err)
	}
	return &ScriptedImporter{source: name, globals: globals}, nil
}

// LoadBuiltin loads one of the two scripts embedded under scripts/:
// "registry" (a JSON-registry importer driven by a jq query) or
// "htmlindex" (an HTML-index-scraping importer).
func LoadBuiltin(name string) (*ScriptedImporter, error) {
	data, err := builtinScripts.ReadFile("scripts/" + name + ".star")
	if err != nil {
		return nil, fmt.Errorf("unknown builtin script %q: %w", name, err)
	}
	return Load(name, string(data))
}

func (s *ScriptedImporter) call(ctx context.Context, fn string, args ...string) (string, error) {
	v, ok := s.globals[fn]
	if !ok {
		return "", fmt.Errorf("script %s defines no function %s", s.source, fn)
	}
	callable, ok := v.(starlark.Callable)
	if !ok {
		return "", fmt.Errorf("script %s: %s is not callable", s.source, fn)
	}
	thread := &starlark.Thread{Name: s.source}
	starArgs := make(starlark.Tuple, len(args))
	for i, a := range args {
		starArgs[i] = starlark.String(a)
	}
	result, err := starlark.Call(thread, callable, starArgs, nil)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return "", fmt.Errorf("script %s.%s: %s", s.source, fn, evalErr.Backtrace())
		}
		return "", fmt.Errorf("script %s.%s: %w", s.source, fn, err)
	}
	str, ok := result.(starlark.String)
	if !ok {
		return "", fmt.Errorf("script %s.%s: expected string result, got %s", s.source, fn, result.Type())
	}
	return str.GoString(), nil
}

// ToLorry, ToChunk and FindDeps ignore extraArgs: a scripted importer
// configures itself through constants in the script body (e.g.
// registry.star's REGISTRY_URL), not through the subprocess
// extra-argument mechanism SubprocessImporter uses.
func (s *ScriptedImporter) ToLorry(ctx context.Context, extraArgs []string, packageName string) (string, error) {
	return s.call(ctx, "to_lorry", packageName)
}

func (s *ScriptedImporter) ToChunk(ctx context.Context, extraArgs []string, checkoutDir, packageName, version string) (string, error) {
	return s.call(ctx, "to_chunk", packageName, checkoutDir, version)
}

func (s *ScriptedImporter) FindDeps(ctx context.Context, extraArgs []string, checkoutDir, packageName, version string) (string, error) {
	return s.call(ctx, "find_deps", packageName, version)
}
