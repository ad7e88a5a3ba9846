// Package script implements the in-process alternative to the
// subprocess-based extension runner design note 9 calls for: an
// extension.Importer whose to_lorry/to_chunk/find_deps are Starlark
// functions, with builtins for JSON, jq queries and HTML parsing.
// Grounded directly on the teacher's pkg/recipe Starlark bridging code
// (strict.go, starlark_html.go, starlark_utils.go).
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/itchyny/gojq"
	"go.starlark.net/starlark"

	"bimport/pkg/fetcher"
)

// ParamDef and CommandDef mirror the teacher's strict-builtin schema:
// Starlark functions exposed to a script declare a fixed parameter
// list, validated before the action runs, and accept either calling
// convention Starlark allows for it (positional or keyword).
type ParamDef struct {
	Name, Type, Desc string
}

type CommandDef struct {
	Name   string
	Desc   string
	Params []ParamDef
}

type strictAction func(kwargs map[string]starlark.Value) (starlark.Value, error)

// newStrictBuiltin builds a Starlark builtin whose arguments are
// validated against def.Params: every parameter must be supplied,
// either positionally (in Params order) or by keyword, never both for
// the same parameter.
func newStrictBuiltin(def CommandDef, action strictAction) *starlark.Builtin {
	return starlark.NewBuiltin(def.Name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > len(def.Params) {
			return nil, fmt.Errorf("%s: takes at most %d arguments, got %d", def.Name, len(def.Params), len(args))
		}
		values := make(map[string]starlark.Value, len(def.Params))
		for i, v := range args {
			values[def.Params[i].Name] = v
		}
		for _, pair := range kwargs {
			name := pair[0].(starlark.String).GoString()
			if _, ok := values[name]; ok {
				return nil, fmt.Errorf("%s: got multiple values for argument %q", def.Name, name)
			}
			values[name] = pair[1]
		}
		var missing []string
		for _, p := range def.Params {
			if _, ok := values[p.Name]; !ok {
				missing = append(missing, p.Name)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%s: missing mandatory arguments: %v", def.Name, missing)
		}
		return action(values)
	})
}

func asString(v starlark.Value) string {
	if v == nil || v == starlark.None {
		return ""
	}
	if s, ok := v.(starlark.String); ok {
		return s.GoString()
	}
	return fmt.Sprintf("%v", v)
}

// jsonBuiltins exposes json_encode/json_decode.
func jsonBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"json_decode": newStrictBuiltin(CommandDef{
			Name: "json_decode",
			Params: []ParamDef{{Name: "data", Type: "string"}},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			var data any
			if err := json.Unmarshal([]byte(asString(kwargs["data"])), &data); err != nil {
				return nil, err
			}
			return toStarlark(data), nil
		}),
		"json_encode": newStrictBuiltin(CommandDef{
			Name: "json_encode",
			Params: []ParamDef{{Name: "value", Type: "any"}},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			data, err := fromStarlark(kwargs["value"])
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(data)
			if err != nil {
				return nil, err
			}
			return starlark.String(string(raw)), nil
		}),
	}
}

// jqBuiltin exposes jq(query, value), running a gojq filter over a
// json_decode-equivalent Go value.
func jqBuiltin() *starlark.Builtin {
	return newStrictBuiltin(CommandDef{
		Name:   "jq",
		Params: []ParamDef{{Name: "query", Type: "string"}, {Name: "value", Type: "any"}},
	}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
		data, err := fromStarlark(kwargs["value"])
		if err != nil {
			return nil, err
		}
		q, err := gojq.Parse(asString(kwargs["query"]))
		if err != nil {
			return nil, err
		}
		iter := q.Run(data)
		var results []starlark.Value
		for {
			res, ok := iter.Next()
			if !ok {
				break
			}
			if e, ok := res.(error); ok {
				return nil, e
			}
			results = append(results, toStarlark(res))
		}
		if len(results) == 1 {
			return results[0], nil
		}
		return starlark.NewList(results), nil
	})
}

// htmlParseBuiltin exposes html_parse(data), wrapping a goquery document.
func htmlParseBuiltin() *starlark.Builtin {
	return newStrictBuiltin(CommandDef{
		Name:   "html_parse",
		Params: []ParamDef{{Name: "data", Type: "string"}},
	}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(asString(kwargs["data"])))
		if err != nil {
			return nil, err
		}
		return &Selection{sel: doc.Selection}, nil
	})
}

// Selection wraps a goquery.Selection as a Starlark value, exposing
// text/attr/find/each the way the teacher's recipe.Selection does.
type Selection struct{ sel *goquery.Selection }

func (s *Selection) String() string        { return "html.selection" }
func (s *Selection) Type() string          { return "html.selection" }
func (s *Selection) Freeze()               {}
func (s *Selection) Truth() starlark.Bool  { return s.sel.Length() > 0 }
func (s *Selection) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }

func (s *Selection) Attr(name string) (starlark.Value, error) {
	switch name {
	case "text":
		return starlark.NewBuiltin("text", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
			return starlark.String(s.sel.Text()), nil
		}), nil
	case "attr":
		return starlark.NewBuiltin("attr", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs("attr", args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			val, _ := s.sel.Attr(name)
			return starlark.String(val), nil
		}), nil
	case "find":
		return starlark.NewBuiltin("find", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var selector string
			if err := starlark.UnpackArgs("find", args, kwargs, "selector", &selector); err != nil {
				return nil, err
			}
			return &Selection{sel: s.sel.Find(selector)}, nil
		}), nil
	case "each":
		return starlark.NewBuiltin("each", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
			var list []starlark.Value
			s.sel.Each(func(_ int, gs *goquery.Selection) {
				list = append(list, &Selection{sel: gs})
			})
			return starlark.NewList(list), nil
		}), nil
	}
	return nil, nil
}

func (s *Selection) AttrNames() []string { return []string{"text", "attr", "find", "each"} }

// fetchBuiltin exposes fetch(url), a bounded HTTP GET used by registry
// and HTML-index importers to retrieve upstream metadata.
func fetchBuiltin() *starlark.Builtin {
	f := fetcher.NewHTTP()
	return newStrictBuiltin(CommandDef{
		Name:   "fetch",
		Params: []ParamDef{{Name: "url", Type: "string"}},
	}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		body, err := f.Fetch(ctx, asString(kwargs["url"]))
		if err != nil {
			return nil, err
		}
		return starlark.String(body), nil
	})
}

func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		i, _ := x.Int64()
		return i, nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		var list []any
		for i := 0; i < x.Len(); i++ {
			val, err := fromStarlark(x.Index(i))
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, k := range x.Keys() {
			ks, ok := k.(starlark.String)
			if !ok {
				continue
			}
			val, _, _ := x.Get(k)
			gv, err := fromStarlark(val)
			if err != nil {
				return nil, err
			}
			dict[string(ks)] = gv
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to go", v)
	}
}

func toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case bool:
		return starlark.Bool(x)
	case string:
		return starlark.String(x)
	case float64:
		return starlark.Float(x)
	case int64:
		return starlark.MakeInt64(x)
	case int:
		return starlark.MakeInt(x)
	case []any:
		var list []starlark.Value
		for _, item := range x {
			list = append(list, toStarlark(item))
		}
		return starlark.NewList(list)
	case map[string]any:
		dict := starlark.NewDict(len(x))
		for k, v := range x {
			dict.SetKey(starlark.String(k), toStarlark(v))
		}
		return dict
	case map[string]string:
		dict := starlark.NewDict(len(x))
		for k, v := range x {
			dict.SetKey(starlark.String(k), starlark.String(v))
		}
		return dict
	default:
		return starlark.None
	}
}
