package script

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoadAndCallToLorry(t *testing.T) {
	src := `
def to_lorry(name):
    return json_encode({name: {"url": "https://example.com/" + name}})

def to_chunk(name, checkout_dir, ref):
    return json_encode({"name": name})

def find_deps(name, version):
    return json_encode({"test": {"build-dependencies": {}, "runtime-dependencies": {}}})
`
	imp, err := Load("test", src)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	out, err := imp.ToLorry(context.Background(), nil, "requests")
	if err != nil {
		t.Fatalf("ToLorry error: %v", err)
	}
	if !strings.Contains(out, `"url":"https://example.com/requests"`) && !strings.Contains(out, `"url": "https://example.com/requests"`) {
		t.Errorf("ToLorry output missing expected url: %s", out)
	}
}

func TestScriptJqAndFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"repository": {"url": "https://github.com/example/repo"}}`))
	}))
	defer srv.Close()

	src := `
def to_lorry(name):
    data = json_decode(fetch("` + srv.URL + `"))
    url = jq(".repository.url", data)
    return json_encode({name: {"url": url}})

def to_chunk(name, checkout_dir, ref):
    return json_encode({"name": name})

def find_deps(name, version):
    return json_encode({"test": {"build-dependencies": {}, "runtime-dependencies": {}}})
`
	imp, err := Load("fetchtest", src)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	out, err := imp.ToLorry(context.Background(), nil, "somepkg")
	if err != nil {
		t.Fatalf("ToLorry error: %v", err)
	}
	if !strings.Contains(out, "https://github.com/example/repo") {
		t.Errorf("ToLorry output missing fetched+jq'd url: %s", out)
	}
}

func TestLoadBuiltinScriptsParse(t *testing.T) {
	for _, name := range []string{"registry", "htmlindex"} {
		if _, err := LoadBuiltin(name); err != nil {
			t.Errorf("LoadBuiltin(%q) error: %v", name, err)
		}
	}
}
