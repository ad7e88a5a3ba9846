package pkgref

import "testing"

func TestArenaNewFindGet(t *testing.T) {
	a := NewArena()
	h := a.New("pypi", "requests", "2.31.0")
	if h == 0 {
		t.Fatalf("New returned the reserved zero handle")
	}

	got, ok := a.Find("pypi", "requests", "2.31.0")
	if !ok || got != h {
		t.Errorf("Find = (%v, %v), want (%v, true)", got, ok, h)
	}

	if _, ok := a.Find("pypi", "requests", "1.0.0"); ok {
		t.Errorf("Find matched a different version")
	}
	if _, ok := a.Find("npm", "requests", ""); ok {
		t.Errorf("Find matched a different kind")
	}

	rec := a.Get(h)
	if rec.Name != "requests" || rec.VersionInUse != "2.31.0" {
		t.Errorf("Get returned unexpected record: %+v", rec)
	}
}

func TestArenaAll(t *testing.T) {
	a := NewArena()
	h1 := a.New("pypi", "a", "1")
	h2 := a.New("pypi", "b", "1")
	all := a.All()
	if len(all) != 2 || all[0] != h1 || all[1] != h2 {
		t.Errorf("All() = %v, want [%v %v]", all, h1, h2)
	}
}

func TestRecordMatchEmptyVersion(t *testing.T) {
	r := &Record{Kind: "pypi", Name: "requests", Version: "2.31.0"}
	if !r.Match("pypi", "requests", "") {
		t.Errorf("Match with empty version should ignore version")
	}
	if r.Match("pypi", "other", "") {
		t.Errorf("Match matched a different name")
	}
}

func TestRecordStringAndRequiredBy(t *testing.T) {
	r := &Record{Name: "requests", Version: "2.31.0"}
	if got, want := r.String(), "requests-2.31.0"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	r.AddRequiredBy("flask", "3.0.0")
	want := "requests-2.31.0, required by: flask-3.0.0"
	if r.String() != want {
		t.Errorf("String() = %q, want %q", r.String(), want)
	}
}

func TestLess(t *testing.T) {
	a := &Record{Name: "a"}
	b := &Record{Name: "b"}
	if !Less(a, b) || Less(b, a) {
		t.Errorf("Less does not order lexicographically by name")
	}
}
