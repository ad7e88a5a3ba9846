package constraint

import (
	"testing"

	"bimport/pkg/ierr"
)

func TestParseRequirementLongestPrefix(t *testing.T) {
	req, err := ParseRequirement("requests", ">=2.0", "flask")
	if err != nil {
		t.Fatalf("ParseRequirement error: %v", err)
	}
	if req.Op != OpGE || req.VersionStr != "2.0" {
		t.Errorf("ParseRequirement(\">=2.0\") = %+v, want Op=%q Version=2.0", req, OpGE)
	}

	if _, err := ParseRequirement("requests", "~2.0", "flask"); !ierr.Is(err, ierr.UnmatchedOperator) {
		t.Errorf("ParseRequirement with unknown operator: got %v, want UnmatchedOperator", err)
	}
}

func TestResolveNoConflict(t *testing.T) {
	reqs := []Requirement{
		{Project: "requests", Op: OpGE, VersionStr: "2.0", Source: "a"},
		{Project: "requests", Op: OpLE, VersionStr: "3.0", Source: "b"},
		{Project: "requests", Op: OpNE, VersionStr: "2.5", Source: "c"},
	}
	if _, err := Resolve(reqs); err != nil {
		t.Errorf("Resolve returned unexpected conflict: %v", err)
	}
}

func TestResolveConflicts(t *testing.T) {
	cases := []struct {
		name string
		reqs []Requirement
	}{
		{"eq-eq-mismatch", []Requirement{
			{Project: "p", Op: OpEQ, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpEQ, VersionStr: "2.0", Source: "b"},
		}},
		{"eq-ne-same", []Requirement{
			{Project: "p", Op: OpEQ, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpNE, VersionStr: "1.0", Source: "b"},
		}},
		{"eq-outside-range", []Requirement{
			{Project: "p", Op: OpEQ, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpGT, VersionStr: "2.0", Source: "b"},
		}},
		{"lt-gt-overlapping-wrong-way", []Requirement{
			{Project: "p", Op: OpLT, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpGT, VersionStr: "2.0", Source: "b"},
		}},
		{"lt-ge-same-boundary-exclusive", []Requirement{
			{Project: "p", Op: OpLT, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpGE, VersionStr: "1.0", Source: "b"},
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Resolve(c.reqs); !ierr.Is(err, ierr.Conflict) {
				t.Errorf("Resolve(%v) = %v, want a Conflict error", c.reqs, err)
			}
		})
	}
}

func TestResolveFeasibleBoundaryCases(t *testing.T) {
	cases := []struct {
		name string
		reqs []Requirement
	}{
		{"le-x-and-ge-x-has-equality-witness", []Requirement{
			{Project: "p", Op: OpLE, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpGE, VersionStr: "1.0", Source: "b"},
		}},
		{"eq-x-and-le-x-feasible", []Requirement{
			{Project: "p", Op: OpEQ, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpLE, VersionStr: "1.0", Source: "b"},
		}},
		{"ne-x-never-conflicts-with-range", []Requirement{
			{Project: "p", Op: OpNE, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpLT, VersionStr: "1.0", Source: "b"},
		}},
		{"two-lower-bounds-always-satisfiable", []Requirement{
			{Project: "p", Op: OpGT, VersionStr: "1.0", Source: "a"},
			{Project: "p", Op: OpGE, VersionStr: "2.0", Source: "b"},
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Resolve(c.reqs); err != nil {
				t.Errorf("Resolve(%v) = %v, want no conflict", c.reqs, err)
			}
		})
	}
}
