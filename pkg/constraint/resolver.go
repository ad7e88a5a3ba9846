// Package constraint implements the version-constraint resolver: given a
// set of (project, operator, version) requirements gathered from several
// packages' dependency lists, detect whether any two requirements on the
// same project cannot both be satisfied. It normalizes and flags
// conflicts; it never picks a single best-matching version, which is
// explicitly out of scope (spec Non-goals).
package constraint

import (
	"fmt"
	"strings"

	"bimport/pkg/ierr"
)

// Op is a version-comparison operator recognized in a dependency
// constraint string.
type Op string

const (
	OpEQ  Op = "=="
	OpNE  Op = "!="
	OpLT  Op = "<"
	OpLE  Op = "<="
	OpGT  Op = ">"
	OpGE  Op = ">="
)

// Requirement is one parsed constraint: project name, operator and the
// version literal on the right-hand side, plus the package that
// introduced it, kept for error reporting.
type Requirement struct {
	Project    string
	Op         Op
	VersionStr string
	Source     string // the requiring package, for diagnostics
}

// ResolvedSpec is one requirement after parsing its version literal.
type ResolvedSpec struct {
	Op      Op
	Version Version
	Source  string
}

func (r ResolvedSpec) String() string {
	return fmt.Sprintf("%s%s", r.Op, r.Version.String())
}

// ParseRequirement splits a constraint string like "==1.4.2" or
// ">=2.0,!=2.1" is not supported here (single-clause only, matching
// spec's per-clause granularity); it recognizes the longest operator
// prefix first so ">=" isn't mistaken for ">".
func ParseRequirement(project, expr, source string) (Requirement, error) {
	expr = strings.TrimSpace(expr)
	ops := []Op{OpGE, OpLE, OpEQ, OpNE, OpGT, OpLT}
	for _, op := range ops {
		if strings.HasPrefix(expr, string(op)) {
			return Requirement{
				Project:    project,
				Op:         op,
				VersionStr: strings.TrimSpace(strings.TrimPrefix(expr, string(op))),
				Source:     source,
			}, nil
		}
	}
	return Requirement{}, ierr.New(ierr.UnmatchedOperator,
		fmt.Sprintf("unrecognized operator in constraint %q for project %q", expr, project))
}

// Resolve groups requirements by project name, parses each version
// literal, and checks every pair of specs on the same project for
// conflict per the truth table below. It returns a map from project name
// to its specs on first success, or an *ierr.Error with code Conflict
// naming the first conflicting pair encountered; its Context holds
// "project" and "specs" (the two specs, in encounter order).
//
// Conflict table (same project, specs a and b):
//   ==v1, ==v2 with v1!=v2           -> conflict
//   ==v,  !=v                        -> conflict
//   ==v1, <v2 / <=v2 / >v2 / >=v2    -> conflict iff v1 fails that comparison
//   <v1,  >v2 with v1<=v2            -> conflict (no version satisfies both)
//   <=v1, >v2 with v1<=v2            -> conflict
//   <v1,  >=v2 with v1<=v2           -> conflict
//   <=v1, >=v2 with v1<v2            -> conflict
//   !=v with anything else           -> never conflicts alone
func Resolve(reqs []Requirement) (map[string][]ResolvedSpec, error) {
	byProject := map[string][]ResolvedSpec{}
	order := []string{}
	for _, r := range reqs {
		v, err := Parse(r.VersionStr)
		if err != nil {
			return nil, fmt.Errorf("parsing version %q for project %q: %w", r.VersionStr, r.Project, err)
		}
		if _, ok := byProject[r.Project]; !ok {
			order = append(order, r.Project)
		}
		byProject[r.Project] = append(byProject[r.Project], ResolvedSpec{Op: r.Op, Version: v, Source: r.Source})
	}

	for _, project := range order {
		specs := byProject[project]
		for i := 0; i < len(specs); i++ {
			for j := i + 1; j < len(specs); j++ {
				if conflicts(specs[i], specs[j]) {
					return nil, ierr.New(ierr.Conflict, fmt.Sprintf(
						"project %q: %s (required by %s) conflicts with %s (required by %s)",
						project, specs[i], specs[i].Source, specs[j], specs[j].Source)).
						WithContext(map[string]any{"project": project, "specs": []ResolvedSpec{specs[i], specs[j]}})
				}
			}
		}
	}
	return byProject, nil
}

// conflicts decides whether two specs on the same project can never both
// be satisfied by any single version.
func conflicts(a, b ResolvedSpec) bool {
	// Two range bounds are checked against each other; otherwise one side
	// is == or !=, which pins an exact value that's easy to test.
	if isRange(a.Op) && isRange(b.Op) {
		return rangeConflict(a, b)
	}
	if a.Op == OpEQ && b.Op == OpEQ {
		return !a.Version.Equals(b.Version)
	}
	if (a.Op == OpEQ && b.Op == OpNE) || (a.Op == OpNE && b.Op == OpEQ) {
		eq, ne := a, b
		if a.Op == OpNE {
			eq, ne = b, a
		}
		return eq.Version.Equals(ne.Version)
	}
	if a.Op == OpNE || b.Op == OpNE {
		// != never conflicts with a range or with another != on its own.
		return false
	}
	// One side is ==, the other a range.
	eq, rg := a, b
	if b.Op == OpEQ {
		eq, rg = b, a
	}
	return !satisfiesRange(eq.Version, rg)
}

func isRange(op Op) bool {
	switch op {
	case OpLT, OpLE, OpGT, OpGE:
		return true
	}
	return false
}

func satisfiesRange(v Version, rg ResolvedSpec) bool {
	c := v.Compare(rg.Version)
	switch rg.Op {
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpGT:
		return c > 0
	case OpGE:
		return c >= 0
	}
	return true
}

// rangeConflict decides whether two range-type specs leave no version
// satisfying both, e.g. "<1.0" and ">2.0" (conflict: any v<1.0 fails
// >2.0) vs "<1.0" and ">0.5" (satisfiable: 0.6).
func rangeConflict(a, b ResolvedSpec) bool {
	lower, upper, ok := splitLowerUpper(a, b)
	if !ok {
		// Same direction (both lower-bounds or both upper-bounds):
		// always satisfiable by an extreme-enough version.
		return false
	}
	c := lower.Version.Compare(upper.Version)
	switch {
	case c < 0:
		return false // lower bound strictly below upper bound: satisfiable
	case c > 0:
		return true // lower bound above upper bound: no overlap
	default:
		// Equal boundary value: conflicts unless both bounds are inclusive
		// at that exact point (>= and <=).
		return !(lower.Op == OpGE && upper.Op == OpLE)
	}
}

// splitLowerUpper identifies which of a, b is the lower bound (> or >=)
// and which is the upper bound (< or <=). ok is false if both specs face
// the same direction.
func splitLowerUpper(a, b ResolvedSpec) (lower, upper ResolvedSpec, ok bool) {
	aLower := a.Op == OpGT || a.Op == OpGE
	bLower := b.Op == OpGT || b.Op == OpGE
	if aLower == bLower {
		return ResolvedSpec{}, ResolvedSpec{}, false
	}
	if aLower {
		return a, b, true
	}
	return b, a, true
}
