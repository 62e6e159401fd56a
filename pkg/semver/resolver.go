package semver

import (
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// Candidate is one endpoint offering an interface at some protocol version.
type Candidate struct {
	ID      string
	Version string
	Status  string // "active", "draining", "disabled"
}

// ResolveParams holds parameters for Resolve.
type ResolveParams struct {
	Candidates []Candidate
	// Range is a SemVer range, a major-only range, an exact version or empty.
	Range           string
	IncludeDraining bool
}

// Resolve picks the candidate with the highest version satisfying the range.
// Disabled candidates are never chosen; draining ones only when asked for.
func Resolve(params ResolveParams) *Candidate {
	var matching []Candidate
	for _, c := range params.Candidates {
		if c.Status == "disabled" || (c.Status == "draining" && !params.IncludeDraining) {
			continue
		}
		if params.Range != "" && !SatisfiesRange(c.Version, params.Range) {
			continue
		}
		if _, err := masterminds.NewVersion(c.Version); err != nil {
			continue
		}
		matching = append(matching, c)
	}
	if len(matching) == 0 {
		return nil
	}
	sortCandidatesDesc(matching)
	return &matching[0]
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// Compatible reports whether a peer speaking remote can talk to local:
// both versions must parse and share the major version.
func Compatible(local, remote string) (bool, error) {
	lv, err := masterminds.NewVersion(local)
	if err != nil {
		return false, fmt.Errorf("%s - local version %q: %w", resolverLogPrefix, local, err)
	}
	rv, err := masterminds.NewVersion(remote)
	if err != nil {
		return false, fmt.Errorf("%s - remote version %q: %w", resolverLogPrefix, remote, err)
	}
	return lv.Major() == rv.Major(), nil
}

func sortCandidatesDesc(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		vi, err1 := masterminds.NewVersion(cs[i].Version)
		vj, err2 := masterminds.NewVersion(cs[j].Version)
		if err1 != nil || err2 != nil {
			return false
		}
		if vi.Equal(vj) {
			return cs[i].Status == "active" && cs[j].Status != "active"
		}
		return vi.GreaterThan(vj)
	})
}
