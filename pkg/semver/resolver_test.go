package semver

import (
	"testing"
)

func makeCandidates() []Candidate {
	return []Candidate{
		{ID: "a", Version: "1.0.0", Status: "active"},
		{ID: "b", Version: "1.2.0", Status: "active"},
		{ID: "c", Version: "1.3.0", Status: "draining"},
		{ID: "d", Version: "2.0.0", Status: "disabled"},
		{ID: "e", Version: "2.1.0-rc.1", Status: "active"},
		{ID: "f", Version: "not-a-version", Status: "active"},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		rangeStr string
		draining bool
		wantID   string
	}{
		{name: "any version picks highest usable", rangeStr: "", wantID: "e"},
		{name: "major only", rangeStr: "1", wantID: "b"},
		{name: "major only with draining", rangeStr: "1", draining: true, wantID: "c"},
		{name: "caret", rangeStr: "^1.0.0", wantID: "b"},
		{name: "exact", rangeStr: "1.0.0", wantID: "a"},
		{name: "disabled never chosen", rangeStr: "2.0.0", wantID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(ResolveParams{Candidates: makeCandidates(), Range: tt.rangeStr, IncludeDraining: tt.draining})
			if tt.wantID == "" {
				if got != nil {
					t.Fatalf("semver:resolver_test - expected no match, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("semver:resolver_test - expected %s, got nil", tt.wantID)
			}
			if got.ID != tt.wantID {
				t.Errorf("semver:resolver_test - Resolve(%q) = %s, want %s", tt.rangeStr, got.ID, tt.wantID)
			}
		})
	}
}

func TestResolve_Empty(t *testing.T) {
	if got := Resolve(ResolveParams{}); got != nil {
		t.Errorf("semver:resolver_test - expected nil for no candidates, got %+v", got)
	}
}

func TestSatisfiesRange(t *testing.T) {
	tests := []struct {
		version string
		rng     string
		want    bool
	}{
		{"1.2.0", "^1.0.0", true},
		{"2.0.0", "^1.0.0", false},
		{"1.9.9", "1", true},
		{"1.0.0", ">=1.0.0 <2.0.0", true},
		{"bad", "^1.0.0", false},
		{"1.0.0", "not a range", false},
	}
	for _, tt := range tests {
		if got := SatisfiesRange(tt.version, tt.rng); got != tt.want {
			t.Errorf("semver:resolver_test - SatisfiesRange(%q, %q) = %v, want %v", tt.version, tt.rng, got, tt.want)
		}
	}
}

func TestCompatible(t *testing.T) {
	ok, err := Compatible("1.0.0", "1.4.2")
	if err != nil || !ok {
		t.Errorf("semver:resolver_test - Compatible(1.0.0, 1.4.2) = %v, %v", ok, err)
	}
	ok, err = Compatible("1.0.0", "2.0.0")
	if err != nil || ok {
		t.Errorf("semver:resolver_test - Compatible(1.0.0, 2.0.0) = %v, %v", ok, err)
	}
	if _, err := Compatible("1.0.0", "x"); err == nil {
		t.Errorf("semver:resolver_test - expected error for unparsable remote version")
	}
}
