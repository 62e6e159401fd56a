package semver

import (
	"testing"
)

func TestParseEndpointRef(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantComponent string
		wantInterface string
		wantRange     string
		wantErr       bool
	}{
		{name: "no version", input: "counter.Counter", wantComponent: "counter", wantInterface: "Counter"},
		{name: "major only", input: "counter.Counter@1", wantComponent: "counter", wantInterface: "Counter", wantRange: "1"},
		{name: "exact version", input: "counter.Counter@1.2.0", wantComponent: "counter", wantInterface: "Counter", wantRange: "1.2.0"},
		{name: "caret range", input: " arm.Control@^2.1.0 ", wantComponent: "arm", wantInterface: "Control", wantRange: "^2.1.0"},
		{name: "missing interface", input: "counter", wantErr: true},
		{name: "empty component", input: ".Counter", wantErr: true},
		{name: "invalid chars", input: "count er.Counter", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpointRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("semver:parser_test - expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("semver:parser_test - unexpected error: %v", err)
			}
			if got.Component != tt.wantComponent || got.Interface != tt.wantInterface || got.Range != tt.wantRange {
				t.Errorf("semver:parser_test - ParseEndpointRef(%q) = %+v", tt.input, got)
			}
		})
	}
}

func TestEndpointRefString(t *testing.T) {
	ref := &EndpointRef{Component: "counter", Interface: "Counter", Range: "^1.0.0"}
	if got := ref.String(); got != "counter.Counter@^1.0.0" {
		t.Errorf("semver:parser_test - String() = %q", got)
	}
	ref.Range = ""
	if got := ref.String(); got != "counter.Counter" {
		t.Errorf("semver:parser_test - String() = %q", got)
	}
}

func TestIsMajorOnly(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1", true},
		{"12", true},
		{"1.0", false},
		{"^1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMajorOnly(tt.input); got != tt.want {
			t.Errorf("semver:parser_test - IsMajorOnly(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIsExactVersion(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1.2.3", true},
		{"1.2.3-beta.1", true},
		{"^1.2.3", false},
		{"1.2", false},
	}
	for _, tt := range tests {
		if got := IsExactVersion(tt.input); got != tt.want {
			t.Errorf("semver:parser_test - IsExactVersion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestExtractMajorFromRange(t *testing.T) {
	if got := ExtractMajorFromRange("3"); got != 3 {
		t.Errorf("semver:parser_test - ExtractMajorFromRange(3) = %d", got)
	}
	if got := ExtractMajorFromRange("^3.0.0"); got != -1 {
		t.Errorf("semver:parser_test - ExtractMajorFromRange(^3.0.0) = %d, want -1", got)
	}
}
