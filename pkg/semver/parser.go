// Package semver parses endpoint references and resolves protocol versions.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// EndpointRef is a parsed reference to an exposed interface, such as
// "counter.Counter@^1.0.0".
type EndpointRef struct {
	Component string
	Interface string
	// Range is the protocol version range; empty means any.
	Range string
	Raw   string
}

var (
	nameRegex         = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseEndpointRef parses a reference string.
//
// Supported formats:
//   - counter.Counter            (any version)
//   - counter.Counter@1          (major only)
//   - counter.Counter@1.2.0      (exact version)
//   - counter.Counter@^1.2.0     (caret range)
//   - counter.Counter@>=1.0.0    (comparison range)
func ParseEndpointRef(input string) (*EndpointRef, error) {
	raw := strings.TrimSpace(input)

	ref, rangeStr, _ := strings.Cut(raw, "@")
	component, iface, ok := strings.Cut(ref, ".")
	if !ok {
		return nil, fmt.Errorf("%s - invalid endpoint reference, missing interface: %s", logPrefix, raw)
	}
	if !ValidateName(component) || !ValidateName(iface) {
		return nil, fmt.Errorf("%s - invalid endpoint reference: %s", logPrefix, raw)
	}

	return &EndpointRef{
		Component: component,
		Interface: iface,
		Range:     rangeStr,
		Raw:       raw,
	}, nil
}

// String rebuilds the canonical form of the reference.
func (r *EndpointRef) String() string {
	base := r.Component + "." + r.Interface
	if r.Range != "" {
		return base + "@" + r.Range
	}
	return base
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// ValidateName validates a component or interface name.
func ValidateName(name string) bool {
	return nameRegex.MatchString(name)
}
