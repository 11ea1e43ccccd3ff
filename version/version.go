// Package version implements the coarse version gate run before any
// structural comparison.
//
// Versions are semantic-version-like strings. Parse accepts strict semver
// and, for strings produced by older tooling, a lenient "major.minor[.patch]"
// form where the patch may carry a non-numeric suffix.
//
// Which version pairs are compatible is a Policy. Default treats the minor
// number as the breaking-change boundary of 0.y.z lines:
//
//	major > 0:  same major and found.minor >= expected.minor
//	major == 0: same minor and found.patch >= expected.patch
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"

	"github.com/wippyai/layoutcheck/errors"
)

// Number is a parsed version.
type Number struct {
	Pre   string
	Major uint64
	Minor uint64
	Patch uint64
}

func (n Number) String() string {
	s := fmt.Sprintf("%d.%d.%d", n.Major, n.Minor, n.Patch)
	if n.Pre != "" {
		s += "-" + n.Pre
	}
	return s
}

// Parse parses a version string.
func Parse(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if v, err := semver.NewVersion(s); err == nil {
		if v.Major < 0 || v.Minor < 0 || v.Patch < 0 {
			return Number{}, parseError(s, fmt.Errorf("negative component"))
		}
		return Number{
			Major: uint64(v.Major),
			Minor: uint64(v.Minor),
			Patch: uint64(v.Patch),
			Pre:   string(v.PreRelease),
		}, nil
	}
	return parseLenient(s)
}

// MustParse is like Parse but panics on error. For compiled-in constants.
func MustParse(s string) Number {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// parseLenient accepts "major.minor" and "major.minor.patchSUFFIX". A
// missing patch is 0.
func parseLenient(s string) (Number, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return Number{}, parseError(s, fmt.Errorf("expected major.minor[.patch]"))
	}

	major, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Number{}, parseError(s, fmt.Errorf("major: %w", err))
	}
	minor, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Number{}, parseError(s, fmt.Errorf("minor: %w", err))
	}

	n := Number{Major: major, Minor: minor}
	if len(parts) == 3 {
		digits := parts[2]
		end := 0
		for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
			end++
		}
		if end == 0 {
			return Number{}, parseError(s, fmt.Errorf("patch %q has no leading digits", digits))
		}
		if n.Patch, err = strconv.ParseUint(digits[:end], 10, 64); err != nil {
			return Number{}, parseError(s, fmt.Errorf("patch: %w", err))
		}
		n.Pre = strings.TrimLeft(digits[end:], "-")
	}
	return n, nil
}

func parseError(s string, cause error) error {
	return errors.New(errors.PhaseVersion, errors.KindParseVersion).
		Value(s).
		Detail("invalid version %q", s).
		Cause(cause).
		Build()
}
