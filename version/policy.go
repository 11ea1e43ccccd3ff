package version

import (
	"fmt"

	"github.com/wippyai/layoutcheck/errors"
)

// Policy decides whether a found version satisfies an expected one.
type Policy interface {
	Name() string
	Compatible(expected, found Number) bool
}

// Default is the standard gate: the minor number is the compatibility window
// for major > 0, the patch number for 0.y.z lines.
var Default Policy = defaultPolicy{}

// Loose only requires the same major, and the same minor for 0.y.z lines.
// The found side may be older than expected.
var Loose Policy = loosePolicy{}

// Exact requires identical numbers, ignoring pre-release tags.
var Exact Policy = exactPolicy{}

type defaultPolicy struct{}

func (defaultPolicy) Name() string { return "default" }

func (defaultPolicy) Compatible(e, f Number) bool {
	if e.Major != f.Major {
		return false
	}
	if e.Major == 0 {
		return e.Minor == f.Minor && f.Patch >= e.Patch
	}
	return f.Minor >= e.Minor
}

type loosePolicy struct{}

func (loosePolicy) Name() string { return "loose" }

func (loosePolicy) Compatible(e, f Number) bool {
	return e.Major == f.Major && (e.Major != 0 || e.Minor == f.Minor)
}

type exactPolicy struct{}

func (exactPolicy) Name() string { return "exact" }

func (exactPolicy) Compatible(e, f Number) bool {
	return e.Major == f.Major && e.Minor == f.Minor && e.Patch == f.Patch
}

var policies = map[string]Policy{
	"":        Default,
	"default": Default,
	"loose":   Loose,
	"exact":   Exact,
}

// PolicyByName returns the named policy. The empty name is Default.
func PolicyByName(name string) (Policy, error) {
	if p, ok := policies[name]; ok {
		return p, nil
	}
	return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Value(name).
		Detail("unknown version policy %q (want default, loose or exact)", name).
		Build()
}

// MismatchError reports a version pair the policy rejected.
type MismatchError struct {
	Policy   string
	Expected Number
	Found    Number
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("[version] incompatible_version: expected %s, found %s (policy %s)",
		e.Expected, e.Found, e.Policy)
}

// Is matches any MismatchError and the version error category.
func (e *MismatchError) Is(target error) bool {
	switch t := target.(type) {
	case *MismatchError:
		return true
	case *errors.Error:
		return t.Phase == errors.PhaseVersion && t.Kind == errors.KindIncompatible
	}
	return false
}

// Gate parses both versions and checks them against p. A nil policy is
// Default. Parse failures are reported as KindParseVersion errors.
func Gate(p Policy, expected, found string) error {
	if p == nil {
		p = Default
	}
	e, err := Parse(expected)
	if err != nil {
		return err
	}
	f, err := Parse(found)
	if err != nil {
		return err
	}
	if !p.Compatible(e, f) {
		return &MismatchError{Expected: e, Found: f, Policy: p.Name()}
	}
	return nil
}
