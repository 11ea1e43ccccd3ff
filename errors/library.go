package errors

import (
	"fmt"
	"strings"
)

// LibraryError is the single error value a failed module load surfaces.
type LibraryError struct {
	Cause    error
	Layout   *CompatibilityError
	Kind     Kind
	Path     string
	Symbol   string
	Expected string
	Found    string
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrNotFound            = &LibraryError{Kind: KindNotFound}
	ErrSymbolMissing       = &LibraryError{Kind: KindSymbolMissing}
	ErrInvalidHeader       = &LibraryError{Kind: KindInvalidHeader}
	ErrParseVersion        = &LibraryError{Kind: KindParseVersion}
	ErrIncompatibleVersion = &LibraryError{Kind: KindIncompatible}
	ErrLayoutMismatch      = &LibraryError{Kind: KindLayoutMismatch}
	ErrRootModule          = &LibraryError{Kind: KindRootModule}
)

func (e *LibraryError) Error() string {
	var b strings.Builder
	b.WriteString("[load] ")
	b.WriteString(string(e.Kind))
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}

	switch e.Kind {
	case KindSymbolMissing:
		fmt.Fprintf(&b, ": symbol %q", e.Symbol)
	case KindIncompatible, KindInvalidHeader, KindRootModule:
		if e.Expected != "" || e.Found != "" {
			fmt.Fprintf(&b, ": expected %s, found %s", e.Expected, e.Found)
		}
	case KindLayoutMismatch:
		if e.Layout != nil {
			b.WriteString(": ")
			b.WriteString(e.Layout.Error())
		}
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap exposes the compatibility report for layout mismatches and the
// underlying cause otherwise.
func (e *LibraryError) Unwrap() error {
	if e.Layout != nil {
		return e.Layout
	}
	return e.Cause
}

// Is reports whether target is a LibraryError of the same kind.
func (e *LibraryError) Is(target error) bool {
	if t, ok := target.(*LibraryError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// NotFound reports a library file that does not exist.
func NotFound(path string, cause error) *LibraryError {
	return &LibraryError{Kind: KindNotFound, Path: path, Cause: cause}
}

// SymbolMissing reports a library that does not export symbol.
func SymbolMissing(path, symbol string, cause error) *LibraryError {
	return &LibraryError{Kind: KindSymbolMissing, Path: path, Symbol: symbol, Cause: cause}
}

// InvalidHeader reports a library whose header is unreadable or speaks
// another header protocol.
func InvalidHeader(path, expected, found string, cause error) *LibraryError {
	return &LibraryError{Kind: KindInvalidHeader, Path: path, Expected: expected, Found: found, Cause: cause}
}

// IncompatibleVersion reports a version gate failure.
func IncompatibleVersion(path, expected, found string, cause error) *LibraryError {
	return &LibraryError{Kind: KindIncompatible, Path: path, Expected: expected, Found: found, Cause: cause}
}

// ParseVersion reports a version string that could not be parsed.
func ParseVersion(path string, cause error) *LibraryError {
	return &LibraryError{Kind: KindParseVersion, Path: path, Cause: cause}
}

// LayoutMismatch wraps a structural check failure.
func LayoutMismatch(path string, report *CompatibilityError) *LibraryError {
	return &LibraryError{Kind: KindLayoutMismatch, Path: path, Layout: report}
}

// RootModule reports a header that describes a different root module.
func RootModule(path, expected, found string) *LibraryError {
	return &LibraryError{Kind: KindRootModule, Path: path, Expected: expected, Found: found}
}
