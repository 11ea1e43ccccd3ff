package errors

import (
	"fmt"
	"strings"
)

// MismatchKind names the property on which two layouts disagree.
type MismatchKind string

const (
	MismatchTypeName       MismatchKind = "type_name"
	MismatchPackageVersion MismatchKind = "package_version"
	MismatchSize           MismatchKind = "size"
	MismatchAlignment      MismatchKind = "alignment"
	MismatchShape          MismatchKind = "shape"
	MismatchParamCount     MismatchKind = "param_count"
	MismatchFieldCount     MismatchKind = "field_count"
	MismatchFieldName      MismatchKind = "field_name"
	MismatchFieldOffset    MismatchKind = "field_offset"
	MismatchFieldMissing   MismatchKind = "field_missing"
	MismatchPrefixBoundary MismatchKind = "prefix_boundary"
	MismatchVariantCount   MismatchKind = "variant_count"
	MismatchVariantName    MismatchKind = "variant_name"
	MismatchVariantMissing MismatchKind = "variant_missing"
	MismatchDiscriminant   MismatchKind = "discriminant"
	MismatchRepr           MismatchKind = "repr"
	MismatchExhaustiveness MismatchKind = "exhaustiveness"
	MismatchStorage        MismatchKind = "storage"
	MismatchArity          MismatchKind = "arity"
	MismatchResultCount    MismatchKind = "result_count"
	MismatchCallConv       MismatchKind = "call_conv"
	MismatchTag            MismatchKind = "tag"
	MismatchUnresolved     MismatchKind = "unresolved"
)

// Severity of a mismatch. Every mismatch invalidates the load.
type Severity uint8

const (
	SeverityFatal Severity = iota
)

func (s Severity) String() string {
	return "fatal"
}

// maxValueLen bounds how much of an expected/found value is rendered.
const maxValueLen = 64

// DefaultLimit is the number of mismatches rendered before the report is cut.
const DefaultLimit = 32

// Mismatch is one structural disagreement found during a check.
type Mismatch struct {
	Kind     MismatchKind
	Expected string
	Found    string
	Detail   string
	Path     []string
	Severity Severity
}

// PathString renders the access path from the root type.
func (m Mismatch) PathString() string {
	return strings.Join(m.Path, ".")
}

func (m Mismatch) String() string {
	var b strings.Builder
	b.WriteString(string(m.Kind))
	if m.Expected != "" || m.Found != "" {
		fmt.Fprintf(&b, ": expected %s, found %s", truncate(m.Expected), truncate(m.Found))
	}
	if m.Detail != "" {
		b.WriteString(" (")
		b.WriteString(m.Detail)
		b.WriteByte(')')
	}
	return b.String()
}

// Aggregator collects mismatches during a walk. The zero value is ready to use.
type Aggregator struct {
	mismatches []Mismatch
}

// Add records a mismatch at path. The path slice is copied.
func (a *Aggregator) Add(path []string, kind MismatchKind, expected, found any, detail string) {
	a.mismatches = append(a.mismatches, Mismatch{
		Path:     append([]string(nil), path...),
		Kind:     kind,
		Expected: render(expected),
		Found:    render(found),
		Detail:   detail,
		Severity: SeverityFatal,
	})
}

// Len returns the number of recorded mismatches.
func (a *Aggregator) Len() int {
	return len(a.mismatches)
}

// Mismatches returns the recorded mismatches in discovery order.
func (a *Aggregator) Mismatches() []Mismatch {
	return a.mismatches
}

// Err returns nil if nothing was recorded, otherwise a CompatibilityError.
func (a *Aggregator) Err(expected, found string, limit int) *CompatibilityError {
	if len(a.mismatches) == 0 {
		return nil
	}
	return &CompatibilityError{
		Expected:   expected,
		Found:      found,
		Mismatches: a.mismatches,
		Limit:      limit,
	}
}

// CompatibilityError carries every mismatch from one structural check.
type CompatibilityError struct {
	Expected   string
	Found      string
	Mismatches []Mismatch
	// Limit caps how many mismatches Error renders; 0 means DefaultLimit.
	Limit int
}

// Error renders a report grouped by access path. Only differing nodes are
// rendered, so the report grows with the number of mismatches, not with the
// size of the type graph.
func (e *CompatibilityError) Error() string {
	limit := e.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[check] layout_mismatch: expected %s, found %s: %d mismatch(es)",
		e.Expected, e.Found, len(e.Mismatches))

	shown := e.Mismatches
	if len(shown) > limit {
		shown = shown[:limit]
	}

	byPath := make(map[string][]Mismatch)
	var order []string
	for _, m := range shown {
		p := m.PathString()
		if _, exists := byPath[p]; !exists {
			order = append(order, p)
		}
		byPath[p] = append(byPath[p], m)
	}

	for _, p := range order {
		b.WriteString("\n  ")
		b.WriteString(p)
		b.WriteByte(':')
		for _, m := range byPath[p] {
			b.WriteString("\n    - ")
			b.WriteString(m.String())
		}
	}

	if rest := len(e.Mismatches) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n  ... and %d more", rest)
	}
	return b.String()
}

// Is reports whether target is a CompatibilityError or the layout-mismatch
// library sentinel.
func (e *CompatibilityError) Is(target error) bool {
	switch t := target.(type) {
	case *CompatibilityError:
		return true
	case *LibraryError:
		return t.Kind == KindLayoutMismatch
	}
	return false
}

// Kinds returns the mismatch kinds in discovery order.
func (e *CompatibilityError) Kinds() []MismatchKind {
	kinds := make([]MismatchKind, len(e.Mismatches))
	for i, m := range e.Mismatches {
		kinds[i] = m.Kind
	}
	return kinds
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string) string {
	if len(s) <= maxValueLen {
		return s
	}
	return s[:maxValueLen-3] + "..."
}
