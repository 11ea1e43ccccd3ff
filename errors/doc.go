// Package errors provides the error types used across layoutcheck.
//
// Internal failures are reported as *Error, categorized by Phase (where the
// error occurred) and Kind (error category), with an optional access path and
// cause chain:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidData).
//		Path("Root", "fields", "2").
//		Type("app.Root").
//		Detail("offset %d past size %d", 24, 16).
//		Build()
//
// Structural disagreements found by the checker are collected by an
// Aggregator and surfaced as a single *CompatibilityError. Failed module loads
// surface a *LibraryError; match its category with the exported sentinels:
//
//	if errors.Is(err, errors.ErrIncompatibleVersion) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
