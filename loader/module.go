package loader

import (
	"context"

	"github.com/wippyai/layoutcheck/header"
	"github.com/wippyai/layoutcheck/library"
	"github.com/wippyai/layoutcheck/registry"
)

// RootModule is the caller's compiled-in expectation of a library's root
// module.
type RootModule struct {
	// Layout is the expected layout. Nil skips the structural check, which
	// is only allowed with WithAllowUnchecked.
	Layout *registry.Registry
	// BaseName is the library file name without extension, used by
	// LoadFromDirectory.
	BaseName string
	Name     string
	Version  string
}

// Module is a validated library. It is never unloaded.
type Module struct {
	Library library.Library
	// Layout is the library's layout, nil for an unchecked library.
	Layout *registry.Registry
	Path   string
	Header header.Header
}

// Checked reports whether the module passed a structural check.
func (m *Module) Checked() bool {
	return m.Layout != nil
}

// Symbol reads another symbol from the validated library.
func (m *Module) Symbol(ctx context.Context, name string) ([]byte, error) {
	return m.Library.Symbol(ctx, name)
}
