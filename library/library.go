// Package library opens dynamic libraries and reads exported symbols.
//
// Two openers are provided. WasmOpener loads WebAssembly modules with wazero;
// a symbol is an exported i32 global holding the address of a
// (pointer u32, length u32) descriptor in the module's exported memory.
// PluginOpener loads Go plugins; a symbol is an exported []byte variable or a
// func() []byte.
//
// Neither opener ever unloads a library that was handed out as validated:
// Close releases a library only while it has not been accepted.
package library

import (
	"context"
	"path/filepath"
)

// Opener opens libraries by path.
type Opener interface {
	Open(ctx context.Context, path string) (Library, error)
}

// Library is an opened library.
type Library interface {
	// Path returns the path the library was opened from.
	Path() string
	// Symbol returns a copy of the bytes exported under name.
	Symbol(ctx context.Context, name string) ([]byte, error)
	// Close releases the library.
	Close(ctx context.Context) error
}

// Extensioner is implemented by openers with a conventional file extension.
type Extensioner interface {
	Extension() string
}

// ExtensionOf returns o's file extension, or "" if it has none.
func ExtensionOf(o Opener) string {
	if e, ok := o.(Extensioner); ok {
		return e.Extension()
	}
	return ""
}

// PathInDirectory returns the path of the library named baseName in dir.
func PathInDirectory(dir, baseName, ext string) string {
	return filepath.Join(dir, baseName+ext)
}
