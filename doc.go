// Package layoutcheck verifies, at load time, that a dynamically loaded
// library was built against type layouts compatible with the caller's.
//
// A caller compiles in the layout of a root module type it expects a library
// to export. The library exports a header carrying its own view of that
// layout. Loading compares the two structurally and only hands back the
// module if every type reachable from the root agrees in size, alignment,
// shape, fields, variants and function signatures.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	layoutcheck/         Root package with the Memory interface
//	├── layout/          Layout model: identities, shapes, layout arithmetic
//	├── registry/        Interning of cyclic layout graphs; binary and JSON codecs
//	├── version/         Version gate and compatibility policies
//	├── checker/         Structural compatibility walk
//	├── errors/          Structured errors, mismatch aggregation, load errors
//	├── header/          Root-module header exported by libraries
//	├── library/         Library openers (WASM via wazero, Go plugins)
//	├── loader/          Load-once module loader with caching, metrics and tracing
//	└── witlayout/       Layout producer for WIT type definitions
//
// # Quick Start
//
// Describe the expected root module, then load a library against it:
//
//	b := registry.NewBuilder()
//	root := witlayout.Module(b, layout.Identity{Package: "app", Name: "RootModule", Version: "1.2.0"},
//	    funcs, 1)
//	expected, err := b.Freeze(root)
//
//	opener := library.NewWasmOpener(ctx)
//	defer opener.Close(ctx)
//
//	ld := loader.New(opener)
//	mod, err := ld.Load(ctx, "plugins/app.wasm", loader.RootModule{
//	    BaseName: "app",
//	    Name:     "app.RootModule",
//	    Version:  "1.2.0",
//	    Layout:   expected,
//	})
//	if errors.Is(err, errors.ErrLayoutMismatch) {
//	    log.Fatal(err) // path-qualified report of every mismatch
//	}
//
// # Compatibility Rules
//
// Ordinary structs and exhaustive enums must match exactly. Prefix structs
// may gain trailing fields and non-exhaustive enums may gain variants, as
// long as the declared storage does not shrink. A version gate runs first;
// a version-incompatible library is rejected without a structural walk.
//
// # Thread Safety
//
// Registries are immutable after Freeze and safe for concurrent readers.
// A Loader is safe for concurrent use; concurrent loads of the same library
// share a single check. Validated libraries are never unloaded.
package layoutcheck
