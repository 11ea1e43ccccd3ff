package library

import (
	"context"
	"io/fs"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/layoutcheck"
	"github.com/wippyai/layoutcheck/errors"
)

// MemoryExport is the name of the memory a WASM library must export.
const MemoryExport = "memory"

// WasmConfig holds configuration for the wazero runtime.
type WasmConfig struct {
	// MemoryLimitPages caps each library's memory (64KiB pages). 0 uses the default.
	MemoryLimitPages uint32
}

// WasmOpener opens WebAssembly modules as libraries. Modules are instantiated
// without start functions and must not import anything.
type WasmOpener struct {
	runtime wazero.Runtime
	closeMu sync.Mutex
	closed  bool
}

// NewWasmOpener creates an opener with its own wazero runtime.
func NewWasmOpener(ctx context.Context) *WasmOpener {
	return NewWasmOpenerWithConfig(ctx, nil)
}

// NewWasmOpenerWithConfig creates an opener with a custom configuration.
func NewWasmOpenerWithConfig(ctx context.Context, cfg *WasmConfig) *WasmOpener {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &WasmOpener{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
}

// Extension implements Extensioner.
func (o *WasmOpener) Extension() string {
	return ".wasm"
}

// Open reads and instantiates the module at path.
func (o *WasmOpener) Open(ctx context.Context, path string) (Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(path, err)
		}
		return nil, errors.Wrap(errors.PhaseOpen, errors.KindInvalidInput, err, "read "+path)
	}
	return o.OpenBytes(ctx, path, data)
}

// OpenBytes instantiates an in-memory module. path is used for reporting.
func (o *WasmOpener) OpenBytes(ctx context.Context, path string, data []byte) (Library, error) {
	compiled, err := o.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseOpen, errors.KindInvalidData, err, "compile "+path)
	}

	// Anonymous so the same library may be opened more than once.
	cfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	mod, err := o.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Wrap(errors.PhaseOpen, errors.KindInvalidData, err, "instantiate "+path)
	}

	return &wasmLibrary{
		path:     path,
		compiled: compiled,
		module:   mod,
		memory:   WrapMemory(mod.ExportedMemory(MemoryExport)),
	}, nil
}

// Close closes the runtime and every module it instantiated.
func (o *WasmOpener) Close(ctx context.Context) error {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.runtime.Close(ctx)
}

type wasmLibrary struct {
	compiled wazero.CompiledModule
	module   api.Module
	memory   layoutcheck.Memory
	path     string
}

func (l *wasmLibrary) Path() string {
	return l.path
}

func (l *wasmLibrary) Symbol(_ context.Context, name string) ([]byte, error) {
	g := l.module.ExportedGlobal(name)
	if g == nil {
		return nil, errors.SymbolMissing(l.path, name, nil)
	}
	if g.Type() != api.ValueTypeI32 {
		return nil, errors.New(errors.PhaseOpen, errors.KindInvalidData).
			Path(l.path, name).
			Detail("symbol global has type %s, want i32", api.ValueTypeName(g.Type())).
			Build()
	}
	if l.memory == nil {
		return nil, errors.SymbolMissing(l.path, MemoryExport, nil)
	}

	desc := uint32(g.Get())
	ptr, err := l.memory.ReadU32(desc)
	if err != nil {
		return nil, l.readError(name, err)
	}
	length, err := l.memory.ReadU32(desc + 4)
	if err != nil {
		return nil, l.readError(name, err)
	}
	data, err := l.memory.Read(ptr, length)
	if err != nil {
		return nil, l.readError(name, err)
	}
	return data, nil
}

func (l *wasmLibrary) readError(name string, err error) error {
	return errors.New(errors.PhaseOpen, errors.KindInvalidData).
		Path(l.path, name).
		Detail("read symbol").
		Cause(err).
		Build()
}

func (l *wasmLibrary) Close(ctx context.Context) error {
	err := l.module.Close(ctx)
	if cerr := l.compiled.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
