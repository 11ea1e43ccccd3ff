package library_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/header"
	"github.com/wippyai/layoutcheck/library"
	"github.com/wippyai/layoutcheck/library/librarytest"
)

func newOpener(t *testing.T) *library.WasmOpener {
	t.Helper()
	ctx := context.Background()
	o := library.NewWasmOpener(ctx)
	t.Cleanup(func() { _ = o.Close(ctx) })
	return o
}

func TestWasmOpenerSymbols(t *testing.T) {
	ctx := context.Background()
	o := newOpener(t)

	first := []byte("first payload")
	second := bytes.Repeat([]byte{0xab}, 300)
	empty := []byte{}
	data := librarytest.Module(
		librarytest.Symbol{Name: "first", Data: first},
		librarytest.Symbol{Name: "second", Data: second},
		librarytest.Symbol{Name: "empty", Data: empty},
	)

	lib, err := o.OpenBytes(ctx, "mem.wasm", data)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer lib.Close(ctx)

	if lib.Path() != "mem.wasm" {
		t.Errorf("path: got %q", lib.Path())
	}

	tests := []struct {
		name string
		want []byte
	}{
		{"first", first},
		{"second", second},
		{"empty", empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lib.Symbol(ctx, tt.name)
			if err != nil {
				t.Fatalf("Symbol: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Symbol: got %d bytes, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestWasmOpenerSymbolIsCopy(t *testing.T) {
	ctx := context.Background()
	o := newOpener(t)
	lib, err := o.OpenBytes(ctx, "copy.wasm", librarytest.Module(librarytest.Symbol{Name: "s", Data: []byte{1, 2, 3}}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer lib.Close(ctx)

	got, _ := lib.Symbol(ctx, "s")
	got[0] = 9
	again, _ := lib.Symbol(ctx, "s")
	if again[0] != 1 {
		t.Error("Symbol returned a view into module memory")
	}
}

func TestWasmOpenerSymbolErrors(t *testing.T) {
	ctx := context.Background()
	o := newOpener(t)

	tests := []struct {
		name   string
		data   []byte
		symbol string
		want   error
	}{
		{
			name:   "missing global",
			data:   librarytest.Module(librarytest.Symbol{Name: "present", Data: []byte{1}}),
			symbol: "absent",
			want:   errors.ErrSymbolMissing,
		},
		{
			name:   "no memory export",
			data:   librarytest.ModuleWithoutMemory(librarytest.Symbol{Name: "s", Data: []byte{1}}),
			symbol: "s",
			want:   errors.ErrSymbolMissing,
		},
		{
			name:   "wrong global type",
			data:   librarytest.ModuleWithI64Global("wide"),
			symbol: "wide",
			want:   &errors.Error{Phase: errors.PhaseOpen, Kind: errors.KindInvalidData},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib, err := o.OpenBytes(ctx, tt.name+".wasm", tt.data)
			if err != nil {
				t.Fatalf("OpenBytes: %v", err)
			}
			defer lib.Close(ctx)

			_, err = lib.Symbol(ctx, tt.symbol)
			if !errors.Is(err, tt.want) {
				t.Errorf("Symbol: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWasmOpenerFile(t *testing.T) {
	ctx := context.Background()
	o := newOpener(t)
	dir := t.TempDir()

	h := header.New("plugin", "app.RootModule", "1.0.0", nil)
	path := librarytest.WriteFile(t, dir, "plugin"+library.ExtensionOf(o), librarytest.HeaderModule(h))
	if want := library.PathInDirectory(dir, "plugin", ".wasm"); path != want {
		t.Fatalf("path: got %q, want %q", path, want)
	}

	lib, err := o.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer lib.Close(ctx)

	raw, err := lib.Symbol(ctx, header.Symbol)
	if err != nil {
		t.Fatalf("Symbol: %v", err)
	}
	got, err := header.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "app.RootModule" || !got.Unchecked() {
		t.Errorf("header: got %+v", got)
	}
}

func TestWasmOpenerNotFound(t *testing.T) {
	o := newOpener(t)
	_, err := o.Open(context.Background(), filepath.Join(t.TempDir(), "missing.wasm"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Open: got %v, want not_found", err)
	}
}

func TestWasmOpenerInvalidModule(t *testing.T) {
	o := newOpener(t)
	_, err := o.OpenBytes(context.Background(), "junk.wasm", []byte("not wasm"))
	want := &errors.Error{Phase: errors.PhaseOpen, Kind: errors.KindInvalidData}
	if !errors.Is(err, want) {
		t.Errorf("OpenBytes: got %v, want %v", err, want)
	}
}

func TestWasmOpenerCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	o := library.NewWasmOpener(ctx)
	if err := o.Close(ctx); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := o.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestExtensionOf(t *testing.T) {
	tests := []struct {
		opener library.Opener
		want   string
	}{
		{library.PluginOpener{}, ".so"},
		{librarytest.NewOpener(), ".test"},
		{plainOpener{}, ""},
	}
	for _, tt := range tests {
		if got := library.ExtensionOf(tt.opener); got != tt.want {
			t.Errorf("ExtensionOf(%T): got %q, want %q", tt.opener, got, tt.want)
		}
	}
}

type plainOpener struct{}

func (plainOpener) Open(context.Context, string) (library.Library, error) {
	return nil, errors.ErrNotFound
}

func TestGoSymbolName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"layoutcheck_root_module", "LayoutcheckRootModule"},
		{"already", "Already"},
		{"__double__under", "DoubleUnder"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := library.GoSymbolName(tt.in); got != tt.want {
			t.Errorf("GoSymbolName(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPluginOpenerNotFound(t *testing.T) {
	_, err := library.PluginOpener{}.Open(context.Background(), filepath.Join(t.TempDir(), "missing.so"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Open: got %v, want not_found", err)
	}
}

func TestFakeOpenerCounts(t *testing.T) {
	ctx := context.Background()
	o := librarytest.NewOpener()
	o.Add("a", librarytest.Symbol{Name: "x", Data: []byte{1}})

	lib, err := o.Open(ctx, "a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if o.Opens() != 1 || o.Live() != 1 {
		t.Errorf("after open: opens %d live %d", o.Opens(), o.Live())
	}
	_ = lib.Close(ctx)
	_ = lib.Close(ctx)
	if o.Live() != 0 {
		t.Errorf("after close: live %d, want 0", o.Live())
	}
	if _, err := o.Open(ctx, "b"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Open missing: got %v", err)
	}
}
