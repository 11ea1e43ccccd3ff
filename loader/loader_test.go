package loader

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/header"
	"github.com/wippyai/layoutcheck/layout"
	"github.com/wippyai/layoutcheck/library"
	"github.com/wippyai/layoutcheck/library/librarytest"
	"github.com/wippyai/layoutcheck/registry"
)

const rootName = "app.RootModule"

// rootLayout builds a root module prefix struct with one u32 field per name.
func rootLayout(t *testing.T, names ...string) *registry.Registry {
	t.Helper()
	b := registry.NewBuilder()
	u32 := b.Primitive("u32", 4, 4)
	fields := make([]layout.Field, len(names))
	for i, name := range names {
		fields[i] = layout.Field{Name: name, Offset: uint32(4 * i), Type: u32}
	}
	root := b.Add(layout.TypeLayout{
		ID:    layout.Identity{Package: "app", Name: "RootModule"},
		Size:  uint32(4 * len(names)),
		Align: 4,
		Shape: &layout.PrefixStruct{FirstSuffixField: 1, Fields: fields},
	})
	reg, err := b.Freeze(root)
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return reg
}

func expect(t *testing.T, ver string, names ...string) RootModule {
	return RootModule{BaseName: "plugin", Name: rootName, Version: ver, Layout: rootLayout(t, names...)}
}

func newLoader(opener library.Opener, opts ...Option) (*Loader, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	return New(opener, append([]Option{WithMetrics(m)}, opts...)...), m
}

func TestLoadValidates(t *testing.T) {
	ctx := context.Background()
	o := librarytest.NewOpener()
	o.AddHeader("libs/plugin.test", header.New("plugin", rootName, "1.3.0", rootLayout(t, "get", "put")))

	ld, metrics := newLoader(o)
	m, err := ld.Load(ctx, "libs/plugin.test", expect(t, "1.2.0", "get"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !m.Checked() {
		t.Error("module should be checked")
	}
	if m.Path != "libs/plugin.test" {
		t.Errorf("path: got %q", m.Path)
	}
	if m.Header.Version != "1.3.0" {
		t.Errorf("version: got %q", m.Header.Version)
	}
	if o.Live() != 1 {
		t.Errorf("live libraries: got %d, want 1", o.Live())
	}
	if got := testutil.ToFloat64(metrics.Checks); got != 1 {
		t.Errorf("checks: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Loads.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok loads: got %v, want 1", got)
	}

	raw, err := m.Symbol(ctx, header.Symbol)
	if err != nil || len(raw) == 0 {
		t.Errorf("Symbol: %d bytes, %v", len(raw), err)
	}
}

func TestLoadCaches(t *testing.T) {
	ctx := context.Background()
	o := librarytest.NewOpener()
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "get")))

	ld, metrics := newLoader(o)
	root := expect(t, "1.2.0", "get")
	first, err := ld.Load(ctx, "plugin.test", root)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	second, err := ld.Load(ctx, "./plugin.test", root)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if first != second {
		t.Error("repeated load returned a different module")
	}
	if o.Opens() != 1 {
		t.Errorf("opens: got %d, want 1", o.Opens())
	}
	if got := testutil.ToFloat64(metrics.Checks); got != 1 {
		t.Errorf("checks: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheHits); got != 1 {
		t.Errorf("cache hits: got %v, want 1", got)
	}
}

func TestLoadSharedCache(t *testing.T) {
	ctx := context.Background()
	o := librarytest.NewOpener()
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "get")))

	cache := NewCache()
	root := expect(t, "1.2.0", "get")
	a, _ := newLoader(o, WithCache(cache))
	b, _ := newLoader(o, WithCache(cache))
	isolated, _ := newLoader(o)

	ma, err := a.Load(ctx, "plugin.test", root)
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	mb, err := b.Load(ctx, "plugin.test", root)
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}
	if ma != mb {
		t.Error("loaders sharing a cache returned different modules")
	}
	mi, err := isolated.Load(ctx, "plugin.test", root)
	if err != nil {
		t.Fatalf("Load isolated: %v", err)
	}
	if mi == ma {
		t.Error("isolated loader returned a module from another cache")
	}
	if cache.Len() != 1 {
		t.Errorf("cache len: got %d, want 1", cache.Len())
	}
}

func TestLoadSharedCacheConcurrent(t *testing.T) {
	o := librarytest.NewOpener()
	o.Delay = 20 * time.Millisecond
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "get")))

	cache := NewCache()
	root := expect(t, "1.2.0", "get")
	a, ma := newLoader(o, WithCache(cache))
	b, mb := newLoader(o, WithCache(cache))
	loaders := []*Loader{a, b}

	const n = 16
	modules := make([]*Module, n)
	errs := make([]error, n)
	var start, done sync.WaitGroup
	start.Add(1)
	for i := range n {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			modules[i], errs[i] = loaders[i%2].Load(context.Background(), "plugin.test", root)
		}()
	}
	start.Done()
	done.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("load %d: %v", i, errs[i])
		}
		if modules[i] != modules[0] {
			t.Errorf("load %d returned a different module", i)
		}
	}
	checks := testutil.ToFloat64(ma.Checks) + testutil.ToFloat64(mb.Checks)
	if checks != 1 {
		t.Errorf("checks: got %v, want 1", checks)
	}
	if o.Opens() != 1 {
		t.Errorf("opens: got %d, want 1", o.Opens())
	}
	if o.Live() != 1 {
		t.Errorf("live: got %d, want 1", o.Live())
	}
	if cache.Len() != 1 {
		t.Errorf("cache len: got %d, want 1", cache.Len())
	}
}

// racingCache stores winner under the key while load runs, as another
// process-wide writer would.
type racingCache struct {
	*MapCache
	winner *Module
}

func (c *racingCache) Do(key Key, load func() (*Module, error)) (*Module, error) {
	m, err := load()
	if err != nil {
		return nil, err
	}
	c.MapCache.Store(key, c.winner)
	return c.MapCache.Store(key, m), nil
}

func TestLoadClosesDuplicate(t *testing.T) {
	o := librarytest.NewOpener()
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "get")))

	winner := &Module{Path: "plugin.test"}
	cache := &racingCache{MapCache: NewCache(), winner: winner}
	ld, _ := newLoader(o, WithCache(cache))

	m, err := ld.Load(context.Background(), "plugin.test", expect(t, "1.2.0", "get"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m != winner {
		t.Error("Load did not return the cached module")
	}
	if o.Opens() != 1 {
		t.Errorf("opens: got %d, want 1", o.Opens())
	}
	if o.Live() != 0 {
		t.Errorf("live: got %d, want 0", o.Live())
	}
}

func TestLoadConcurrentDedup(t *testing.T) {
	o := librarytest.NewOpener()
	o.Delay = 20 * time.Millisecond
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "get")))

	ld, metrics := newLoader(o)
	root := expect(t, "1.2.0", "get")

	const n = 16
	modules := make([]*Module, n)
	errs := make([]error, n)
	var start, done sync.WaitGroup
	start.Add(1)
	for i := range n {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			modules[i], errs[i] = ld.Load(context.Background(), "plugin.test", root)
		}()
	}
	start.Done()
	done.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("load %d: %v", i, errs[i])
		}
		if modules[i] != modules[0] {
			t.Errorf("load %d returned a different module", i)
		}
	}
	if got := testutil.ToFloat64(metrics.Checks); got != 1 {
		t.Errorf("checks: got %v, want 1", got)
	}
	if o.Opens() != 1 {
		t.Errorf("opens: got %d, want 1", o.Opens())
	}
}

func TestLoadConcurrentFailure(t *testing.T) {
	o := librarytest.NewOpener()
	o.Delay = 10 * time.Millisecond
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "other")))

	ld, _ := newLoader(o)
	root := expect(t, "1.2.0", "get")

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ld.Load(context.Background(), "plugin.test", root)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, errors.ErrLayoutMismatch) {
			t.Errorf("load %d: got %v, want layout_mismatch", i, err)
		}
	}
	if o.Live() != 0 {
		t.Errorf("live libraries after failures: got %d, want 0", o.Live())
	}
}

func TestLoadFailures(t *testing.T) {
	foreign := header.New("plugin", rootName, "1.2.0", nil)
	foreign.ABI.Magic = [header.MagicSize]byte{'o', 't', 'h', 'e', 'r'}

	nextABI := header.New("plugin", rootName, "1.2.0", nil)
	nextABI.ABI.Minor++

	tests := []struct {
		setup      func(t *testing.T, o *librarytest.Opener)
		want       error
		name       string
		wantChecks float64
	}{
		{
			name:  "not found",
			setup: func(*testing.T, *librarytest.Opener) {},
			want:  errors.ErrNotFound,
		},
		{
			name: "symbol missing",
			setup: func(_ *testing.T, o *librarytest.Opener) {
				o.Add("plugin.test", librarytest.Symbol{Name: "unrelated", Data: []byte{1}})
			},
			want: errors.ErrSymbolMissing,
		},
		{
			name: "truncated header",
			setup: func(_ *testing.T, o *librarytest.Opener) {
				o.Add("plugin.test", librarytest.Symbol{Name: header.Symbol, Data: []byte("short")})
			},
			want: errors.ErrInvalidHeader,
		},
		{
			name: "foreign magic",
			setup: func(_ *testing.T, o *librarytest.Opener) {
				o.AddHeader("plugin.test", foreign)
			},
			want: errors.ErrInvalidHeader,
		},
		{
			name: "header abi minor",
			setup: func(_ *testing.T, o *librarytest.Opener) {
				o.AddHeader("plugin.test", nextABI)
			},
			want: errors.ErrInvalidHeader,
		},
		{
			name: "other root module",
			setup: func(t *testing.T, o *librarytest.Opener) {
				o.AddHeader("plugin.test", header.New("plugin", "app.Other", "1.2.0", rootLayout(t, "get")))
			},
			want: errors.ErrRootModule,
		},
		{
			name: "older minor",
			setup: func(t *testing.T, o *librarytest.Opener) {
				// The layout also differs; the version gate must stop first.
				o.AddHeader("plugin.test", header.New("plugin", rootName, "1.1.5", rootLayout(t, "other")))
			},
			want: errors.ErrIncompatibleVersion,
		},
		{
			name: "other major",
			setup: func(t *testing.T, o *librarytest.Opener) {
				o.AddHeader("plugin.test", header.New("plugin", rootName, "2.0.0", rootLayout(t, "get")))
			},
			want: errors.ErrIncompatibleVersion,
		},
		{
			name: "unparsable version",
			setup: func(t *testing.T, o *librarytest.Opener) {
				o.AddHeader("plugin.test", header.New("plugin", rootName, "banana", rootLayout(t, "get")))
			},
			want: errors.ErrParseVersion,
		},
		{
			name: "unchecked library",
			setup: func(_ *testing.T, o *librarytest.Opener) {
				o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", nil))
			},
			want: errors.ErrInvalidHeader,
		},
		{
			name: "layout mismatch",
			setup: func(t *testing.T, o *librarytest.Opener) {
				o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "other")))
			},
			want:       errors.ErrLayoutMismatch,
			wantChecks: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := librarytest.NewOpener()
			tt.setup(t, o)
			ld, metrics := newLoader(o)

			m, err := ld.Load(context.Background(), "plugin.test", expect(t, "1.2.0", "get"))
			if m != nil {
				t.Error("failed load returned a module")
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Load: got %v, want %v", err, tt.want)
			}
			if o.Live() != 0 {
				t.Errorf("library left open after failure")
			}
			if got := testutil.ToFloat64(metrics.Checks); got != tt.wantChecks {
				t.Errorf("checks: got %v, want %v", got, tt.wantChecks)
			}
			if errors.Is(tt.want, errors.ErrIncompatibleVersion) && errors.Is(err, errors.ErrLayoutMismatch) {
				t.Error("version failure carries a layout mismatch")
			}
		})
	}
}

func TestLoadFailureNotCached(t *testing.T) {
	ctx := context.Background()
	o := librarytest.NewOpener()
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "other")))

	ld, _ := newLoader(o)
	root := expect(t, "1.2.0", "get")
	if _, err := ld.Load(ctx, "plugin.test", root); err == nil {
		t.Fatal("expected first load to fail")
	}

	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "get")))
	if _, err := ld.Load(ctx, "plugin.test", root); err != nil {
		t.Fatalf("Load after fix: %v", err)
	}
	if o.Opens() != 2 {
		t.Errorf("opens: got %d, want 2", o.Opens())
	}
}

func TestLoadLayoutMismatchReport(t *testing.T) {
	o := librarytest.NewOpener()
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", rootLayout(t, "other")))

	ld, metrics := newLoader(o, WithMaxReportedMismatches(1))
	_, err := ld.Load(context.Background(), "plugin.test", expect(t, "1.2.0", "get"))

	var report *errors.CompatibilityError
	if !errors.As(err, &report) {
		t.Fatalf("expected a CompatibilityError, got %v", err)
	}
	if report.Limit != 1 {
		t.Errorf("limit: got %d, want 1", report.Limit)
	}
	if len(report.Mismatches) == 0 {
		t.Fatal("report has no mismatches")
	}
	if !strings.Contains(err.Error(), "RootModule") {
		t.Errorf("message does not name the root: %s", err)
	}
	if got := testutil.ToFloat64(metrics.Mismatches); got != float64(len(report.Mismatches)) {
		t.Errorf("mismatch counter: got %v, want %d", got, len(report.Mismatches))
	}
	if got := testutil.ToFloat64(metrics.Loads.WithLabelValues("layout_mismatch")); got != 1 {
		t.Errorf("layout_mismatch loads: got %v, want 1", got)
	}
}

func TestLoadUncheckedAllowed(t *testing.T) {
	o := librarytest.NewOpener()
	o.AddHeader("plugin.test", header.New("plugin", rootName, "1.2.0", nil))

	ld, metrics := newLoader(o, WithAllowUnchecked(true))
	m, err := ld.Load(context.Background(), "plugin.test", expect(t, "1.2.0", "get"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Checked() {
		t.Error("unchecked module reported as checked")
	}
	if got := testutil.ToFloat64(metrics.Checks); got != 0 {
		t.Errorf("checks: got %v, want 0", got)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	o := librarytest.NewOpener()
	o.AddHeader(filepath.Join(dir, "plugin.test"), header.New("plugin", rootName, "1.2.0", rootLayout(t, "get")))

	ld, _ := newLoader(o)
	m, err := ld.LoadFromDirectory(context.Background(), dir, expect(t, "1.2.0", "get"))
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if m.Path != filepath.Join(dir, "plugin.test") {
		t.Errorf("path: got %q", m.Path)
	}

	custom, _ := newLoader(o, WithExtension(".so"))
	if _, err := custom.LoadFromDirectory(context.Background(), dir, expect(t, "1.2.0", "get")); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("custom extension: got %v, want not_found", err)
	}
}

func TestLoadWasmLibrary(t *testing.T) {
	ctx := context.Background()
	opener := library.NewWasmOpener(ctx)
	t.Cleanup(func() { _ = opener.Close(ctx) })

	dir := t.TempDir()
	h := header.New("plugin", rootName, "1.2.4", rootLayout(t, "get", "put"))
	librarytest.WriteFile(t, dir, "plugin.wasm", librarytest.HeaderModule(h))

	ld, metrics := newLoader(opener)
	m, err := ld.LoadFromDirectory(ctx, dir, expect(t, "1.2.0", "get"))
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if m.Layout.RootLayout().ID.Name != "RootModule" {
		t.Errorf("root: got %q", m.Layout.RootLayout().ID.Name)
	}
	if got := testutil.ToFloat64(metrics.Checks); got != 1 {
		t.Errorf("checks: got %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveLoad(nil, time.Millisecond)
	m.ObserveCheck(3)
	m.IncrementCacheHits()
}
