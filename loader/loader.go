// Package loader opens libraries and validates their root module before
// handing it out.
//
// A load runs these steps in order, stopping at the first failure:
//
//  1. open the library
//  2. read the header symbol
//  3. check the header ABI
//  4. check the root module name
//  5. gate the root module version
//  6. decode the library's layout
//  7. structurally check it against the expected layout
//
// Every failure closes the library and surfaces a single *errors.LibraryError.
// A validated module is cached by canonical path and root module name and is
// never unloaded. The Cache owns the in-flight slot of each key, so concurrent
// loads of the same key share one load, and at most one structural check runs
// per key, even across Loaders sharing a Cache.
package loader

import (
	"context"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/layoutcheck/checker"
	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/header"
	"github.com/wippyai/layoutcheck/library"
	"github.com/wippyai/layoutcheck/registry"
	"github.com/wippyai/layoutcheck/version"
)

// TracerName is the instrumentation name of the loader's spans.
const TracerName = "github.com/wippyai/layoutcheck/loader"

// Loader validates and caches libraries.
type Loader struct {
	opener         library.Opener
	cache          Cache
	policy         version.Policy
	logger         *zap.Logger
	metrics        *Metrics
	tracer         trace.Tracer
	ext            string
	limit          int
	allowUnchecked bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache replaces the Loader's private cache. Loaders sharing a cache
// share validated modules and in-flight loads.
func WithCache(c Cache) Option {
	return func(l *Loader) { l.cache = c }
}

// WithPolicy sets the version policy for the root module and for per-type
// package versions.
func WithPolicy(p version.Policy) Option {
	return func(l *Loader) { l.policy = p }
}

// WithLogger sets the Loader's logger. The default is the package logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) { l.logger = log }
}

// WithMetrics enables metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithTracerProvider sets the provider spans are created from. The default is
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Loader) { l.tracer = tp.Tracer(TracerName) }
}

// WithMaxReportedMismatches caps how many mismatches a layout error renders.
func WithMaxReportedMismatches(n int) Option {
	return func(l *Loader) { l.limit = n }
}

// WithAllowUnchecked accepts libraries, and expectations, that carry no
// layout. Such modules skip the structural check.
func WithAllowUnchecked(allow bool) Option {
	return func(l *Loader) { l.allowUnchecked = allow }
}

// WithExtension sets the file extension used by LoadFromDirectory. The
// default is the opener's own extension.
func WithExtension(ext string) Option {
	return func(l *Loader) { l.ext = ext }
}

// New creates a Loader that opens libraries with opener.
func New(opener library.Opener, opts ...Option) *Loader {
	l := &Loader{
		opener: opener,
		policy: version.Default,
		logger: Logger(),
		tracer: otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = NewCache()
	}
	if l.ext == "" {
		l.ext = library.ExtensionOf(opener)
	}
	return l
}

// Load validates the library at path against root and returns its module.
// Repeated loads of the same path return the cached module without opening
// the library again.
func (l *Loader) Load(ctx context.Context, path string, root RootModule) (*Module, error) {
	key := Key{Path: canonicalPath(path), Root: root.Name}
	if m, ok := l.cache.Get(key); ok {
		l.metrics.IncrementCacheHits()
		return m, nil
	}

	// The flight outlives any single caller, so it must not be cancelled by
	// the caller that happens to start it.
	flightCtx := context.WithoutCancel(ctx)
	var loaded *Module
	m, err := l.cache.Do(key, func() (*Module, error) {
		m, err := l.load(flightCtx, path, root)
		loaded = m
		return m, err
	})
	if err != nil {
		return nil, err
	}
	if loaded != nil && loaded != m {
		// Another writer cached this key first.
		l.logger.Debug("discarding duplicate load", zap.String("path", key.Path))
		l.closeLibrary(flightCtx, loaded.Library, key.Path)
	}
	return m, nil
}

// LoadFromDirectory loads root.BaseName from dir using the configured
// extension.
func (l *Loader) LoadFromDirectory(ctx context.Context, dir string, root RootModule) (*Module, error) {
	return l.Load(ctx, library.PathInDirectory(dir, root.BaseName, l.ext), root)
}

func (l *Loader) load(ctx context.Context, path string, root RootModule) (*Module, error) {
	ctx, span := l.tracer.Start(ctx, "layoutcheck.load", trace.WithAttributes(
		attribute.String("layoutcheck.path", path),
		attribute.String("layoutcheck.root", root.Name),
	))
	defer span.End()

	start := time.Now()
	m, err := l.open(ctx, path, root)
	l.metrics.ObserveLoad(err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		l.logger.Info("library rejected", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	l.logger.Debug("library validated",
		zap.String("path", path),
		zap.String("root", root.Name),
		zap.Bool("checked", m.Checked()))
	return m, nil
}

func (l *Loader) open(ctx context.Context, path string, root RootModule) (*Module, error) {
	lib, err := l.opener.Open(ctx, path)
	if err != nil {
		return nil, libraryError(path, err)
	}

	m, err := l.validate(ctx, lib, root)
	if err != nil {
		l.closeLibrary(ctx, lib, path)
		return nil, err
	}
	return m, nil
}

func (l *Loader) closeLibrary(ctx context.Context, lib library.Library, path string) {
	if err := lib.Close(ctx); err != nil {
		l.logger.Warn("failed to close library",
			zap.String("path", path),
			zap.Error(err))
	}
}

func (l *Loader) validate(ctx context.Context, lib library.Library, root RootModule) (*Module, error) {
	path := lib.Path()

	raw, err := lib.Symbol(ctx, header.Symbol)
	if err != nil {
		var le *errors.LibraryError
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, errors.SymbolMissing(path, header.Symbol, err)
	}

	abi, err := header.DecodeABI(raw)
	if err != nil {
		return nil, errors.InvalidHeader(path, header.Current.String(), "", err)
	}
	if !header.Current.Compatible(abi) {
		return nil, errors.InvalidHeader(path, header.Current.String(), abi.String(), nil)
	}
	h, err := header.Decode(raw)
	if err != nil {
		return nil, errors.InvalidHeader(path, header.Current.String(), abi.String(), err)
	}

	if h.Name != root.Name {
		return nil, errors.RootModule(path, root.Name, h.Name)
	}

	if err := version.Gate(l.policy, root.Version, h.Version); err != nil {
		if errors.Is(err, &errors.Error{Phase: errors.PhaseVersion, Kind: errors.KindParseVersion}) {
			return nil, errors.ParseVersion(path, err)
		}
		return nil, errors.IncompatibleVersion(path, root.Version, h.Version, err)
	}

	m := &Module{Path: path, Header: h, Library: lib}
	if h.Unchecked() || root.Layout == nil {
		if !l.allowUnchecked {
			return nil, errors.InvalidHeader(path, "layout", "none",
				errors.Unsupported(errors.PhaseLoad, "unchecked library or expectation"))
		}
		return m, nil
	}

	found, err := h.Registry()
	if err != nil {
		return nil, errors.InvalidHeader(path, header.Current.String(), abi.String(), err)
	}

	if err := l.check(ctx, root, found); err != nil {
		var report *errors.CompatibilityError
		if errors.As(err, &report) {
			return nil, errors.LayoutMismatch(path, report)
		}
		return nil, &errors.LibraryError{Kind: errors.KindLayoutMismatch, Path: path, Cause: err}
	}
	m.Layout = found
	return m, nil
}

func (l *Loader) check(ctx context.Context, root RootModule, found *registry.Registry) error {
	_, span := l.tracer.Start(ctx, "layoutcheck.check")
	defer span.End()

	err := checker.Check(root.Layout, found,
		checker.WithPolicy(l.policy),
		checker.WithMaxReported(l.limit),
		checker.WithLogger(l.logger))

	n := 0
	var report *errors.CompatibilityError
	if errors.As(err, &report) {
		n = len(report.Mismatches)
	}
	l.metrics.ObserveCheck(n)
	span.SetAttributes(attribute.Int("layoutcheck.mismatches", n))
	if err != nil {
		span.SetStatus(codes.Error, "layout mismatch")
	}
	return err
}

// libraryError makes err a LibraryError, keeping it if it already is one.
func libraryError(path string, err error) error {
	var le *errors.LibraryError
	if errors.As(err, &le) {
		return le
	}
	return &errors.LibraryError{Kind: errors.KindInvalidData, Path: path, Cause: err}
}

// canonicalPath resolves path to an absolute, symlink-free form. Paths that
// cannot be resolved are only cleaned.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
