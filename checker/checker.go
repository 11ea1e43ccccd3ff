// Package checker compares an expected layout graph against a found one.
//
// The walk starts at a pair of root handles and descends through generic
// parameters, fields, variants and function signatures. Every disagreement
// is recorded; the walk never stops at the first one. A pair of nodes that is
// already being compared further up the current path is assumed compatible,
// which closes cycles; a pair that was fully compared elsewhere is skipped.
//
// Only nodes with the same nominal identity are compared structurally. A
// differing identity is itself the mismatch and the pair is not descended.
//
// Type tags are checked with layout.CheckTag: the found tag may carry more
// than the expected one but never less.
package checker

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/layout"
	"github.com/wippyai/layoutcheck/registry"
	"github.com/wippyai/layoutcheck/version"
)

type options struct {
	policy version.Policy
	logger *zap.Logger
	limit  int
}

// Option configures a check.
type Option func(*options)

// WithPolicy sets the policy for per-type package versions.
func WithPolicy(p version.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithMaxReported caps how many mismatches the error message renders. All
// mismatches are still recorded.
func WithMaxReported(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithLogger overrides the package logger for one check.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

type pair struct {
	expected layout.Handle
	found    layout.Handle
}

type walker struct {
	expected *registry.Registry
	found    *registry.Registry
	opts     options
	onPath   map[pair]struct{}
	done     map[pair]struct{}
	agg      errors.Aggregator
	path     []string
}

// Check compares the roots of expected and found. It returns nil or a
// *errors.CompatibilityError holding every mismatch.
func Check(expected, found *registry.Registry, opts ...Option) error {
	return CheckAt(expected, expected.Root(), found, found.Root(), opts...)
}

// CheckAt compares node e of expected against node f of found.
func CheckAt(expected *registry.Registry, e layout.Handle, found *registry.Registry, f layout.Handle, opts ...Option) error {
	o := options{policy: version.Default, logger: Logger()}
	for _, opt := range opts {
		opt(&o)
	}

	w := &walker{
		expected: expected,
		found:    found,
		opts:     o,
		onPath:   make(map[pair]struct{}),
		done:     make(map[pair]struct{}),
	}

	w.path = append(w.path, rootSegment(expected, e))
	w.compare(e, f)

	report := w.agg.Err(expected.Name(e), found.Name(f), o.limit)
	if report == nil {
		return nil
	}
	o.logger.Debug("layout check failed",
		zap.String("expected", report.Expected),
		zap.Int("mismatches", len(report.Mismatches)))
	return report
}

func rootSegment(r *registry.Registry, h layout.Handle) string {
	if tl, ok := r.Resolve(h); ok {
		return tl.ID.Name
	}
	return h.String()
}

func (w *walker) report(kind errors.MismatchKind, expected, found any, detail string) {
	w.agg.Add(w.path, kind, expected, found, detail)
	if ce := w.opts.logger.Check(zap.DebugLevel, "layout mismatch"); ce != nil {
		m := w.agg.Mismatches()[w.agg.Len()-1]
		ce.Write(
			zap.String("path", m.PathString()),
			zap.String("kind", string(kind)),
			zap.String("expected", m.Expected),
			zap.String("found", m.Found),
		)
	}
}

func (w *walker) push(seg string) {
	w.path = append(w.path, seg)
}

func (w *walker) pop() {
	w.path = w.path[:len(w.path)-1]
}

// descend compares a referenced pair under the path segment seg.
func (w *walker) descend(seg string, e, f layout.Handle) {
	w.push(seg)
	w.compare(e, f)
	w.pop()
}

func (w *walker) compare(eh, fh layout.Handle) {
	et, eok := w.expected.Resolve(eh)
	ft, fok := w.found.Resolve(fh)
	if !eok || !fok {
		w.report(errors.MismatchUnresolved, eh, fh, "handle does not resolve")
		return
	}

	p := pair{eh, fh}
	if _, ok := w.onPath[p]; ok {
		return
	}
	if _, ok := w.done[p]; ok {
		return
	}
	w.onPath[p] = struct{}{}
	defer func() {
		delete(w.onPath, p)
		w.done[p] = struct{}{}
	}()

	if !layout.SameNominal(et.ID, ft.ID) {
		w.report(errors.MismatchTypeName, et.ID.Key(), ft.ID.Key(), "")
		return
	}

	w.comparePackageVersion(et, ft)

	if len(et.Params) != len(ft.Params) {
		w.report(errors.MismatchParamCount, len(et.Params), len(ft.Params), "")
	} else {
		for i := range et.Params {
			w.descend(fmt.Sprintf("<%d>", i), et.Params[i], ft.Params[i])
		}
	}

	if et.Align != ft.Align {
		w.report(errors.MismatchAlignment, et.Align, ft.Align, "")
	}

	if err := layout.CheckTag(et.Tag, ft.Tag); err != nil {
		w.report(errors.MismatchTag, et.Tag, ft.Tag, err.Error())
	}

	if et.Kind() != ft.Kind() {
		if et.Size != ft.Size {
			w.report(errors.MismatchSize, et.Size, ft.Size, "")
		}
		w.report(errors.MismatchShape, et.Kind(), ft.Kind(), "")
		return
	}

	switch es := et.Shape.(type) {
	case *layout.Primitive, *layout.Phantom:
		w.compareSize(et, ft)
	case *layout.Struct:
		w.compareSize(et, ft)
		w.compareStruct(es, ft.Shape.(*layout.Struct))
	case *layout.PrefixStruct:
		w.comparePrefix(et, ft, es, ft.Shape.(*layout.PrefixStruct))
	case *layout.Enum:
		w.compareEnum(et, ft, es, ft.Shape.(*layout.Enum))
	case *layout.Func:
		w.compareSize(et, ft)
		w.compareFunc(es, ft.Shape.(*layout.Func))
	}
}

func (w *walker) compareSize(et, ft *layout.TypeLayout) {
	if et.Size != ft.Size {
		w.report(errors.MismatchSize, et.Size, ft.Size, "")
	}
}

func (w *walker) comparePackageVersion(et, ft *layout.TypeLayout) {
	if et.ID.Version == "" || ft.ID.Version == "" {
		return
	}
	ev, err := version.Parse(et.ID.Version)
	if err != nil {
		w.report(errors.MismatchPackageVersion, et.ID.Version, ft.ID.Version, "expected: "+err.Error())
		return
	}
	fv, err := version.Parse(ft.ID.Version)
	if err != nil {
		w.report(errors.MismatchPackageVersion, et.ID.Version, ft.ID.Version, "found: "+err.Error())
		return
	}
	if !w.opts.policy.Compatible(ev, fv) {
		w.report(errors.MismatchPackageVersion, ev, fv, "policy "+w.opts.policy.Name())
	}
}

// compareFields compares fields positionally. Fields past the shorter list
// are the caller's concern.
func (w *walker) compareFields(prefix string, ef, ff []layout.Field) {
	for i := range min(len(ef), len(ff)) {
		w.compareField(prefix, ef[i], ff[i])
	}
}

func (w *walker) compareField(prefix string, e, f layout.Field) {
	w.push(prefix + e.Name)
	defer w.pop()

	if e.Name != f.Name {
		w.report(errors.MismatchFieldName, e.Name, f.Name, "")
		return
	}
	if e.Offset != f.Offset {
		w.report(errors.MismatchFieldOffset, e.Offset, f.Offset, "")
	}
	w.compare(e.Type, f.Type)
}

func (w *walker) compareStruct(es, fs *layout.Struct) {
	if len(es.Fields) != len(fs.Fields) {
		w.report(errors.MismatchFieldCount, len(es.Fields), len(fs.Fields), "")
	}
	w.compareFields("", es.Fields, fs.Fields)
}

func (w *walker) comparePrefix(et, ft *layout.TypeLayout, es, fs *layout.PrefixStruct) {
	if es.FirstSuffixField != fs.FirstSuffixField {
		w.report(errors.MismatchPrefixBoundary, es.FirstSuffixField, fs.FirstSuffixField, "")
	}

	var mandatory []layout.Field
	for _, f := range es.Fields {
		if !f.Conditional {
			mandatory = append(mandatory, f)
		}
	}
	end := layout.FieldsEnd(mandatory, w.expectedSize)
	if uint64(ft.Size) < end {
		w.report(errors.MismatchSize, et.Size, ft.Size,
			fmt.Sprintf("found is smaller than the %d bytes of mandatory fields", end))
	}

	w.compareFields("", es.Fields, fs.Fields)
	for _, f := range es.Fields[min(len(es.Fields), len(fs.Fields)):] {
		if f.Conditional {
			continue
		}
		w.push(f.Name)
		w.report(errors.MismatchFieldMissing, f.Name, "", "")
		w.pop()
	}
}

func (w *walker) expectedSize(h layout.Handle) uint32 {
	if tl, ok := w.expected.Resolve(h); ok {
		return tl.Size
	}
	return 0
}

func (w *walker) compareEnum(et, ft *layout.TypeLayout, ee, fe *layout.Enum) {
	if ee.Repr != fe.Repr {
		w.report(errors.MismatchRepr, ee.Repr, fe.Repr, "")
	}

	ex, fx := ee.Exhaustiveness, fe.Exhaustiveness
	open := ex.Open && fx.Open
	if ex.Open != fx.Open {
		w.report(errors.MismatchExhaustiveness, ex, fx, "")
	}

	if open {
		if fx.StorageSize < ex.StorageSize {
			w.report(errors.MismatchSize, ex.StorageSize, fx.StorageSize, "non-exhaustive storage shrank")
		}
		if fx.StorageAlign < ex.StorageAlign {
			w.report(errors.MismatchAlignment, ex.StorageAlign, fx.StorageAlign, "non-exhaustive storage shrank")
		}
		if et.Size > ex.StorageSize || et.Align > ex.StorageAlign {
			w.report(errors.MismatchStorage, ex, fmt.Sprintf("size=%d align=%d", et.Size, et.Align), "expected enum exceeds its storage")
		}
		if ft.Size > fx.StorageSize || ft.Align > fx.StorageAlign {
			w.report(errors.MismatchStorage, fx, fmt.Sprintf("size=%d align=%d", ft.Size, ft.Align), "found enum exceeds its storage")
		}
	} else {
		w.compareSize(et, ft)
		if len(ee.Variants) != len(fe.Variants) {
			w.report(errors.MismatchVariantCount, len(ee.Variants), len(fe.Variants), "")
		}
	}

	n := min(len(ee.Variants), len(fe.Variants))
	for i := range n {
		w.compareVariant(ee.Variants[i], fe.Variants[i])
	}

	if open {
		for _, v := range ee.Variants[n:] {
			w.push(v.Name)
			w.report(errors.MismatchVariantMissing, v.Name, "", "")
			w.pop()
		}
	}
}

func (w *walker) compareVariant(e, f layout.Variant) {
	if e.Name != f.Name {
		w.push(e.Name)
		w.report(errors.MismatchVariantName, e.Name, f.Name, "")
		w.pop()
		return
	}
	if e.Discriminant != f.Discriminant {
		w.push(e.Name)
		w.report(errors.MismatchDiscriminant, e.Discriminant, f.Discriminant, "")
		w.pop()
	}
	if len(e.Fields) != len(f.Fields) {
		w.push(e.Name)
		w.report(errors.MismatchFieldCount, len(e.Fields), len(f.Fields), "")
		w.pop()
	}
	w.compareFields(e.Name+"::", e.Fields, f.Fields)
}

func (w *walker) compareFunc(ef, ff *layout.Func) {
	if len(ef.Params) != len(ff.Params) {
		w.report(errors.MismatchArity, len(ef.Params), len(ff.Params), "")
	}
	if len(ef.Results) != len(ff.Results) {
		w.report(errors.MismatchResultCount, len(ef.Results), len(ff.Results), "")
	}
	for i := range min(len(ef.Params), len(ff.Params)) {
		w.descend(fmt.Sprintf("param%d", i), ef.Params[i], ff.Params[i])
	}
	for i := range min(len(ef.Results), len(ff.Results)) {
		w.descend(fmt.Sprintf("result%d", i), ef.Results[i], ff.Results[i])
	}
	if ef.CallConv != ff.CallConv {
		w.report(errors.MismatchCallConv, ef.CallConv, ff.CallConv, "")
	}
}
