package registry

import (
	"bytes"
	"fmt"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/internal/binary"
	"github.com/wippyai/layoutcheck/layout"
)

// Magic prefixes every encoded registry.
var Magic = []byte("LYT1")

// Encode serializes r. The node table is written in handle order.
func Encode(r *Registry) []byte {
	w := binary.NewWriter()
	w.WriteBytes(Magic)
	w.WriteU32(uint32(r.root))
	w.WriteU32(uint32(len(r.nodes)))
	for _, n := range r.nodes {
		encodeNode(w, n)
	}
	return w.Bytes()
}

func encodeNode(w *binary.Writer, n *layout.TypeLayout) {
	w.WriteName(n.ID.Package)
	w.WriteName(n.ID.Name)
	w.WriteName(n.ID.Version)
	w.WriteU32(uint32(len(n.ID.Args)))
	for _, a := range n.ID.Args {
		w.WriteName(a)
	}
	w.WriteU32(n.Size)
	w.WriteU32(n.Align)
	encodeHandles(w, n.Params)
	encodeTag(w, n.Tag)

	w.Byte(byte(n.Kind()))
	switch s := n.Shape.(type) {
	case *layout.Struct:
		encodeFields(w, s.Fields)
	case *layout.PrefixStruct:
		w.WriteU32(uint32(s.FirstSuffixField))
		encodeFields(w, s.Fields)
	case *layout.Enum:
		w.Byte(byte(s.Repr))
		w.WriteBool(s.Exhaustiveness.Open)
		w.WriteU32(s.Exhaustiveness.StorageSize)
		w.WriteU32(s.Exhaustiveness.StorageAlign)
		w.WriteU32(uint32(len(s.Variants)))
		for _, v := range s.Variants {
			w.WriteName(v.Name)
			w.WriteS64(v.Discriminant)
			encodeFields(w, v.Fields)
		}
	case *layout.Func:
		w.Byte(byte(s.CallConv))
		encodeHandles(w, s.Params)
		encodeHandles(w, s.Results)
	}
}

func encodeFields(w *binary.Writer, fields []layout.Field) {
	w.WriteU32(uint32(len(fields)))
	for _, f := range fields {
		w.WriteName(f.Name)
		w.WriteU32(f.Offset)
		w.WriteU32(uint32(f.Type))
		w.WriteBool(f.Conditional)
	}
}

func encodeHandles(w *binary.Writer, hs []layout.Handle) {
	w.WriteU32(uint32(len(hs)))
	for _, h := range hs {
		w.WriteU32(uint32(h))
	}
}

// Decode parses an encoded registry. The nodes are re-interned through a
// Builder, so the result satisfies the same invariants as a built registry.
func Decode(data []byte) (*Registry, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadBytes(len(Magic))
	if err != nil {
		return nil, errors.ParseFailed("magic", err)
	}
	if !bytes.Equal(magic, Magic) {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("bad magic %q", magic))
	}

	root, err := r.ReadU32()
	if err != nil {
		return nil, errors.ParseFailed("root", err)
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, errors.ParseFailed("node count", err)
	}
	// Bound allocations by the input size.
	if int(count) > r.Remaining() {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("node count %d exceeds input", count))
	}

	nodes := make([]layout.TypeLayout, count)
	for i := range nodes {
		if err := decodeNode(r, &nodes[i]); err != nil {
			return nil, errors.ParseFailed(fmt.Sprintf("node #%d", i+1), r.WrapError("node table", err))
		}
	}
	if r.Remaining() != 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("%d trailing bytes", r.Remaining()))
	}

	return rebuild(nodes, layout.Handle(root), errors.PhaseDecode)
}

// rebuild interns nodes so that node i receives handle i+1.
func rebuild(nodes []layout.TypeLayout, root layout.Handle, phase errors.Phase) (*Registry, error) {
	b := NewBuilder()
	for i := range nodes {
		h, fresh := b.Reserve(nodes[i].ID)
		if !fresh {
			return nil, errors.New(phase, errors.KindInvalidData).
				Type(nodes[i].ID.Key()).
				Detail("duplicate identity at #%d, first seen at %s", i+1, h).
				Build()
		}
	}
	for i := range nodes {
		b.Fill(layout.Handle(i+1), nodes[i])
	}
	return b.Freeze(root)
}

func decodeNode(r *binary.Reader, n *layout.TypeLayout) error {
	var err error
	if n.ID.Package, err = r.ReadName(); err != nil {
		return err
	}
	if n.ID.Name, err = r.ReadName(); err != nil {
		return err
	}
	if n.ID.Version, err = r.ReadName(); err != nil {
		return err
	}
	nargs, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(nargs) > r.Remaining() {
		return fmt.Errorf("argument count %d exceeds input", nargs)
	}
	if nargs > 0 {
		n.ID.Args = make([]string, nargs)
		for i := range n.ID.Args {
			if n.ID.Args[i], err = r.ReadName(); err != nil {
				return err
			}
		}
	}
	if n.Size, err = r.ReadU32(); err != nil {
		return err
	}
	if n.Align, err = r.ReadU32(); err != nil {
		return err
	}
	if n.Params, err = decodeHandles(r); err != nil {
		return err
	}
	if n.Tag, err = decodeTag(r, 0); err != nil {
		return err
	}

	kind, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch layout.Kind(kind) {
	case layout.KindPrimitive:
		n.Shape = &layout.Primitive{}
	case layout.KindPhantom:
		n.Shape = &layout.Phantom{}
	case layout.KindStruct:
		fields, err := decodeFields(r)
		if err != nil {
			return err
		}
		n.Shape = &layout.Struct{Fields: fields}
	case layout.KindPrefixStruct:
		boundary, err := r.ReadU32()
		if err != nil {
			return err
		}
		fields, err := decodeFields(r)
		if err != nil {
			return err
		}
		n.Shape = &layout.PrefixStruct{Fields: fields, FirstSuffixField: int(boundary)}
	case layout.KindEnum:
		e, err := decodeEnum(r)
		if err != nil {
			return err
		}
		n.Shape = e
	case layout.KindFunc:
		conv, err := r.ReadByte()
		if err != nil {
			return err
		}
		f := &layout.Func{CallConv: layout.CallConv(conv)}
		if f.Params, err = decodeHandles(r); err != nil {
			return err
		}
		if f.Results, err = decodeHandles(r); err != nil {
			return err
		}
		n.Shape = f
	default:
		return fmt.Errorf("unknown shape kind 0x%02x", kind)
	}
	return nil
}

func decodeEnum(r *binary.Reader) (*layout.Enum, error) {
	repr, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(repr) > int(layout.ReprIsize) {
		return nil, fmt.Errorf("unknown repr 0x%02x", repr)
	}
	open, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	storageSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	storageAlign, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Remaining() {
		return nil, fmt.Errorf("variant count %d exceeds input", count)
	}

	e := &layout.Enum{
		Repr:           layout.Repr(repr),
		Exhaustiveness: layout.Exhaustive(),
		Variants:       make([]layout.Variant, count),
	}
	if open {
		e.Exhaustiveness = layout.NonExhaustive(storageSize, storageAlign)
	}
	for i := range e.Variants {
		v := &e.Variants[i]
		if v.Name, err = r.ReadName(); err != nil {
			return nil, err
		}
		if v.Discriminant, err = r.ReadS64(); err != nil {
			return nil, err
		}
		if v.Fields, err = decodeFields(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func decodeFields(r *binary.Reader) ([]layout.Field, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Remaining() {
		return nil, fmt.Errorf("field count %d exceeds input", count)
	}
	if count == 0 {
		return nil, nil
	}
	fields := make([]layout.Field, count)
	for i := range fields {
		f := &fields[i]
		if f.Name, err = r.ReadName(); err != nil {
			return nil, err
		}
		if f.Offset, err = r.ReadU32(); err != nil {
			return nil, err
		}
		h, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		f.Type = layout.Handle(h)
		if f.Conditional, err = r.ReadBool(); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func decodeHandles(r *binary.Reader) ([]layout.Handle, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Remaining() {
		return nil, fmt.Errorf("handle count %d exceeds input", count)
	}
	if count == 0 {
		return nil, nil
	}
	hs := make([]layout.Handle, count)
	for i := range hs {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		hs[i] = layout.Handle(v)
	}
	return hs, nil
}

// maxTagDepth bounds tag nesting in decoded input.
const maxTagDepth = 32

func encodeTag(w *binary.Writer, t layout.Tag) {
	w.Byte(byte(t.Kind))
	switch t.Kind {
	case layout.TagBool:
		w.WriteBool(t.Bool)
	case layout.TagInt:
		w.WriteS64(t.Int)
	case layout.TagUint:
		w.WriteU64(t.Uint)
	case layout.TagString:
		w.WriteName(t.Str)
	case layout.TagIgnored, layout.TagArray, layout.TagSet:
		w.WriteU32(uint32(len(t.Elems)))
		for _, e := range t.Elems {
			encodeTag(w, e)
		}
	case layout.TagMap:
		w.WriteU32(uint32(len(t.Entries)))
		for _, e := range t.Entries {
			encodeTag(w, e.Key)
			encodeTag(w, e.Value)
		}
	}
}

func decodeTag(r *binary.Reader, depth int) (layout.Tag, error) {
	var t layout.Tag
	if depth > maxTagDepth {
		return t, fmt.Errorf("tag nested deeper than %d", maxTagDepth)
	}
	kind, err := r.ReadByte()
	if err != nil {
		return t, err
	}
	t.Kind = layout.TagKind(kind)

	switch t.Kind {
	case layout.TagNull:
	case layout.TagBool:
		t.Bool, err = r.ReadBool()
	case layout.TagInt:
		t.Int, err = r.ReadS64()
	case layout.TagUint:
		t.Uint, err = r.ReadU64()
	case layout.TagString:
		t.Str, err = r.ReadName()
	case layout.TagIgnored, layout.TagArray, layout.TagSet:
		var n uint32
		if n, err = r.ReadU32(); err != nil {
			return t, err
		}
		// Every tag takes at least one byte.
		if int(n) > r.Remaining() {
			return t, fmt.Errorf("tag element count %d exceeds input", n)
		}
		t.Elems = make([]layout.Tag, n)
		for i := range t.Elems {
			if t.Elems[i], err = decodeTag(r, depth+1); err != nil {
				return t, err
			}
		}
	case layout.TagMap:
		var n uint32
		if n, err = r.ReadU32(); err != nil {
			return t, err
		}
		if int(n) > r.Remaining()/2 {
			return t, fmt.Errorf("tag entry count %d exceeds input", n)
		}
		t.Entries = make([]layout.TagEntry, n)
		for i := range t.Entries {
			if t.Entries[i].Key, err = decodeTag(r, depth+1); err != nil {
				return t, err
			}
			if t.Entries[i].Value, err = decodeTag(r, depth+1); err != nil {
				return t, err
			}
		}
	default:
		return t, fmt.Errorf("unknown tag kind 0x%02x", kind)
	}
	return t, err
}
