package layout

import "fmt"

// Handle references a TypeLayout within a registry. The zero Handle is invalid.
type Handle uint32

// Valid reports whether h can reference a node.
func (h Handle) Valid() bool {
	return h != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d", uint32(h))
}

// TypeLayout describes the representation of one type.
type TypeLayout struct {
	Shape  Shape
	ID     Identity
	Params []Handle
	// Tag holds extra properties checked with CheckTag. Usually null.
	Tag   Tag
	Size  uint32
	Align uint32
}

// Kind returns the kind of the layout's shape.
func (t *TypeLayout) Kind() Kind {
	return t.Shape.Kind()
}

// Refs returns every handle the layout references, in declaration order.
func (t *TypeLayout) Refs() []Handle {
	refs := append([]Handle(nil), t.Params...)
	switch s := t.Shape.(type) {
	case *Struct:
		refs = appendFieldRefs(refs, s.Fields)
	case *PrefixStruct:
		refs = appendFieldRefs(refs, s.Fields)
	case *Enum:
		for _, v := range s.Variants {
			refs = appendFieldRefs(refs, v.Fields)
		}
	case *Func:
		refs = append(refs, s.Params...)
		refs = append(refs, s.Results...)
	}
	return refs
}

func appendFieldRefs(refs []Handle, fields []Field) []Handle {
	for _, f := range fields {
		refs = append(refs, f.Type)
	}
	return refs
}

// Shape is the closed set of type structures. Implementations are *Primitive,
// *Struct, *PrefixStruct, *Enum, *Func and *Phantom.
type Shape interface {
	Kind() Kind
	isShape()
}

// Field is a named member at a fixed offset.
type Field struct {
	Name   string
	Offset uint32
	Type   Handle
	// Conditional marks a prefix struct field past the guaranteed prefix.
	Conditional bool
}

// Primitive has no internal structure.
type Primitive struct{}

// Struct has fixed, ordered fields.
type Struct struct {
	Fields []Field
}

// PrefixStruct may gain trailing fields. Fields at or after FirstSuffixField
// were added in a later minor version.
type PrefixStruct struct {
	Fields           []Field
	FirstSuffixField int
}

// Prefix returns the fields every compatible version must have.
func (p *PrefixStruct) Prefix() []Field {
	if p.FirstSuffixField > len(p.Fields) {
		return p.Fields
	}
	return p.Fields[:p.FirstSuffixField]
}

// Variant is one enum case. Field offsets are relative to the enum start.
type Variant struct {
	Name         string
	Fields       []Field
	Discriminant int64
}

// Exhaustiveness states whether an enum's variant set may grow.
type Exhaustiveness struct {
	StorageSize  uint32
	StorageAlign uint32
	Open         bool
}

// Exhaustive marks a variant set that is fixed forever.
func Exhaustive() Exhaustiveness {
	return Exhaustiveness{}
}

// NonExhaustive marks a variant set that may grow, bounded by the given storage.
func NonExhaustive(storageSize, storageAlign uint32) Exhaustiveness {
	return Exhaustiveness{Open: true, StorageSize: storageSize, StorageAlign: storageAlign}
}

func (e Exhaustiveness) String() string {
	if !e.Open {
		return "exhaustive"
	}
	return fmt.Sprintf("nonexhaustive(size=%d, align=%d)", e.StorageSize, e.StorageAlign)
}

// Enum is a tagged union.
type Enum struct {
	Variants       []Variant
	Exhaustiveness Exhaustiveness
	Repr           Repr
}

// Variant returns the variant named name.
func (e *Enum) Variant(name string) (*Variant, bool) {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i], true
		}
	}
	return nil, false
}

// Func is a function pointer.
type Func struct {
	Params   []Handle
	Results  []Handle
	CallConv CallConv
}

// Phantom has no structure of its own. It marks a nominal type, usually
// zero-sized, whose representation is described by its parameters.
type Phantom struct{}

func (*Primitive) Kind() Kind    { return KindPrimitive }
func (*Struct) Kind() Kind       { return KindStruct }
func (*PrefixStruct) Kind() Kind { return KindPrefixStruct }
func (*Enum) Kind() Kind         { return KindEnum }
func (*Func) Kind() Kind         { return KindFunc }
func (*Phantom) Kind() Kind      { return KindPhantom }

func (*Primitive) isShape()    {}
func (*Struct) isShape()       {}
func (*PrefixStruct) isShape() {}
func (*Enum) isShape()         {}
func (*Func) isShape()         {}
func (*Phantom) isShape()      {}
