package witlayout

import (
	"fmt"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/layout"
	"github.com/wippyai/layoutcheck/registry"
)

// ref is a mapped type: its handle, identity and canonical ABI layout.
type ref struct {
	id   layout.Identity
	info layout.Info
	h    layout.Handle
}

// Mapper interns WIT types into a registry builder.
type Mapper struct {
	b       *registry.Builder
	names   map[*wit.TypeDef]string
	cache   map[*wit.TypeDef]ref
	pkg     string
	version string
}

// New creates a Mapper that declares named types in pkg at version.
func New(b *registry.Builder, pkg, version string) *Mapper {
	return &Mapper{
		b:       b,
		pkg:     pkg,
		version: version,
		names:   make(map[*wit.TypeDef]string),
		cache:   make(map[*wit.TypeDef]ref),
	}
}

// Name gives td a nominal name, overriding its declared one. It must be
// called before td is first mapped.
func (m *Mapper) Name(td *wit.TypeDef, name string) {
	m.names[td] = name
}

// Type interns t and returns its handle.
func (m *Mapper) Type(t wit.Type) layout.Handle {
	return m.ref(t).h
}

// Info returns the canonical ABI size and alignment of t.
func (m *Mapper) Info(t wit.Type) layout.Info {
	return m.ref(t).info
}

func (m *Mapper) ref(t wit.Type) ref {
	switch typ := t.(type) {
	case wit.Bool:
		return m.primitive("bool", 1)
	case wit.U8:
		return m.primitive("u8", 1)
	case wit.S8:
		return m.primitive("s8", 1)
	case wit.U16:
		return m.primitive("u16", 2)
	case wit.S16:
		return m.primitive("s16", 2)
	case wit.U32:
		return m.primitive("u32", 4)
	case wit.S32:
		return m.primitive("s32", 4)
	case wit.F32:
		return m.primitive("f32", 4)
	case wit.Char:
		return m.primitive("char", 4)
	case wit.U64:
		return m.primitive("u64", 8)
	case wit.S64:
		return m.primitive("s64", 8)
	case wit.F64:
		return m.primitive("f64", 8)
	case wit.String:
		return m.slice(layout.Identity{Name: "string"}, nil)
	case *wit.TypeDef:
		return m.typeDef(typ)
	default:
		m.b.Fail(errors.Unsupported(errors.PhaseIntern, "wit type "+typeName(t)))
		return ref{info: layout.Info{Align: 1}}
	}
}

func (m *Mapper) primitive(name string, size uint32) ref {
	return ref{
		id:   layout.Identity{Name: name},
		info: layout.Info{Size: size, Align: size},
		h:    m.b.Primitive(name, size, size),
	}
}

func (m *Mapper) typeDef(td *wit.TypeDef) ref {
	if r, ok := m.cache[td]; ok {
		return r
	}
	var r ref
	switch kind := td.Kind.(type) {
	case *wit.Record:
		r = m.record(td, kind)
	case *wit.Variant:
		cases := make([]namedType, len(kind.Cases))
		for i, c := range kind.Cases {
			cases[i] = namedType{name: c.Name, typ: c.Type}
		}
		r = m.variant(m.named(td, "variant"), cases, nil)
	case *wit.Enum:
		cases := make([]namedType, len(kind.Cases))
		for i, c := range kind.Cases {
			cases[i] = namedType{name: c.Name}
		}
		r = m.variant(m.named(td, "enum"), cases, nil)
	case *wit.Option:
		elem := m.ref(kind.Type)
		id := layout.Identity{Name: "option"}.Generic(elem.id)
		r = m.variant(m.namedOr(td, id), []namedType{{name: "none"}, {name: "some", typ: kind.Type}}, []ref{elem})
	case *wit.Result:
		args, params := m.optionalRefs(kind.OK, kind.Err)
		id := layout.Identity{Name: "result", Args: args}
		r = m.variant(m.namedOr(td, id), []namedType{{name: "ok", typ: kind.OK}, {name: "err", typ: kind.Err}}, params)
	case *wit.List:
		elem := m.ref(kind.Type)
		r = m.slice(m.namedOr(td, layout.Identity{Name: "list"}.Generic(elem.id)), []ref{elem})
	case *wit.Tuple:
		r = m.tuple(td, kind)
	case *wit.Flags:
		r = m.flags(td, kind)
	case *wit.Own:
		r = m.handle(td, "own", kind.Type)
	case *wit.Borrow:
		r = m.handle(td, "borrow", kind.Type)
	case wit.Type:
		// Alias: a named alias keeps the target's layout under its own name.
		target := m.ref(kind)
		if name, ok := m.nameOf(td); ok {
			r = m.alias(m.declared(name), target)
		} else {
			r = target
		}
	default:
		m.b.Fail(errors.Unsupported(errors.PhaseIntern, "wit type definition "+typeName(td.Kind)))
		r = ref{info: layout.Info{Align: 1}}
	}
	m.cache[td] = r
	return r
}

// nameOf returns the name given with Name, falling back to the name the
// definition was declared with.
func (m *Mapper) nameOf(td *wit.TypeDef) (string, bool) {
	if name, ok := m.names[td]; ok {
		return name, true
	}
	if td.Name != nil && *td.Name != "" {
		return *td.Name, true
	}
	return "", false
}

// named returns td's declared identity, or an anonymous one named kind.
func (m *Mapper) named(td *wit.TypeDef, kind string) layout.Identity {
	return m.namedOr(td, layout.Identity{Name: kind})
}

func (m *Mapper) namedOr(td *wit.TypeDef, structural layout.Identity) layout.Identity {
	if name, ok := m.nameOf(td); ok {
		return m.declared(name)
	}
	return structural
}

func (m *Mapper) declared(name string) layout.Identity {
	return layout.Identity{Package: m.pkg, Name: name, Version: m.version}
}

type namedType struct {
	typ  wit.Type
	name string
}

func (m *Mapper) record(td *wit.TypeDef, r *wit.Record) ref {
	members := make([]ref, len(r.Fields))
	infos := make([]layout.Info, len(r.Fields))
	for i, f := range r.Fields {
		members[i] = m.ref(f.Type)
		infos[i] = members[i].info
	}
	offsets, info := layout.StructLayout(infos)

	fields := make([]layout.Field, len(r.Fields))
	var args []string
	for i, f := range r.Fields {
		fields[i] = layout.Field{Name: f.Name, Offset: offsets[i], Type: members[i].h}
		args = append(args, f.Name+":"+members[i].id.Key())
	}
	id := m.namedOr(td, layout.Identity{Name: "record", Args: args})
	return m.add(id, info, nil, &layout.Struct{Fields: fields})
}

func (m *Mapper) tuple(td *wit.TypeDef, t *wit.Tuple) ref {
	members := make([]ref, len(t.Types))
	infos := make([]layout.Info, len(t.Types))
	ids := make([]layout.Identity, len(t.Types))
	for i, typ := range t.Types {
		members[i] = m.ref(typ)
		infos[i] = members[i].info
		ids[i] = members[i].id
	}
	offsets, info := layout.StructLayout(infos)

	fields := make([]layout.Field, len(members))
	for i, mem := range members {
		fields[i] = layout.Field{Name: strconv.Itoa(i), Offset: offsets[i], Type: mem.h}
	}
	id := m.namedOr(td, layout.Identity{Name: "tuple"}.Generic(ids...))
	return m.add(id, info, nil, &layout.Struct{Fields: fields})
}

// variant lays out a tagged union. Cases without a type have no payload.
func (m *Mapper) variant(id layout.Identity, cases []namedType, params []ref) ref {
	tagSize := layout.DiscriminantSize(len(cases))
	payloads := make([]ref, len(cases))
	infos := make([]layout.Info, 0, len(cases))
	for i, c := range cases {
		if c.typ == nil {
			continue
		}
		payloads[i] = m.ref(c.typ)
		infos = append(infos, payloads[i].info)
	}
	payloadOffset, info := layout.EnumLayout(layout.Info{Size: tagSize, Align: tagSize}, infos)

	variants := make([]layout.Variant, len(cases))
	for i, c := range cases {
		variants[i] = layout.Variant{Name: c.name, Discriminant: int64(i)}
		if c.typ != nil {
			variants[i].Fields = []layout.Field{{Name: "0", Offset: payloadOffset, Type: payloads[i].h}}
		}
	}
	return m.add(id, info, params, &layout.Enum{
		Variants:       variants,
		Repr:           layout.DiscriminantRepr(len(cases)),
		Exhaustiveness: layout.Exhaustive(),
	})
}

// slice lays out a (ptr, len) pair.
func (m *Mapper) slice(id layout.Identity, params []ref) ref {
	u32 := m.primitive("u32", 4)
	info := layout.Info{Size: 8, Align: 4}
	return m.add(id, info, params, &layout.Struct{Fields: []layout.Field{
		{Name: "ptr", Offset: 0, Type: u32.h},
		{Name: "len", Offset: 4, Type: u32.h},
	}})
}

func (m *Mapper) flags(td *wit.TypeDef, f *wit.Flags) ref {
	n := len(f.Flags)
	var info layout.Info
	switch {
	case n == 0:
		info = layout.Info{Size: 0, Align: 1}
	case n <= 8:
		info = layout.Info{Size: 1, Align: 1}
	case n <= 16:
		info = layout.Info{Size: 2, Align: 2}
	case n <= 32:
		info = layout.Info{Size: 4, Align: 4}
	case n <= 64:
		info = layout.Info{Size: 8, Align: 8}
	default:
		info = layout.Info{Size: uint32((n+31)/32) * 4, Align: 4}
	}
	names := make([]string, n)
	for i, flag := range f.Flags {
		names[i] = flag.Name
	}
	id := m.namedOr(td, layout.Identity{Name: "flags", Args: names})
	return m.add(id, info, nil, &layout.Primitive{})
}

// handle lays out a resource handle as an i32 index.
func (m *Mapper) handle(td *wit.TypeDef, kind string, resource *wit.TypeDef) ref {
	id := layout.Identity{Name: kind}
	if resource != nil {
		if name, ok := m.nameOf(resource); ok {
			id.Args = []string{m.declared(name).Key()}
		}
	}
	return m.add(m.namedOr(td, id), layout.Info{Size: 4, Align: 4}, nil, &layout.Primitive{})
}

func (m *Mapper) alias(id layout.Identity, target ref) ref {
	return m.add(id, target.info, []ref{target}, &layout.Phantom{})
}

func (m *Mapper) add(id layout.Identity, info layout.Info, params []ref, shape layout.Shape) ref {
	handles := make([]layout.Handle, len(params))
	for i, p := range params {
		handles[i] = p.h
	}
	h := m.b.Add(layout.TypeLayout{
		ID:     id,
		Size:   info.Size,
		Align:  info.Align,
		Params: handles,
		Shape:  shape,
	})
	return ref{id: id, info: info, h: h}
}

// optionalRefs maps types that may be absent. Absent types render as "_"
// and contribute no parameter.
func (m *Mapper) optionalRefs(types ...wit.Type) ([]string, []ref) {
	args := make([]string, len(types))
	var params []ref
	for i, t := range types {
		if t == nil {
			args[i] = "_"
			continue
		}
		r := m.ref(t)
		args[i] = r.id.Key()
		params = append(params, r)
	}
	return args, params
}

func typeName(v any) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
