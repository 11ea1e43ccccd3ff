package registry

import (
	"fmt"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/layout"
)

// BuildFunc produces the layout for a reserved handle. The identity passed to
// Intern overrides whatever ID the returned layout carries.
type BuildFunc func(b *Builder, self layout.Handle) layout.TypeLayout

// Builder accumulates layouts. Errors are sticky: the first one is kept and
// returned by Freeze.
type Builder struct {
	index  map[string]layout.Handle
	err    error
	ids    []layout.Identity
	nodes  []*layout.TypeLayout
	frozen bool
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]layout.Handle)}
}

// Intern returns the handle for id, building the layout on first use.
func (b *Builder) Intern(id layout.Identity, build BuildFunc) layout.Handle {
	h, fresh := b.Reserve(id)
	if !fresh {
		return h
	}
	tl := build(b, h)
	b.Fill(h, tl)
	return h
}

// Add interns a fully built layout under its own identity.
func (b *Builder) Add(tl layout.TypeLayout) layout.Handle {
	return b.Intern(tl.ID, func(*Builder, layout.Handle) layout.TypeLayout {
		return tl
	})
}

// Primitive interns a primitive named name.
func (b *Builder) Primitive(name string, size, align uint32) layout.Handle {
	return b.Add(layout.TypeLayout{
		ID:    layout.Identity{Name: name},
		Size:  size,
		Align: align,
		Shape: &layout.Primitive{},
	})
}

// Pointer interns a pointer primitive whose generic parameter is the pointee.
// Pointers to a type under construction are how cycles enter the graph.
func (b *Builder) Pointer(pointee layout.Handle, size uint32) layout.Handle {
	pointeeKey, ok := b.reservedKey(pointee)
	if !ok {
		b.Fail(errors.InvalidHandle(errors.PhaseIntern, []string{"pointer"}, uint32(pointee)))
		return 0
	}
	return b.Add(layout.TypeLayout{
		ID:     layout.Identity{Name: "ptr", Args: []string{pointeeKey}},
		Size:   size,
		Align:  size,
		Params: []layout.Handle{pointee},
		Shape:  &layout.Primitive{},
	})
}

// Reserve allocates a handle for id. If id is already known its handle is
// returned with fresh set to false.
func (b *Builder) Reserve(id layout.Identity) (h layout.Handle, fresh bool) {
	if b.frozen {
		b.Fail(errors.Frozen("intern " + id.Key()))
		return 0, false
	}
	key := id.Key()
	if h, ok := b.index[key]; ok {
		return h, false
	}
	b.ids = append(b.ids, id)
	b.nodes = append(b.nodes, nil)
	h = layout.Handle(len(b.nodes))
	b.index[key] = h
	return h, true
}

// Fill stores the layout of a reserved handle.
func (b *Builder) Fill(h layout.Handle, tl layout.TypeLayout) {
	if b.frozen {
		b.Fail(errors.Frozen("fill " + h.String()))
		return
	}
	key, ok := b.reservedKey(h)
	if !ok {
		b.Fail(errors.InvalidHandle(errors.PhaseIntern, nil, uint32(h)))
		return
	}
	if b.nodes[h-1] != nil {
		b.Fail(errors.New(errors.PhaseIntern, errors.KindInvalidInput).
			Type(key).
			Detail("%s filled twice", h).
			Build())
		return
	}
	tl.ID = b.ids[h-1]
	b.nodes[h-1] = &tl
}

// Fail records err if no earlier error was recorded.
func (b *Builder) Fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// Err returns the first recorded error.
func (b *Builder) Err() error {
	return b.err
}

// Len returns the number of reserved handles.
func (b *Builder) Len() int {
	return len(b.nodes)
}

// Lookup returns the handle interned under key.
func (b *Builder) Lookup(key string) (layout.Handle, bool) {
	h, ok := b.index[key]
	return h, ok
}

// Resolve returns the layout of h if it has been filled.
func (b *Builder) Resolve(h layout.Handle) (*layout.TypeLayout, bool) {
	n := b.node(h)
	return n, n != nil
}

// Freeze validates the graph and returns the read-only Registry rooted at root.
func (b *Builder) Freeze(root layout.Handle) (*Registry, error) {
	if b.frozen {
		return nil, errors.Frozen("freeze")
	}
	if b.err != nil {
		return nil, b.err
	}
	if err := b.validate(root); err != nil {
		b.err = err
		return nil, err
	}
	b.frozen = true
	return &Registry{nodes: b.nodes, index: b.index, root: root}, nil
}

func (b *Builder) node(h layout.Handle) *layout.TypeLayout {
	if h == 0 || int(h) > len(b.nodes) {
		return nil
	}
	return b.nodes[h-1]
}

func (b *Builder) reservedKey(h layout.Handle) (string, bool) {
	if h == 0 || int(h) > len(b.nodes) {
		return "", false
	}
	return b.ids[h-1].Key(), true
}

func (b *Builder) validate(root layout.Handle) error {
	if root == 0 || int(root) > len(b.nodes) {
		return errors.InvalidHandle(errors.PhaseIntern, []string{"root"}, uint32(root))
	}

	for i, n := range b.nodes {
		h := layout.Handle(i + 1)
		if n == nil {
			key, _ := b.reservedKey(h)
			return errors.New(errors.PhaseIntern, errors.KindInvalidData).
				Type(key).
				Detail("%s reserved but never built", h).
				Build()
		}
		if err := b.validateNode(h, n); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) validateNode(h layout.Handle, n *layout.TypeLayout) error {
	key := n.ID.Key()
	fail := func(format string, args ...any) error {
		return errors.New(errors.PhaseIntern, errors.KindInvalidData).
			Path(h.String()).
			Type(key).
			Detail(format, args...).
			Build()
	}

	if n.Shape == nil {
		return fail("missing shape")
	}
	if n.Align == 0 || n.Align&(n.Align-1) != 0 {
		return fail("alignment %d is not a power of two", n.Align)
	}
	for _, ref := range n.Refs() {
		if b.node(ref) == nil {
			return errors.InvalidHandle(errors.PhaseIntern, []string{h.String(), key}, uint32(ref))
		}
	}

	checkFields := func(where string, fields []layout.Field, conditionalFrom int) error {
		for i, f := range fields {
			if f.Conditional && (conditionalFrom < 0 || i < conditionalFrom) {
				return fail("%s field %q is conditional inside the guaranteed prefix", where, f.Name)
			}
			if end := uint64(f.Offset) + uint64(b.node(f.Type).Size); end > uint64(n.Size) {
				return fail("%s field %q ends at %d past size %d", where, f.Name, end, n.Size)
			}
		}
		return nil
	}

	switch s := n.Shape.(type) {
	case *layout.Struct:
		return checkFields("struct", s.Fields, -1)
	case *layout.PrefixStruct:
		if s.FirstSuffixField < 0 || s.FirstSuffixField > len(s.Fields) {
			return fail("prefix boundary %d out of range [0, %d]", s.FirstSuffixField, len(s.Fields))
		}
		return checkFields("prefix struct", s.Fields, s.FirstSuffixField)
	case *layout.Enum:
		seen := make(map[string]bool, len(s.Variants))
		for _, v := range s.Variants {
			if seen[v.Name] {
				return fail("duplicate variant %q", v.Name)
			}
			seen[v.Name] = true
			if err := checkFields(fmt.Sprintf("variant %s", v.Name), v.Fields, -1); err != nil {
				return err
			}
		}
	}
	return nil
}
