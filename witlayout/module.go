package witlayout

import (
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/layoutcheck/layout"
	"github.com/wippyai/layoutcheck/registry"
)

// FuncSize is the size of a function reference: an i32 table index.
const FuncSize = 4

// Func is one exported function of a root module.
type Func struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// Func interns the signature of f as a canonical ABI function.
func (m *Mapper) Func(f Func) layout.Handle {
	params := m.handles(f.Params)
	results := m.handles(f.Results)
	id := layout.Identity{Name: "func", Args: []string{
		"(" + m.keys(params) + ")",
		"(" + m.keys(results) + ")",
	}}
	return m.b.Add(layout.TypeLayout{
		ID:    id,
		Size:  FuncSize,
		Align: FuncSize,
		Shape: &layout.Func{Params: params, Results: results, CallConv: layout.CallConvCanon},
	})
}

// Module interns a root module: a prefix struct holding one function
// reference per entry of funcs. The first prefix functions are the
// guaranteed prefix; later ones may be absent in older libraries.
func (m *Mapper) Module(id layout.Identity, funcs []Func, prefix int) layout.Handle {
	fields := make([]layout.Field, len(funcs))
	for i, f := range funcs {
		fields[i] = layout.Field{
			Name:        f.Name,
			Offset:      uint32(i) * FuncSize,
			Type:        m.Func(f),
			Conditional: i >= prefix,
		}
	}
	return m.b.Add(layout.TypeLayout{
		ID:    id,
		Size:  uint32(len(funcs)) * FuncSize,
		Align: FuncSize,
		Shape: &layout.PrefixStruct{Fields: fields, FirstSuffixField: prefix},
	})
}

// Module interns a root module with a Mapper declaring types in id's package.
func Module(b *registry.Builder, id layout.Identity, funcs []Func, prefix int) layout.Handle {
	return New(b, id.Package, id.Version).Module(id, funcs, prefix)
}

func (m *Mapper) handles(types []wit.Type) []layout.Handle {
	out := make([]layout.Handle, len(types))
	for i, t := range types {
		out[i] = m.Type(t)
	}
	return out
}

func (m *Mapper) keys(handles []layout.Handle) string {
	keys := make([]string, len(handles))
	for i, h := range handles {
		if tl, ok := m.b.Resolve(h); ok {
			keys[i] = tl.ID.Key()
		} else {
			keys[i] = h.String()
		}
	}
	return strings.Join(keys, ",")
}
