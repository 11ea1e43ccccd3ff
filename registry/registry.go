package registry

import (
	"iter"

	"github.com/wippyai/layoutcheck/layout"
)

// Registry is a frozen, read-only layout graph. Layouts returned by Resolve
// must not be modified.
type Registry struct {
	index map[string]layout.Handle
	nodes []*layout.TypeLayout
	root  layout.Handle
}

// Resolve returns the layout referenced by h.
func (r *Registry) Resolve(h layout.Handle) (*layout.TypeLayout, bool) {
	if h == 0 || int(h) > len(r.nodes) {
		return nil, false
	}
	return r.nodes[h-1], true
}

// Lookup returns the handle of the layout whose identity key is key.
func (r *Registry) Lookup(key string) (layout.Handle, bool) {
	h, ok := r.index[key]
	return h, ok
}

// Len returns the number of layouts.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Root returns the handle of the root layout.
func (r *Registry) Root() layout.Handle {
	return r.root
}

// RootLayout returns the root layout.
func (r *Registry) RootLayout() *layout.TypeLayout {
	return r.nodes[r.root-1]
}

// Name renders h as its identity key.
func (r *Registry) Name(h layout.Handle) string {
	if tl, ok := r.Resolve(h); ok {
		return tl.ID.Key()
	}
	return h.String()
}

// Format renders the node h on a single line.
func (r *Registry) Format(h layout.Handle) string {
	tl, ok := r.Resolve(h)
	if !ok {
		return h.String()
	}
	return layout.Format(tl, r.Name)
}

// All iterates layouts in handle order.
func (r *Registry) All() iter.Seq2[layout.Handle, *layout.TypeLayout] {
	return func(yield func(layout.Handle, *layout.TypeLayout) bool) {
		for i, n := range r.nodes {
			if !yield(layout.Handle(i+1), n) {
				return
			}
		}
	}
}
