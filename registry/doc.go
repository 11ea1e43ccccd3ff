// Package registry interns layout.TypeLayout nodes into a handle-addressed
// graph.
//
// A Builder is populated on a single goroutine. Interning reserves a handle
// before the node is built, so a type that refers to itself (directly or
// through other types) receives its own reserved handle instead of recursing
// forever. Interning an identity a second time returns the existing handle
// without building again.
//
// Freeze validates the graph and returns a Registry, which has no mutators
// and is safe for concurrent readers. The Builder refuses all use after
// Freeze.
//
//	b := registry.NewBuilder()
//	u32 := b.Primitive("u32", 4, 4)
//	node := b.Intern(layout.Identity{Package: "app", Name: "Node"},
//		func(b *registry.Builder, self layout.Handle) layout.TypeLayout {
//			ptr := b.Pointer(self, 4)
//			return layout.TypeLayout{Size: 8, Align: 4, Shape: &layout.Struct{
//				Fields: []layout.Field{
//					{Name: "value", Offset: 0, Type: u32},
//					{Name: "next", Offset: 4, Type: ptr},
//				},
//			}}
//		})
//	reg, err := b.Freeze(node)
//
// Registries are serialized with Encode/Decode (compact binary, embedded in
// library headers) and MarshalJSON/ParseJSON (dump and expectation files).
package registry
