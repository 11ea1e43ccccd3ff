// Package layout describes the memory representation of a type.
//
// A TypeLayout pairs a nominal Identity with size, alignment, the layouts of
// its generic parameters and a Shape. Shapes reference other layouts through
// Handles rather than pointers, so recursive type graphs are represented by
// back-edges into a registry instead of infinite unfolding.
//
// # Shapes
//
// The Shape vocabulary is closed:
//   - Primitive: size and alignment only (integers, floats, pointers)
//   - Struct: fixed, ordered fields
//   - PrefixStruct: a struct that may gain trailing fields in minor versions
//   - Enum: tagged variants, exhaustive or non-exhaustive with bounded storage
//   - Func: function pointer with parameter/result layouts and calling convention
//   - Phantom: zero-size marker that only participates in identity
//
// # Tags
//
// A TypeLayout may carry a Tag: a small value tree of bools, integers,
// strings, arrays, sets and maps describing properties the shape cannot, such
// as the traits an interface requires. CheckTag compares tags as an interface
// against an implementation, so an expected set or map only needs to be a
// subset of the found one.
//
// # Layout Rules
//
// AlignTo, StructLayout and EnumLayout compute C-like layouts: fields are laid
// out sequentially with padding, an enum is its tag followed by the largest
// payload, and the total size is rounded up to the maximum alignment.
package layout
