// Package witlayout derives layouts from WIT types.
//
// Sizes, alignments and offsets follow the component model canonical ABI on
// wasm32: strings and lists are (ptr, len) pairs, variants carry the
// smallest tag that fits their case count, resources are i32 handles.
//
// Named type definitions get a nominal identity in the mapper's package;
// anonymous ones (list, option, result, tuple) are identified structurally
// by their element types, so two libraries using list<u32> agree on it.
package witlayout
