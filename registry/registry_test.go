package registry

import (
	"bytes"
	"testing"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/layout"
)

// buildList interns a self-referential linked list node plus an enum and a
// function pointer so every shape kind is present.
func buildList(t *testing.T) *Registry {
	t.Helper()
	b := NewBuilder()
	u8 := b.Primitive("u8", 1, 1)
	u32 := b.Primitive("u32", 4, 4)

	status := b.Add(layout.TypeLayout{
		ID:    layout.Identity{Package: "app", Name: "Status", Version: "1.0.0"},
		Size:  8,
		Align: 4,
		Tag: layout.MapTag(
			layout.KV(layout.StringTag("traits"), layout.SetTag(layout.StringTag("Send"), layout.StringTag("Sync"))),
			layout.KV(layout.StringTag("level"), layout.IntTag(-2)),
		),
		Shape: &layout.Enum{
			Repr:           layout.ReprU8,
			Exhaustiveness: layout.NonExhaustive(8, 4),
			Variants: []layout.Variant{
				{Name: "Idle", Discriminant: 0},
				{Name: "Busy", Discriminant: 1, Fields: []layout.Field{{Name: "0", Offset: 4, Type: u32}}},
			},
		},
	})
	marker := b.Add(layout.TypeLayout{
		ID:    layout.Identity{Name: "Marker", Args: []string{"u8"}},
		Align: 1,
		Tag:   layout.ArrayTag(layout.BoolTag(true), layout.UintTag(3), layout.IgnoredTag(layout.StringTag("x"))),
		Shape: &layout.Phantom{},
	})
	cb := b.Add(layout.TypeLayout{
		ID:    layout.Identity{Name: "fn(u32)->u8"},
		Size:  4,
		Align: 4,
		Shape: &layout.Func{Params: []layout.Handle{u32}, Results: []layout.Handle{u8}, CallConv: layout.CallConvC},
	})

	node := b.Intern(layout.Identity{Package: "app", Name: "Node", Version: "1.0.0"},
		func(b *Builder, self layout.Handle) layout.TypeLayout {
			next := b.Pointer(self, 4)
			return layout.TypeLayout{
				Size:  24,
				Align: 4,
				Shape: &layout.PrefixStruct{
					FirstSuffixField: 3,
					Fields: []layout.Field{
						{Name: "value", Offset: 0, Type: u32},
						{Name: "next", Offset: 4, Type: next},
						{Name: "status", Offset: 8, Type: status},
						{Name: "marker", Offset: 16, Type: marker},
						{Name: "cb", Offset: 16, Type: cb, Conditional: true},
					},
				},
			}
		})

	return mustFreeze(t, b, node)
}

func TestInternDeduplicates(t *testing.T) {
	b := NewBuilder()
	calls := 0
	build := func(*Builder, layout.Handle) layout.TypeLayout {
		calls++
		return layout.TypeLayout{Size: 4, Align: 4, Shape: &layout.Primitive{}}
	}

	id := layout.Identity{Package: "app", Name: "Id"}
	h1 := b.Intern(id, build)
	h2 := b.Intern(id, build)
	if h1 != h2 {
		t.Errorf("handles differ: %v vs %v", h1, h2)
	}
	if calls != 1 {
		t.Errorf("build calls: got %d, want 1", calls)
	}

	// Version is not part of the key.
	h3 := b.Intern(layout.Identity{Package: "app", Name: "Id", Version: "2.0.0"}, build)
	if h3 != h1 || calls != 1 {
		t.Errorf("versioned intern: got %v after %d calls", h3, calls)
	}
}

func TestInternSelfReference(t *testing.T) {
	reg := buildList(t)

	root := reg.RootLayout()
	if root.ID.Key() != "app.Node" {
		t.Fatalf("root: got %q", root.ID.Key())
	}
	fields := root.Shape.(*layout.PrefixStruct).Fields
	ptr, ok := reg.Resolve(fields[1].Type)
	if !ok {
		t.Fatal("next pointer does not resolve")
	}
	if len(ptr.Params) != 1 || ptr.Params[0] != reg.Root() {
		t.Errorf("pointer params: got %v, want [%v]", ptr.Params, reg.Root())
	}
	if ptr.ID.Key() != "ptr[app.Node]" {
		t.Errorf("pointer key: got %q", ptr.ID.Key())
	}
	if h, ok := reg.Lookup("ptr[app.Node]"); !ok || h != fields[1].Type {
		t.Errorf("Lookup: got %v, %v", h, ok)
	}
}

func TestInternIdentityOverridesBuild(t *testing.T) {
	b := NewBuilder()
	h := b.Intern(layout.Identity{Name: "Real"}, func(*Builder, layout.Handle) layout.TypeLayout {
		return layout.TypeLayout{ID: layout.Identity{Name: "Other"}, Align: 1, Shape: &layout.Primitive{}}
	})
	reg, err := b.Freeze(h)
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if got := reg.RootLayout().ID.Key(); got != "Real" {
		t.Errorf("identity: got %q, want Real", got)
	}
}

func TestFreezeValidation(t *testing.T) {
	u32 := layout.TypeLayout{ID: layout.Identity{Name: "u32"}, Size: 4, Align: 4, Shape: &layout.Primitive{}}

	tests := []struct {
		name  string
		build func(b *Builder) layout.Handle
		kind  errors.Kind
	}{
		{
			name: "reserved but never built",
			build: func(b *Builder) layout.Handle {
				h, _ := b.Reserve(layout.Identity{Name: "Hole"})
				return h
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "dangling reference",
			build: func(b *Builder) layout.Handle {
				return b.Add(layout.TypeLayout{
					ID: layout.Identity{Name: "S"}, Size: 4, Align: 4,
					Shape: &layout.Struct{Fields: []layout.Field{{Name: "a", Type: 9}}},
				})
			},
			kind: errors.KindInvalidHandle,
		},
		{
			name: "invalid root",
			build: func(b *Builder) layout.Handle {
				b.Add(u32)
				return 5
			},
			kind: errors.KindInvalidHandle,
		},
		{
			name: "conditional in plain struct",
			build: func(b *Builder) layout.Handle {
				f := b.Add(u32)
				return b.Add(layout.TypeLayout{
					ID: layout.Identity{Name: "S"}, Size: 4, Align: 4,
					Shape: &layout.Struct{Fields: []layout.Field{{Name: "a", Type: f, Conditional: true}}},
				})
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "conditional inside prefix",
			build: func(b *Builder) layout.Handle {
				f := b.Add(u32)
				return b.Add(layout.TypeLayout{
					ID: layout.Identity{Name: "P"}, Size: 8, Align: 4,
					Shape: &layout.PrefixStruct{FirstSuffixField: 1, Fields: []layout.Field{
						{Name: "a", Type: f, Conditional: true},
						{Name: "b", Offset: 4, Type: f},
					}},
				})
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "prefix boundary out of range",
			build: func(b *Builder) layout.Handle {
				f := b.Add(u32)
				return b.Add(layout.TypeLayout{
					ID: layout.Identity{Name: "P"}, Size: 4, Align: 4,
					Shape: &layout.PrefixStruct{FirstSuffixField: 2, Fields: []layout.Field{{Name: "a", Type: f}}},
				})
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "field past size",
			build: func(b *Builder) layout.Handle {
				f := b.Add(u32)
				return b.Add(layout.TypeLayout{
					ID: layout.Identity{Name: "S"}, Size: 4, Align: 4,
					Shape: &layout.Struct{Fields: []layout.Field{{Name: "a", Offset: 2, Type: f}}},
				})
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "field offset wraps",
			build: func(b *Builder) layout.Handle {
				f := b.Add(u32)
				return b.Add(layout.TypeLayout{
					ID: layout.Identity{Name: "S"}, Size: 4, Align: 4,
					Shape: &layout.Struct{Fields: []layout.Field{{Name: "a", Offset: 0xffff_fffe, Type: f}}},
				})
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "bad alignment",
			build: func(b *Builder) layout.Handle {
				return b.Add(layout.TypeLayout{ID: layout.Identity{Name: "odd"}, Size: 3, Align: 3, Shape: &layout.Primitive{}})
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "duplicate variant",
			build: func(b *Builder) layout.Handle {
				return b.Add(layout.TypeLayout{
					ID: layout.Identity{Name: "E"}, Size: 1, Align: 1,
					Shape: &layout.Enum{Variants: []layout.Variant{{Name: "A"}, {Name: "A", Discriminant: 1}}},
				})
			},
			kind: errors.KindInvalidData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			root := tt.build(b)
			_, err := b.Freeze(root)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, &errors.Error{Phase: errors.PhaseIntern, Kind: tt.kind}) {
				t.Errorf("got %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestBuilderFrozen(t *testing.T) {
	b := NewBuilder()
	h := b.Primitive("u8", 1, 1)
	if _, err := b.Freeze(h); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	if got := b.Primitive("u16", 2, 2); got != 0 {
		t.Errorf("intern after freeze: got %v, want invalid handle", got)
	}
	frozen := &errors.Error{Phase: errors.PhaseIntern, Kind: errors.KindFrozen}
	if !errors.Is(b.Err(), frozen) {
		t.Errorf("Err: got %v, want frozen", b.Err())
	}
	if _, err := b.Freeze(h); !errors.Is(err, frozen) {
		t.Errorf("second Freeze: got %v, want frozen", err)
	}
}

func TestBuilderStickyError(t *testing.T) {
	b := NewBuilder()
	first := errors.InvalidInput(errors.PhaseIntern, "first")
	b.Fail(first)
	b.Fail(errors.InvalidInput(errors.PhaseIntern, "second"))

	h := b.Primitive("u8", 1, 1)
	if _, err := b.Freeze(h); err != first {
		t.Errorf("Freeze: got %v, want first error", err)
	}
}

func TestRegistryAll(t *testing.T) {
	reg := buildList(t)
	count := 0
	for h, n := range reg.All() {
		count++
		if got, _ := reg.Resolve(h); got != n {
			t.Errorf("All yielded %v that does not resolve to itself", h)
		}
	}
	if count != reg.Len() {
		t.Errorf("All: got %d nodes, want %d", count, reg.Len())
	}
	if _, ok := reg.Resolve(0); ok {
		t.Error("handle 0 should not resolve")
	}
	if reg.Name(layout.Handle(999)) != "#999" {
		t.Errorf("Name of unknown handle: got %q", reg.Name(999))
	}
}

func TestEncodeDecode(t *testing.T) {
	reg := buildList(t)
	data := Encode(reg)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Len() != reg.Len() || decoded.Root() != reg.Root() {
		t.Fatalf("decoded: len=%d root=%v, want len=%d root=%v",
			decoded.Len(), decoded.Root(), reg.Len(), reg.Root())
	}
	for h := range reg.All() {
		if got, want := decoded.Format(h), reg.Format(h); got != want {
			t.Errorf("node %v:\n got  %s\n want %s", h, got, want)
		}
	}
	if !bytes.Equal(Encode(decoded), data) {
		t.Error("re-encoding is not stable")
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := Encode(buildList(t))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), valid[4:]...)},
		{"truncated", valid[:len(valid)/2]},
		{"trailing bytes", append(append([]byte(nil), valid...), 0x00)},
		{"huge count", []byte{'L', 'Y', 'T', '1', 0x01, 0xff, 0xff, 0x03}},
		{"duplicate identity", duplicateTable()},
		{"tag too deep", deepTagTable()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData}) {
				t.Errorf("got %v, want invalid data", err)
			}
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	reg := buildList(t)
	data, err := reg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	parsed, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if !bytes.Equal(Encode(parsed), Encode(reg)) {
		t.Error("JSON form does not preserve the registry")
	}
}

func TestParseJSONErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", `{"root":`},
		{"handle order", `{"root":1,"types":[{"handle":2,"name":"u8","kind":"primitive","size":1,"align":1}]}`},
		{"unknown kind", `{"root":1,"types":[{"handle":1,"name":"u8","kind":"blob","size":1,"align":1}]}`},
		{"unknown repr", `{"root":1,"types":[{"handle":1,"name":"E","kind":"enum","repr":"u128","size":1,"align":1}]}`},
		{"unknown call conv", `{"root":1,"types":[{"handle":1,"name":"F","kind":"func","call_conv":"fastcall","size":4,"align":4}]}`},
		{"unknown tag kind", `{"root":1,"types":[{"handle":1,"name":"u8","kind":"primitive","size":1,"align":1,"tag":{"kind":"float"}}]}`},
		{"bad root", `{"root":3,"types":[{"handle":1,"name":"u8","kind":"primitive","size":1,"align":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJSON([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func mustFreeze(t *testing.T, b *Builder, root layout.Handle) *Registry {
	t.Helper()
	reg, err := b.Freeze(root)
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return reg
}

// duplicateTable hand-encodes a two-node table where both nodes are "u8".
func duplicateTable() []byte {
	b := NewBuilder()
	b.Primitive("u8", 1, 1)
	reg, _ := b.Freeze(1)
	one := Encode(reg)
	node := one[len(Magic)+2:] // skip magic, root and count

	out := append([]byte(nil), Magic...)
	out = append(out, 0x01, 0x02)
	out = append(out, node...)
	out = append(out, node...)
	return out
}

// deepTagTable encodes a primitive whose tag nests past what Decode accepts.
func deepTagTable() []byte {
	tag := layout.IntTag(1)
	for range maxTagDepth + 1 {
		tag = layout.ArrayTag(tag)
	}
	b := NewBuilder()
	h := b.Add(layout.TypeLayout{ID: layout.Identity{Name: "u8"}, Size: 1, Align: 1, Shape: &layout.Primitive{}, Tag: tag})
	reg, _ := b.Freeze(h)
	return Encode(reg)
}

func TestTagRoundTrip(t *testing.T) {
	reg := buildList(t)
	h, ok := reg.Lookup("app.Status")
	if !ok {
		t.Fatal("app.Status not interned")
	}
	want, _ := reg.Resolve(h)

	decoded, err := Decode(Encode(reg))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, _ := decoded.Resolve(h)
	if layout.CompareTags(got.Tag, want.Tag) != 0 {
		t.Errorf("binary tag: got %s, want %s", got.Tag, want.Tag)
	}

	data, err := reg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	parsed, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	got, _ = parsed.Resolve(h)
	if layout.CompareTags(got.Tag, want.Tag) != 0 {
		t.Errorf("json tag: got %s, want %s", got.Tag, want.Tag)
	}
}
