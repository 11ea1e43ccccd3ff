package registry

import (
	"encoding/json"
	"fmt"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/layout"
)

type jsonRegistry struct {
	Types []jsonType `json:"types"`
	Root  uint32     `json:"root"`
}

type jsonType struct {
	Exhaustive   *bool         `json:"exhaustive,omitempty"`
	Tag          *jsonTag      `json:"tag,omitempty"`
	Package      string        `json:"package,omitempty"`
	Name         string        `json:"name"`
	Version      string        `json:"version,omitempty"`
	Kind         string        `json:"kind"`
	Repr         string        `json:"repr,omitempty"`
	CallConv     string        `json:"call_conv,omitempty"`
	Args         []string      `json:"args,omitempty"`
	Params       []uint32      `json:"params,omitempty"`
	Fields       []jsonField   `json:"fields,omitempty"`
	Variants     []jsonVariant `json:"variants,omitempty"`
	FuncParams   []uint32      `json:"func_params,omitempty"`
	Results      []uint32      `json:"results,omitempty"`
	Handle       uint32        `json:"handle"`
	Size         uint32        `json:"size"`
	Align        uint32        `json:"align"`
	FirstSuffix  int           `json:"first_suffix_field,omitempty"`
	StorageSize  uint32        `json:"storage_size,omitempty"`
	StorageAlign uint32        `json:"storage_align,omitempty"`
}

type jsonField struct {
	Name        string `json:"name"`
	Offset      uint32 `json:"offset"`
	Type        uint32 `json:"type"`
	Conditional bool   `json:"conditional,omitempty"`
}

type jsonTag struct {
	Bool    *bool          `json:"bool,omitempty"`
	Int     *int64         `json:"int,omitempty"`
	Uint    *uint64        `json:"uint,omitempty"`
	String  *string        `json:"string,omitempty"`
	Kind    string         `json:"kind"`
	Elems   []jsonTag      `json:"elems,omitempty"`
	Entries []jsonTagEntry `json:"entries,omitempty"`
}

type jsonTagEntry struct {
	Key   jsonTag `json:"key"`
	Value jsonTag `json:"value"`
}

type jsonVariant struct {
	Name         string      `json:"name"`
	Fields       []jsonField `json:"fields,omitempty"`
	Discriminant int64       `json:"discriminant"`
}

// MarshalJSON renders the registry as a node table in handle order.
func (r *Registry) MarshalJSON() ([]byte, error) {
	out := jsonRegistry{Root: uint32(r.root), Types: make([]jsonType, 0, len(r.nodes))}
	for h, n := range r.All() {
		jt := jsonType{
			Handle:  uint32(h),
			Package: n.ID.Package,
			Name:    n.ID.Name,
			Version: n.ID.Version,
			Args:    n.ID.Args,
			Size:    n.Size,
			Align:   n.Align,
			Params:  handlesToJSON(n.Params),
			Kind:    n.Kind().String(),
		}
		if !n.Tag.IsNull() {
			jtag := tagToJSON(n.Tag)
			jt.Tag = &jtag
		}
		switch s := n.Shape.(type) {
		case *layout.Struct:
			jt.Fields = fieldsToJSON(s.Fields)
		case *layout.PrefixStruct:
			jt.Fields = fieldsToJSON(s.Fields)
			jt.FirstSuffix = s.FirstSuffixField
		case *layout.Enum:
			exhaustive := !s.Exhaustiveness.Open
			jt.Exhaustive = &exhaustive
			jt.Repr = s.Repr.String()
			jt.StorageSize = s.Exhaustiveness.StorageSize
			jt.StorageAlign = s.Exhaustiveness.StorageAlign
			for _, v := range s.Variants {
				jt.Variants = append(jt.Variants, jsonVariant{
					Name:         v.Name,
					Discriminant: v.Discriminant,
					Fields:       fieldsToJSON(v.Fields),
				})
			}
		case *layout.Func:
			jt.CallConv = s.CallConv.String()
			jt.FuncParams = handlesToJSON(s.Params)
			jt.Results = handlesToJSON(s.Results)
		}
		out.Types = append(out.Types, jt)
	}
	return json.Marshal(out)
}

// ParseJSON parses the output of MarshalJSON. Handles must be numbered
// 1..n in order.
func ParseJSON(data []byte) (*Registry, error) {
	var in jsonRegistry
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.ParseFailed("layout json", err)
	}

	nodes := make([]layout.TypeLayout, len(in.Types))
	for i, jt := range in.Types {
		if jt.Handle != uint32(i+1) {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(fmt.Sprintf("types[%d]", i)).
				Detail("handle %d, want %d", jt.Handle, i+1).
				Build()
		}
		n, err := typeFromJSON(jt)
		if err != nil {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(fmt.Sprintf("types[%d]", i)).
				Type(jt.Name).
				Cause(err).
				Build()
		}
		nodes[i] = n
	}
	return rebuild(nodes, layout.Handle(in.Root), errors.PhaseDecode)
}

func typeFromJSON(jt jsonType) (layout.TypeLayout, error) {
	n := layout.TypeLayout{
		ID: layout.Identity{
			Package: jt.Package,
			Name:    jt.Name,
			Version: jt.Version,
			Args:    jt.Args,
		},
		Size:   jt.Size,
		Align:  jt.Align,
		Params: handlesFromJSON(jt.Params),
	}
	if jt.Tag != nil {
		tag, err := tagFromJSON(*jt.Tag)
		if err != nil {
			return n, fmt.Errorf("tag: %w", err)
		}
		n.Tag = tag
	}

	switch jt.Kind {
	case "primitive":
		n.Shape = &layout.Primitive{}
	case "phantom":
		n.Shape = &layout.Phantom{}
	case "struct":
		n.Shape = &layout.Struct{Fields: fieldsFromJSON(jt.Fields)}
	case "prefix_struct":
		n.Shape = &layout.PrefixStruct{Fields: fieldsFromJSON(jt.Fields), FirstSuffixField: jt.FirstSuffix}
	case "enum":
		repr, ok := layout.ParseRepr(jt.Repr)
		if !ok {
			return n, fmt.Errorf("unknown repr %q", jt.Repr)
		}
		e := &layout.Enum{Repr: repr, Exhaustiveness: layout.Exhaustive()}
		if jt.Exhaustive != nil && !*jt.Exhaustive {
			e.Exhaustiveness = layout.NonExhaustive(jt.StorageSize, jt.StorageAlign)
		}
		for _, v := range jt.Variants {
			e.Variants = append(e.Variants, layout.Variant{
				Name:         v.Name,
				Discriminant: v.Discriminant,
				Fields:       fieldsFromJSON(v.Fields),
			})
		}
		n.Shape = e
	case "func":
		conv, ok := layout.ParseCallConv(jt.CallConv)
		if !ok {
			return n, fmt.Errorf("unknown calling convention %q", jt.CallConv)
		}
		n.Shape = &layout.Func{
			Params:   handlesFromJSON(jt.FuncParams),
			Results:  handlesFromJSON(jt.Results),
			CallConv: conv,
		}
	default:
		return n, fmt.Errorf("unknown kind %q", jt.Kind)
	}
	return n, nil
}

func fieldsToJSON(fields []layout.Field) []jsonField {
	if len(fields) == 0 {
		return nil
	}
	out := make([]jsonField, len(fields))
	for i, f := range fields {
		out[i] = jsonField{Name: f.Name, Offset: f.Offset, Type: uint32(f.Type), Conditional: f.Conditional}
	}
	return out
}

func fieldsFromJSON(fields []jsonField) []layout.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]layout.Field, len(fields))
	for i, f := range fields {
		out[i] = layout.Field{Name: f.Name, Offset: f.Offset, Type: layout.Handle(f.Type), Conditional: f.Conditional}
	}
	return out
}

func handlesToJSON(hs []layout.Handle) []uint32 {
	if len(hs) == 0 {
		return nil
	}
	out := make([]uint32, len(hs))
	for i, h := range hs {
		out[i] = uint32(h)
	}
	return out
}

func handlesFromJSON(hs []uint32) []layout.Handle {
	if len(hs) == 0 {
		return nil
	}
	out := make([]layout.Handle, len(hs))
	for i, h := range hs {
		out[i] = layout.Handle(h)
	}
	return out
}

func tagToJSON(t layout.Tag) jsonTag {
	jt := jsonTag{Kind: t.Kind.String()}
	switch t.Kind {
	case layout.TagBool:
		jt.Bool = &t.Bool
	case layout.TagInt:
		jt.Int = &t.Int
	case layout.TagUint:
		jt.Uint = &t.Uint
	case layout.TagString:
		jt.String = &t.Str
	case layout.TagIgnored, layout.TagArray, layout.TagSet:
		jt.Elems = make([]jsonTag, len(t.Elems))
		for i, e := range t.Elems {
			jt.Elems[i] = tagToJSON(e)
		}
	case layout.TagMap:
		jt.Entries = make([]jsonTagEntry, len(t.Entries))
		for i, e := range t.Entries {
			jt.Entries[i] = jsonTagEntry{Key: tagToJSON(e.Key), Value: tagToJSON(e.Value)}
		}
	}
	return jt
}

func tagFromJSON(jt jsonTag) (layout.Tag, error) {
	kind, ok := layout.ParseTagKind(jt.Kind)
	if !ok {
		return layout.Tag{}, fmt.Errorf("unknown tag kind %q", jt.Kind)
	}
	t := layout.Tag{Kind: kind}
	switch kind {
	case layout.TagBool:
		if jt.Bool != nil {
			t.Bool = *jt.Bool
		}
	case layout.TagInt:
		if jt.Int != nil {
			t.Int = *jt.Int
		}
	case layout.TagUint:
		if jt.Uint != nil {
			t.Uint = *jt.Uint
		}
	case layout.TagString:
		if jt.String != nil {
			t.Str = *jt.String
		}
	case layout.TagIgnored, layout.TagArray, layout.TagSet:
		t.Elems = make([]layout.Tag, len(jt.Elems))
		for i, e := range jt.Elems {
			elem, err := tagFromJSON(e)
			if err != nil {
				return t, err
			}
			t.Elems[i] = elem
		}
	case layout.TagMap:
		t.Entries = make([]layout.TagEntry, len(jt.Entries))
		for i, e := range jt.Entries {
			key, err := tagFromJSON(e.Key)
			if err != nil {
				return t, err
			}
			value, err := tagFromJSON(e.Value)
			if err != nil {
				return t, err
			}
			t.Entries[i] = layout.TagEntry{Key: key, Value: value}
		}
	}
	return t, nil
}
