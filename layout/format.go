package layout

import (
	"fmt"
	"strings"
)

// Format renders a single node without descending into referenced layouts.
// name renders a referenced handle; if nil, handles are rendered as #n.
func Format(t *TypeLayout, name func(Handle) string) string {
	if name == nil {
		name = Handle.String
	}

	var b strings.Builder
	b.WriteString(t.Kind().String())
	b.WriteByte(' ')
	b.WriteString(t.ID.String())
	fmt.Fprintf(&b, " size=%d align=%d", t.Size, t.Align)

	if len(t.Params) > 0 {
		b.WriteString(" <")
		writeHandles(&b, t.Params, name)
		b.WriteByte('>')
	}
	if !t.Tag.IsNull() {
		b.WriteString(" tag=")
		b.WriteString(t.Tag.String())
	}

	switch s := t.Shape.(type) {
	case *Struct:
		b.WriteByte(' ')
		writeFields(&b, s.Fields, name)
	case *PrefixStruct:
		fmt.Fprintf(&b, " prefix=%d ", s.FirstSuffixField)
		writeFields(&b, s.Fields, name)
	case *Enum:
		fmt.Fprintf(&b, " repr=%s %s {", s.Repr, s.Exhaustiveness)
		for i, v := range s.Variants {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%d", v.Name, v.Discriminant)
			if len(v.Fields) > 0 {
				writeFields(&b, v.Fields, name)
			}
		}
		b.WriteByte('}')
	case *Func:
		fmt.Fprintf(&b, " %s (", s.CallConv)
		writeHandles(&b, s.Params, name)
		b.WriteString(") -> (")
		writeHandles(&b, s.Results, name)
		b.WriteByte(')')
	}
	return b.String()
}

func writeFields(b *strings.Builder, fields []Field, name func(Handle) string) {
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s@%d: %s", f.Name, f.Offset, name(f.Type))
		if f.Conditional {
			b.WriteByte('?')
		}
	}
	b.WriteByte('}')
}

func writeHandles(b *strings.Builder, hs []Handle, name func(Handle) string) {
	for i, h := range hs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name(h))
	}
}
