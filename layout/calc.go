package layout

// Info is the size and alignment of a value.
type Info struct {
	Size  uint32
	Align uint32
}

// AlignTo rounds offset up to a multiple of align.
func AlignTo(offset, align uint32) uint32 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// StructLayout lays members out sequentially and returns their offsets and
// the padded struct size and alignment.
func StructLayout(members []Info) ([]uint32, Info) {
	offsets := make([]uint32, len(members))
	maxAlign := uint32(1)
	offset := uint32(0)

	for i, m := range members {
		offset = AlignTo(offset, m.Align)
		offsets[i] = offset
		if m.Align > maxAlign {
			maxAlign = m.Align
		}
		offset += m.Size
	}

	return offsets, Info{Size: AlignTo(offset, maxAlign), Align: maxAlign}
}

// DiscriminantSize returns the smallest tag width for n cases.
func DiscriminantSize(n int) uint32 {
	switch {
	case n <= 1<<8:
		return 1
	case n <= 1<<16:
		return 2
	default:
		return 4
	}
}

// DiscriminantRepr returns the unsigned Repr matching DiscriminantSize(n).
func DiscriminantRepr(n int) Repr {
	switch DiscriminantSize(n) {
	case 1:
		return ReprU8
	case 2:
		return ReprU16
	default:
		return ReprU32
	}
}

// EnumLayout returns the payload offset and total layout of an enum with the
// given tag and variant payloads.
func EnumLayout(tag Info, payloads []Info) (uint32, Info) {
	maxAlign := tag.Align
	if maxAlign == 0 {
		maxAlign = 1
	}
	maxSize := uint32(0)
	for _, p := range payloads {
		if p.Align > maxAlign {
			maxAlign = p.Align
		}
		if p.Size > maxSize {
			maxSize = p.Size
		}
	}

	payloadOffset := AlignTo(tag.Size, maxAlign)
	return payloadOffset, Info{
		Size:  AlignTo(payloadOffset+maxSize, maxAlign),
		Align: maxAlign,
	}
}

// FieldsEnd returns the end offset of the furthest field, using size to look
// up the size of each field's type. It is computed in 64 bits so that an
// offset near the top of the uint32 range cannot wrap.
func FieldsEnd(fields []Field, size func(Handle) uint32) uint64 {
	end := uint64(0)
	for _, f := range fields {
		if e := uint64(f.Offset) + uint64(size(f.Type)); e > end {
			end = e
		}
	}
	return end
}
