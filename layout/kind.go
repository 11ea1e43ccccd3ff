package layout

// Kind identifies a Shape variant.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindStruct
	KindPrefixStruct
	KindEnum
	KindFunc
	KindPhantom
)

var kindNames = [...]string{
	KindPrimitive:    "primitive",
	KindStruct:       "struct",
	KindPrefixStruct: "prefix_struct",
	KindEnum:         "enum",
	KindFunc:         "func",
	KindPhantom:      "phantom",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Repr is the integer representation of an enum discriminant.
type Repr uint8

const (
	ReprU8 Repr = iota
	ReprI8
	ReprU16
	ReprI16
	ReprU32
	ReprI32
	ReprU64
	ReprI64
	ReprUsize
	ReprIsize
)

var reprNames = [...]string{
	ReprU8:    "u8",
	ReprI8:    "i8",
	ReprU16:   "u16",
	ReprI16:   "i16",
	ReprU32:   "u32",
	ReprI32:   "i32",
	ReprU64:   "u64",
	ReprI64:   "i64",
	ReprUsize: "usize",
	ReprIsize: "isize",
}

func (r Repr) String() string {
	if int(r) < len(reprNames) {
		return reprNames[r]
	}
	return "unknown"
}

// ParseRepr returns the Repr named s.
func ParseRepr(s string) (Repr, bool) {
	for i, name := range reprNames {
		if name == s {
			return Repr(i), true
		}
	}
	return 0, false
}

// Size returns the discriminant width in bytes. ptrSize is used for
// usize/isize.
func (r Repr) Size(ptrSize uint32) uint32 {
	switch r {
	case ReprU8, ReprI8:
		return 1
	case ReprU16, ReprI16:
		return 2
	case ReprU32, ReprI32:
		return 4
	case ReprU64, ReprI64:
		return 8
	default:
		return ptrSize
	}
}

// CallConv is a function pointer calling convention.
type CallConv uint8

const (
	CallConvC CallConv = iota
	CallConvSystem
	CallConvCanon
	CallConvGo
)

var callConvNames = [...]string{
	CallConvC:      "c",
	CallConvSystem: "system",
	CallConvCanon:  "canon",
	CallConvGo:     "go",
}

func (c CallConv) String() string {
	if int(c) < len(callConvNames) {
		return callConvNames[c]
	}
	return "unknown"
}

// ParseCallConv returns the CallConv named s.
func ParseCallConv(s string) (CallConv, bool) {
	for i, name := range callConvNames {
		if name == s {
			return CallConv(i), true
		}
	}
	return 0, false
}
