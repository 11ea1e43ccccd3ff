// Package header defines the root-module header a library exports.
//
// A library exports a single symbol, Symbol, whose bytes are an encoded
// Header: a fixed 32-byte magic, the header ABI version, the root module's
// constants and its encoded layout. The magic and ABI version are checked
// before anything else is read, so a library speaking another header
// protocol is rejected without interpreting the rest.
package header

import (
	"bytes"
	"fmt"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/internal/binary"
	"github.com/wippyai/layoutcheck/registry"
)

// Symbol is the name of the exported header symbol.
const Symbol = "layoutcheck_root_module"

// MagicSize is the length of the magic prefix.
const MagicSize = 32

// Magic identifies a layoutcheck header.
var Magic = func() [MagicSize]byte {
	var m [MagicSize]byte
	copy(m[:], "layoutcheck root module header")
	return m
}()

// Current is the header ABI this package reads and writes.
var Current = ABI{Magic: Magic, Major: 0, Minor: 1}

// ABI versions the header encoding itself.
type ABI struct {
	Magic [MagicSize]byte
	Major uint32
	Minor uint32
}

// Compatible reports whether a header written under other can be read under
// a. Magic and major must match; for major 0 the minor must match too.
func (a ABI) Compatible(other ABI) bool {
	return a.Magic == other.Magic &&
		a.Major == other.Major &&
		(a.Major != 0 || a.Minor == other.Minor)
}

func (a ABI) String() string {
	if a.Magic != Magic {
		return fmt.Sprintf("foreign(%q) %d.%d", bytes.TrimRight(a.Magic[:], "\x00"), a.Major, a.Minor)
	}
	return fmt.Sprintf("%d.%d", a.Major, a.Minor)
}

// Header describes the root module a library exports.
type Header struct {
	// BaseName names the library file without platform prefix or extension.
	BaseName string
	// Name is the root module's nominal name.
	Name    string
	Version string
	// Layout is the encoded layout registry. Empty means unchecked.
	Layout []byte
	ABI    ABI
}

// New returns a Header for the current ABI carrying reg's encoding. A nil
// reg produces an unchecked header.
func New(baseName, name, version string, reg *registry.Registry) Header {
	h := Header{ABI: Current, BaseName: baseName, Name: name, Version: version}
	if reg != nil {
		h.Layout = registry.Encode(reg)
	}
	return h
}

// Unchecked reports whether the header carries no layout.
func (h Header) Unchecked() bool {
	return len(h.Layout) == 0
}

// Registry decodes the carried layout.
func (h Header) Registry() (*registry.Registry, error) {
	if h.Unchecked() {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Type(h.Name).
			Detail("header carries no layout").
			Build()
	}
	return registry.Decode(h.Layout)
}

// Encode serializes h.
func Encode(h Header) []byte {
	w := binary.NewWriter()
	w.WriteBytes(h.ABI.Magic[:])
	w.WriteU32(h.ABI.Major)
	w.WriteU32(h.ABI.Minor)
	w.WriteName(h.BaseName)
	w.WriteName(h.Name)
	w.WriteName(h.Version)
	w.WriteBlob(h.Layout)
	return w.Bytes()
}

// DecodeABI reads only the magic and ABI version.
func DecodeABI(data []byte) (ABI, error) {
	return decodeABI(binary.NewReader(data))
}

func decodeABI(r *binary.Reader) (ABI, error) {
	var a ABI
	magic, err := r.ReadBytes(MagicSize)
	if err != nil {
		return a, errors.ParseFailed("header magic", err)
	}
	copy(a.Magic[:], magic)
	if a.Major, err = r.ReadU32(); err != nil {
		return a, errors.ParseFailed("header abi major", err)
	}
	if a.Minor, err = r.ReadU32(); err != nil {
		return a, errors.ParseFailed("header abi minor", err)
	}
	return a, nil
}

// Decode parses a header. It fails if the ABI is not compatible with
// Current; the returned Header then carries only the ABI.
func Decode(data []byte) (Header, error) {
	r := binary.NewReader(data)
	a, err := decodeABI(r)
	if err != nil {
		return Header{}, err
	}
	h := Header{ABI: a}
	if !Current.Compatible(a) {
		return h, errors.New(errors.PhaseDecode, errors.KindInvalidHeader).
			Detail("header abi %s is not compatible with %s", a, Current).
			Build()
	}

	if h.BaseName, err = r.ReadName(); err != nil {
		return h, errors.ParseFailed("header base name", err)
	}
	if h.Name, err = r.ReadName(); err != nil {
		return h, errors.ParseFailed("header name", err)
	}
	if h.Version, err = r.ReadName(); err != nil {
		return h, errors.ParseFailed("header version", err)
	}
	layout, err := r.ReadBlob()
	if err != nil {
		return h, errors.ParseFailed("header layout", err)
	}
	if len(layout) > 0 {
		h.Layout = append([]byte(nil), layout...)
	}
	if r.Remaining() != 0 {
		return h, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("%d trailing bytes after header", r.Remaining()).
			Build()
	}
	return h, nil
}
