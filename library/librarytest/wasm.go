// Package librarytest provides library fixtures for tests: hand-assembled
// WASM modules exporting symbols, and an in-memory Opener.
package librarytest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/layoutcheck/header"
	"github.com/wippyai/layoutcheck/internal/binary"
)

// Symbol is one exported byte blob.
type Symbol struct {
	Name string
	Data []byte
}

const (
	sectionMemory = 5
	sectionGlobal = 6
	sectionExport = 7
	sectionData   = 11

	exportMemory = 0x02
	exportGlobal = 0x03

	opI32Const = 0x41
	opEnd      = 0x0b
	typeI32    = 0x7f
	typeI64    = 0x7e

	pageSize = 65536
	// dataBase leaves address 0 unused so a zero descriptor is never valid.
	dataBase = 16
)

// Module assembles a WASM module that exports memory and one i32 global per
// symbol. Each global holds the address of a (ptr, len) descriptor.
func Module(symbols ...Symbol) []byte {
	return assemble(symbols, true, nil)
}

// ModuleWithoutMemory is like Module but does not export its memory.
func ModuleWithoutMemory(symbols ...Symbol) []byte {
	return assemble(symbols, false, nil)
}

// ModuleWithI64Global exports name as an i64 global in addition to symbols.
func ModuleWithI64Global(name string, symbols ...Symbol) []byte {
	return assemble(symbols, true, []string{name})
}

// HeaderModule assembles a module exporting h under header.Symbol.
func HeaderModule(h header.Header) []byte {
	return Module(Symbol{Name: header.Symbol, Data: header.Encode(h)})
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

type segment struct {
	data   []byte
	offset uint32
}

func assemble(symbols []Symbol, exportMem bool, i64Globals []string) []byte {
	var segments []segment
	descriptors := make([]uint32, len(symbols))
	next := uint32(dataBase)
	for i, s := range symbols {
		payload := next + 8
		desc := binary.NewWriter()
		desc.WriteU32LE(payload)
		desc.WriteU32LE(uint32(len(s.Data)))
		descriptors[i] = next
		segments = append(segments,
			segment{offset: next, data: desc.Bytes()},
			segment{offset: payload, data: s.Data},
		)
		next = payload + uint32(len(s.Data))
		next = (next + 7) &^ 7
	}
	pages := (next + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}

	w := binary.NewWriter()
	w.WriteBytes([]byte{0x00, 0x61, 0x73, 0x6d}) // magic
	w.WriteBytes([]byte{0x01, 0x00, 0x00, 0x00}) // version

	mem := binary.NewWriter()
	mem.WriteU32(1)
	mem.Byte(0x00) // limits: min only
	mem.WriteU32(pages)
	writeSection(w, sectionMemory, mem)

	globals := binary.NewWriter()
	globals.WriteU32(uint32(len(symbols) + len(i64Globals)))
	for _, d := range descriptors {
		globals.Byte(typeI32)
		globals.Byte(0x00) // immutable
		globals.Byte(opI32Const)
		globals.WriteS64(int64(int32(d)))
		globals.Byte(opEnd)
	}
	for range i64Globals {
		globals.Byte(typeI64)
		globals.Byte(0x00)
		globals.Byte(0x42) // i64.const
		globals.WriteS64(dataBase)
		globals.Byte(opEnd)
	}
	writeSection(w, sectionGlobal, globals)

	exports := binary.NewWriter()
	count := len(symbols) + len(i64Globals)
	if exportMem {
		count++
	}
	exports.WriteU32(uint32(count))
	if exportMem {
		exports.WriteName("memory")
		exports.Byte(exportMemory)
		exports.WriteU32(0)
	}
	for i, s := range symbols {
		exports.WriteName(s.Name)
		exports.Byte(exportGlobal)
		exports.WriteU32(uint32(i))
	}
	for i, name := range i64Globals {
		exports.WriteName(name)
		exports.Byte(exportGlobal)
		exports.WriteU32(uint32(len(symbols) + i))
	}
	writeSection(w, sectionExport, exports)

	data := binary.NewWriter()
	data.WriteU32(uint32(len(segments)))
	for _, seg := range segments {
		data.Byte(0x00) // active, memory 0
		data.Byte(opI32Const)
		data.WriteS64(int64(int32(seg.offset)))
		data.Byte(opEnd)
		data.WriteBlob(seg.data)
	}
	writeSection(w, sectionData, data)

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, content *binary.Writer) {
	w.Byte(id)
	w.WriteU32(uint32(content.Len()))
	w.WriteBytes(content.Bytes())
}
