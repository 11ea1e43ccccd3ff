package library

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/layoutcheck"
)

// WrapMemory wraps a wazero api.Memory to implement layoutcheck.Memory.
func WrapMemory(mem api.Memory) layoutcheck.Memory {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// Wrapper adapts wazero api.Memory to the layoutcheck.Memory interface.
type Wrapper struct {
	Mem api.Memory
}

// Read returns a copy of length bytes at offset.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return append([]byte(nil), data...), nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

// Size returns the memory size in bytes.
func (m *Wrapper) Size() uint32 {
	return m.Mem.Size()
}
