package layoutcheck

// Memory is read-only access to a loaded library's data.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	ReadU32(offset uint32) (uint32, error)
}

// MemorySizer provides the current size of a library's memory in bytes.
type MemorySizer interface {
	Size() uint32
}
