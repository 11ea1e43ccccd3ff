package layout

import "strings"

// Identity names a type independently of the binary it was compiled into.
type Identity struct {
	// Package is the fully-qualified declaring package.
	Package string
	Name    string
	// Version of the declaring package. Not part of nominal identity.
	Version string
	// Args are the rendered keys of generic arguments.
	Args []string
}

// Key renders the nominal identity, used as the interning key.
func (id Identity) Key() string {
	var b strings.Builder
	if id.Package != "" {
		b.WriteString(id.Package)
		b.WriteByte('.')
	}
	b.WriteString(id.Name)
	if len(id.Args) > 0 {
		b.WriteByte('[')
		b.WriteString(strings.Join(id.Args, ","))
		b.WriteByte(']')
	}
	return b.String()
}

func (id Identity) String() string {
	if id.Version == "" {
		return id.Key()
	}
	return id.Key() + "@" + id.Version
}

// SameNominal reports whether a and b denote the same nominal type.
func SameNominal(a, b Identity) bool {
	if a.Package != b.Package || a.Name != b.Name || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}

// Generic returns a copy of id instantiated with the keys of args.
func (id Identity) Generic(args ...Identity) Identity {
	out := id
	out.Args = make([]string, len(args))
	for i, a := range args {
		out.Args[i] = a.Key()
	}
	return out
}
