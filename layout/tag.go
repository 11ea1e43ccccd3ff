package layout

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TagKind is the kind of a Tag value.
type TagKind uint8

const (
	TagNull TagKind = iota
	TagBool
	TagInt
	TagUint
	TagString
	TagIgnored
	TagArray
	TagSet
	TagMap
)

var tagKindNames = [...]string{
	TagNull:    "null",
	TagBool:    "bool",
	TagInt:     "int",
	TagUint:    "uint",
	TagString:  "string",
	TagIgnored: "ignored",
	TagArray:   "array",
	TagSet:     "set",
	TagMap:     "map",
}

func (k TagKind) String() string {
	if int(k) < len(tagKindNames) {
		return tagKindNames[k]
	}
	return "unknown"
}

// ParseTagKind parses a TagKind name.
func ParseTagKind(s string) (TagKind, bool) {
	for i, name := range tagKindNames {
		if name == s {
			return TagKind(i), true
		}
	}
	return 0, false
}

// Tag carries extra properties of a type that take part in compatibility
// checks, for example the set of traits an interface requires. The zero
// value is the null tag.
//
// Tags are not compared for equality. A found tag satisfies an expected one
// when:
//
//   - the expected tag is null
//   - bools, integers and strings are equal
//   - the expected tag is ignored and the found one is too
//   - arrays have the same length and every element satisfies its pair
//   - every expected set value or map entry is satisfied by a distinct
//     found one, so found may carry more
//
// Null elements are stripped from arrays, sets and maps before comparing.
type Tag struct {
	Str string
	// Elems holds the wrapped tag of an ignored tag and the elements of
	// arrays and sets.
	Elems   []Tag
	Entries []TagEntry
	Int     int64
	Uint    uint64
	Kind    TagKind
	Bool    bool
}

// TagEntry is a map entry.
type TagEntry struct {
	Key   Tag
	Value Tag
}

// NullTag returns the tag compatible with every other tag.
func NullTag() Tag { return Tag{} }

// BoolTag returns a bool tag.
func BoolTag(b bool) Tag { return Tag{Kind: TagBool, Bool: b} }

// IntTag returns a signed integer tag.
func IntTag(n int64) Tag { return Tag{Kind: TagInt, Int: n} }

// UintTag returns an unsigned integer tag.
func UintTag(n uint64) Tag { return Tag{Kind: TagUint, Uint: n} }

// StringTag returns a string tag.
func StringTag(s string) Tag { return Tag{Kind: TagString, Str: s} }

// IgnoredTag wraps t so that its value is never checked, only its presence.
func IgnoredTag(t Tag) Tag { return Tag{Kind: TagIgnored, Elems: []Tag{t}} }

// ArrayTag returns an ordered tag list.
func ArrayTag(elems ...Tag) Tag { return Tag{Kind: TagArray, Elems: elems} }

// SetTag returns an unordered tag set.
func SetTag(elems ...Tag) Tag { return Tag{Kind: TagSet, Elems: elems} }

// MapTag returns a tag map. A later entry replaces an earlier one with an
// equal key.
func MapTag(entries ...TagEntry) Tag { return Tag{Kind: TagMap, Entries: entries} }

// KV returns a map entry.
func KV(key, value Tag) TagEntry { return TagEntry{Key: key, Value: value} }

// IsNull reports whether t is the null tag.
func (t Tag) IsNull() bool {
	return t.Kind == TagNull
}

// Canonical strips null elements, and sorts and deduplicates sets and maps.
func (t Tag) Canonical() Tag {
	switch t.Kind {
	case TagIgnored, TagArray, TagSet:
		elems := make([]Tag, 0, len(t.Elems))
		for _, e := range t.Elems {
			if t.Kind != TagIgnored && e.IsNull() {
				continue
			}
			elems = append(elems, e.Canonical())
		}
		if t.Kind == TagSet {
			slices.SortFunc(elems, CompareTags)
			elems = slices.CompactFunc(elems, func(a, b Tag) bool { return CompareTags(a, b) == 0 })
		}
		return Tag{Kind: t.Kind, Elems: elems}
	case TagMap:
		entries := make([]TagEntry, 0, len(t.Entries))
		for _, e := range t.Entries {
			if e.Key.IsNull() {
				continue
			}
			entries = append(entries, TagEntry{Key: e.Key.Canonical(), Value: e.Value.Canonical()})
		}
		slices.SortStableFunc(entries, func(a, b TagEntry) int { return CompareTags(a.Key, b.Key) })
		out := entries[:0]
		for _, e := range entries {
			if n := len(out); n > 0 && CompareTags(out[n-1].Key, e.Key) == 0 {
				out[n-1] = e
				continue
			}
			out = append(out, e)
		}
		return Tag{Kind: TagMap, Entries: out}
	}
	return t
}

// CompareTags orders tags by kind, then by value.
func CompareTags(a, b Tag) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	switch a.Kind {
	case TagBool:
		switch {
		case a.Bool == b.Bool:
			return 0
		case !a.Bool:
			return -1
		default:
			return 1
		}
	case TagInt:
		return cmp.Compare(a.Int, b.Int)
	case TagUint:
		return cmp.Compare(a.Uint, b.Uint)
	case TagString:
		return strings.Compare(a.Str, b.Str)
	case TagIgnored, TagArray, TagSet:
		return slices.CompareFunc(a.Elems, b.Elems, CompareTags)
	case TagMap:
		return slices.CompareFunc(a.Entries, b.Entries, func(x, y TagEntry) int {
			if c := CompareTags(x.Key, y.Key); c != 0 {
				return c
			}
			return CompareTags(x.Value, y.Value)
		})
	}
	return 0
}

// TagError explains why a found tag does not satisfy an expected one.
type TagError struct {
	// Path locates the failing element inside the tag, e.g. "[1]" or "{k}".
	Path   []string
	Reason string
}

func (e *TagError) Error() string {
	if len(e.Path) == 0 {
		return e.Reason
	}
	return strings.Join(e.Path, "") + ": " + e.Reason
}

func (e *TagError) within(seg string) *TagError {
	e.Path = append([]string{seg}, e.Path...)
	return e
}

// CheckTag reports whether found satisfies expected. It returns nil or a
// *TagError.
func CheckTag(expected, found Tag) error {
	if err := checkTag(expected.Canonical(), found.Canonical()); err != nil {
		return err
	}
	return nil
}

func checkTag(e, f Tag) *TagError {
	if e.IsNull() {
		return nil
	}
	if e.Kind != f.Kind {
		return &TagError{Reason: fmt.Sprintf("expected %s, found %s", e.Kind, f.Kind)}
	}

	switch e.Kind {
	case TagBool, TagInt, TagUint, TagString:
		if CompareTags(e, f) != 0 {
			return &TagError{Reason: fmt.Sprintf("expected %s, found %s", e, f)}
		}
	case TagArray:
		if len(e.Elems) != len(f.Elems) {
			return &TagError{Reason: fmt.Sprintf("array length %d, found %d", len(e.Elems), len(f.Elems))}
		}
		for i := range e.Elems {
			if err := checkTag(e.Elems[i], f.Elems[i]); err != nil {
				return err.within(fmt.Sprintf("[%d]", i))
			}
		}
	case TagSet:
		if len(e.Elems) > len(f.Elems) {
			return &TagError{Reason: fmt.Sprintf("set of %d values, found %d", len(e.Elems), len(f.Elems))}
		}
		used := make([]bool, len(f.Elems))
		for _, ee := range e.Elems {
			if !claim(used, len(f.Elems), func(j int) bool { return checkTag(ee, f.Elems[j]) == nil }) {
				return &TagError{Reason: fmt.Sprintf("missing set value %s", ee)}
			}
		}
	case TagMap:
		if len(e.Entries) > len(f.Entries) {
			return &TagError{Reason: fmt.Sprintf("map of %d entries, found %d", len(e.Entries), len(f.Entries))}
		}
		used := make([]bool, len(f.Entries))
		for _, ee := range e.Entries {
			ok := claim(used, len(f.Entries), func(j int) bool {
				fe := f.Entries[j]
				return checkTag(ee.Key, fe.Key) == nil && checkTag(ee.Value, fe.Value) == nil
			})
			if !ok {
				return &TagError{Reason: fmt.Sprintf("missing map entry %s", entryString(ee))}
			}
		}
	}
	return nil
}

// claim marks and reports the first unused index in [0, n) that matches.
func claim(used []bool, n int, match func(int) bool) bool {
	for j := range n {
		if !used[j] && match(j) {
			used[j] = true
			return true
		}
	}
	return false
}

func (t Tag) String() string {
	switch t.Kind {
	case TagNull:
		return "null"
	case TagBool:
		return strconv.FormatBool(t.Bool)
	case TagInt:
		return strconv.FormatInt(t.Int, 10)
	case TagUint:
		return strconv.FormatUint(t.Uint, 10) + "u"
	case TagString:
		return strconv.Quote(t.Str)
	case TagIgnored:
		if len(t.Elems) == 0 {
			return "ignored(null)"
		}
		return "ignored(" + t.Elems[0].String() + ")"
	case TagArray:
		return "[" + joinTags(t.Elems) + "]"
	case TagSet:
		return "{" + joinTags(t.Elems) + "}"
	case TagMap:
		if len(t.Entries) == 0 {
			return "{=>}"
		}
		parts := make([]string, len(t.Entries))
		for i, e := range t.Entries {
			parts[i] = entryString(e)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "unknown"
}

func joinTags(ts []Tag) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func entryString(e TagEntry) string {
	if e.Value.IsNull() {
		return e.Key.String()
	}
	return e.Key.String() + "=>" + e.Value.String()
}
