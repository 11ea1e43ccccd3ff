package layout

import (
	"strings"
	"testing"
)

func TestCheckTagRules(t *testing.T) {
	str := StringTag
	tests := []struct {
		name            string
		expected, found Tag
		wantErr         string
	}{
		{"null accepts anything", NullTag(), MapTag(KV(str("a"), IntTag(1))), ""},
		{"bool equal", BoolTag(true), BoolTag(true), ""},
		{"bool differs", BoolTag(true), BoolTag(false), "expected true, found false"},
		{"int differs", IntTag(-1), IntTag(1), "expected -1, found 1"},
		{"uint equal", UintTag(7), UintTag(7), ""},
		{"string differs", str("a"), str("b"), `expected "a", found "b"`},
		{"kind differs", IntTag(1), UintTag(1), "expected int, found uint"},
		{"found null", str("a"), NullTag(), "expected string, found null"},
		{"ignored accepts any value", IgnoredTag(IntTag(1)), IgnoredTag(IntTag(2)), ""},
		{"ignored needs ignored", IgnoredTag(IntTag(1)), IntTag(1), "expected ignored, found int"},
		{"array equal", ArrayTag(IntTag(1), str("x")), ArrayTag(IntTag(1), str("x")), ""},
		{"array nulls stripped", ArrayTag(IntTag(1), NullTag()), ArrayTag(IntTag(1)), ""},
		{"array length", ArrayTag(IntTag(1)), ArrayTag(IntTag(1), IntTag(2)), "array length 1, found 2"},
		{"array element", ArrayTag(IntTag(1), IntTag(2)), ArrayTag(IntTag(1), IntTag(3)), "[1]: expected 2, found 3"},
		{"set subset", SetTag(str("Send")), SetTag(str("Sync"), str("Send")), ""},
		{"set duplicates collapse", SetTag(str("a"), str("a")), SetTag(str("a")), ""},
		{"set missing value", SetTag(str("Send"), str("Debug")), SetTag(str("Send"), str("Sync")), `missing set value "Debug"`},
		{"set larger than found", SetTag(str("a"), str("b")), SetTag(str("a")), "set of 2 values, found 1"},
		{"map subset", MapTag(KV(str("k"), IntTag(1))), MapTag(KV(str("j"), IntTag(0)), KV(str("k"), IntTag(1))), ""},
		{"map value differs", MapTag(KV(str("k"), IntTag(1))), MapTag(KV(str("k"), IntTag(2))), `missing map entry "k"=>1`},
		{"map later entry wins", MapTag(KV(str("k"), IntTag(1)), KV(str("k"), IntTag(2))), MapTag(KV(str("k"), IntTag(2))), ""},
		{"nested", ArrayTag(SetTag(str("a"))), ArrayTag(SetTag(str("b"))), `[0]: missing set value "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTag(tt.expected, tt.found)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("CheckTag: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("CheckTag: expected error %q", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("CheckTag: got %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTagCanonical(t *testing.T) {
	got := SetTag(StringTag("b"), NullTag(), StringTag("a"), StringTag("b")).Canonical()
	if got.String() != `{"a", "b"}` {
		t.Errorf("set: got %s", got)
	}

	m := MapTag(KV(StringTag("z"), NullTag()), KV(NullTag(), IntTag(1)), KV(StringTag("a"), UintTag(2))).Canonical()
	if m.String() != `{"a"=>2u, "z"}` {
		t.Errorf("map: got %s", m)
	}

	if CompareTags(IntTag(1), IntTag(1)) != 0 || CompareTags(BoolTag(false), BoolTag(true)) >= 0 {
		t.Error("CompareTags ordering")
	}
}

func TestTagKindNames(t *testing.T) {
	for k := TagNull; k <= TagMap; k++ {
		parsed, ok := ParseTagKind(k.String())
		if !ok || parsed != k {
			t.Errorf("ParseTagKind(%q): got %v, %v", k.String(), parsed, ok)
		}
	}
	if _, ok := ParseTagKind("float"); ok {
		t.Error("ParseTagKind(float) should fail")
	}
}

func TestFormatTag(t *testing.T) {
	tl := &TypeLayout{
		ID:    Identity{Name: "Iface"},
		Size:  4,
		Align: 4,
		Shape: &Primitive{},
		Tag:   SetTag(StringTag("Send")),
	}
	if out := Format(tl, nil); !strings.Contains(out, `tag={"Send"}`) {
		t.Errorf("Format: got %q", out)
	}
}
