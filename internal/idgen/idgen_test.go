package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestKindPrefixes(t *testing.T) {
	for _, tc := range []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"Form", Form, PrefixForm},
		{"Row", Row, PrefixRow},
		{"Draft", Draft, PrefixDraft},
	} {
		t.Run(tc.name, func(t *testing.T) {
			id := tc.gen()
			if !strings.HasPrefix(id, tc.prefix) {
				t.Errorf("%s() = %q, want prefix %q", tc.name, id, tc.prefix)
			}
			if want := len(tc.prefix) + Length; len(id) != want {
				t.Errorf("%s() length = %d, want %d (id=%q)", tc.name, len(id), want, id)
			}
		})
	}
}

func TestRow_Charset(t *testing.T) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(PrefixRow) + `[a-zA-Z0-9]+$`)
	for i := 0; i < 100; i++ {
		if id := Row(); !pattern.MatchString(id) {
			t.Fatalf("Row() = %q, does not match expected charset pattern", id)
		}
	}
}

func TestRow_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id := Row()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	prefix := "test-"
	id, err := GenerateWithPrefix(prefix)
	if err != nil {
		t.Fatalf("GenerateWithPrefix(%q) error: %v", prefix, err)
	}
	if !strings.HasPrefix(id, prefix) {
		t.Errorf("GenerateWithPrefix(%q) = %q, want prefix %q", prefix, id, prefix)
	}
}

func TestGenerateWithPrefix_BadAlphabet(t *testing.T) {
	saved := Alphabet
	t.Cleanup(func() { Alphabet = saved })
	Alphabet = ""
	if _, err := GenerateWithPrefix("x-"); err == nil {
		t.Error("expected an error for an empty alphabet")
	}
}
