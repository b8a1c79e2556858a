package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestGenerate_PrefixAndLength(t *testing.T) {
	id, err := Generate(PrefixChallenge)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if !strings.HasPrefix(id, PrefixChallenge) {
		t.Errorf("Generate() = %q, want prefix %q", id, PrefixChallenge)
	}
	if want := len(PrefixChallenge) + Length; len(id) != want {
		t.Errorf("Generate() length = %d, want %d", len(id), want)
	}
}

func TestGenerate_CharsetAndUniqueness(t *testing.T) {
	pattern := regexp.MustCompile(`^otp-[a-zA-Z0-9]+$`)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := Generate(PrefixChallenge)
		if err != nil {
			t.Fatalf("Generate() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("Generate() = %q, does not match charset", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d iterations", id, i)
		}
		seen[id] = struct{}{}
	}
}
