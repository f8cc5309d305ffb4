package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{7, 12, 16} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	id := NanoID(100)()
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("NanoID: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || len(strings.Split(id, "-")) != 5 {
		t.Fatalf("UUIDv7: bad format %q", id)
	}
}

func TestULID_Parses(t *testing.T) {
	id := ULID()()
	if _, err := ulid.Parse(id); err != nil {
		t.Fatalf("ULID: %q does not parse: %v", id, err)
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("fb_", NanoID(8))()
	if !strings.HasPrefix(id, "fb_") || len(id) != 11 {
		t.Fatalf("Prefixed: got %q", id)
	}
}

func TestMillis(t *testing.T) {
	fixed := time.UnixMilli(1718000000123)
	gen := Millis(func() time.Time { return fixed }, func() string { return "abc1234" })
	if got := gen(); got != "1718000000123-abc1234" {
		t.Fatalf("Millis: got %q", got)
	}
}

func TestDefault_IsUUID(t *testing.T) {
	id := Default()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("Default: should produce a valid UUID: %v", err)
	}
}

func TestPrefixedMillis_FileName(t *testing.T) {
	fixed := time.UnixMilli(1718000000000)
	gen := Prefixed("feedback-", Millis(func() time.Time { return fixed }, func() string { return "k3j9x2a" }))
	if got := gen(); got != "feedback-1718000000000-k3j9x2a" {
		t.Fatalf("file name: got %q", got)
	}
}
