// Package idgen provides the identifier strategies used by feedbackvos:
// session IDs, attachment IDs and the random suffix of committed file names.
//
// Constructors accept a Generator so tests can pin IDs.
package idgen

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Used for short file-name suffixes.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// ULID returns a Generator of lexically sortable ULIDs. Attachment IDs use
// it so the pending list sorts by selection time.
func ULID() Generator {
	return func() string {
		return ulid.Make().String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Committed file names are Prefixed("feedback-", Millis(...)).
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Millis returns a Generator producing "<unix millis>-<suffix>" where the
// millisecond clock comes from now. This is the shape of committed
// screenshot names: feedback-1718000000000-k3j9x2a.jpg.
func Millis(now func() time.Time, gen Generator) Generator {
	if now == nil {
		now = time.Now
	}
	return func() string {
		return strconv.FormatInt(now().UnixMilli(), 10) + "-" + gen()
	}
}

// Default is used for session identifiers.
var Default Generator = UUIDv7()
