package spawn

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the character set of the random id suffix.
var Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// SuffixLength is the number of random characters appended to every id.
var SuffixLength = 6

// IDFunc returns a new globally unique node id starting with prefix.
type IDFunc func(prefix string) string

// NewIDFunc returns an IDFunc producing "<prefix>-<unix millis>-<random>".
// The clock is injectable for tests; nil means time.Now.
func NewIDFunc(now func() time.Time) IDFunc {
	if now == nil {
		now = time.Now
	}
	return func(prefix string) string {
		suffix, err := nanoid.Generate(Alphabet, SuffixLength)
		if err != nil {
			// crypto/rand failure; fall back to the clock's nanoseconds.
			suffix = fmt.Sprintf("%06d", now().Nanosecond()%1000000)
		}
		return fmt.Sprintf("%s-%d-%s", prefix, now().UnixMilli(), suffix)
	}
}
