package pipe

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/satori/go.uuid"
)

// IDGenerator produces correlation ids for outbound requests.
type IDGenerator func() string

const (
	shortIDLen      = 6
	shortIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ShortIDs yields six base36 characters per id. A nil rng is seeded from
// the wall clock.
func ShortIDs(rng *rand.Rand) IDGenerator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		b := make([]byte, shortIDLen)
		for i := range b {
			b[i] = shortIDAlphabet[rng.Intn(len(shortIDAlphabet))]
		}
		return string(b)
	}
}

// UUIDs yields random v4 UUIDs.
func UUIDs() IDGenerator {
	return func() string {
		return uuid.NewV4().String()
	}
}

// SequenceIDs yields prefix-1, prefix-2, ...
func SequenceIDs(prefix string) IDGenerator {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
