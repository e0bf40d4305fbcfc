// ABOUTME: Collision-resistant session ID generation using monotonic ULIDs.
// ABOUTME: Millisecond timestamp plus an 80-bit random component that increments within a millisecond.

package session

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDPrefix marks identifiers minted by the gateway.
const IDPrefix = "s-"

// Generator mints new session identifiers.
type Generator interface {
	NewID() string
}

// ULIDGenerator produces lexically sortable IDs that never repeat within a
// process, even when many sessions are created in the same millisecond.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewULIDGenerator seeds a monotonic entropy source from crypto/rand.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewID returns a new session identifier such as "s-01hq3v5k6x...".
func (g *ULIDGenerator) NewID() string {
	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	if err != nil {
		// Entropy overflowed within one millisecond.
		id = ulid.Make()
	}
	return IDPrefix + strings.ToLower(id.String())
}
