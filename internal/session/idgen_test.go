// ABOUTME: Tests for session ID generation.
// ABOUTME: Checks uniqueness under concurrency and ordering within a millisecond.

package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGeneratorFormat(t *testing.T) {
	id := NewULIDGenerator().NewID()
	assert.True(t, strings.HasPrefix(id, IDPrefix))
	assert.Len(t, id, len(IDPrefix)+26)
	assert.Equal(t, strings.ToLower(id), id)
}

func TestULIDGeneratorConcurrentUniqueness(t *testing.T) {
	gen := NewULIDGenerator()

	const workers = 32
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, gen.NewID())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestULIDGeneratorSameMillisecond(t *testing.T) {
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gen := NewULIDGenerator()
	gen.now = func() time.Time { return frozen }

	prev := gen.NewID()
	for i := 0; i < 1000; i++ {
		next := gen.NewID()
		require.NotEqual(t, prev, next)
		assert.Less(t, prev, next, "ids within one millisecond must increase")
		prev = next
	}
}
