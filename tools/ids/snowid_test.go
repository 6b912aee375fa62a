package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/tj/assert"
)

func TestNextIsUniqueAndIncreasing(t *testing.T) {
	g := NewGenerator(3)
	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := g.Next()
		assert.True(t, id > prev)
		assert.Equal(t, int64(3), Node(id))
		prev = id
	}
}

func TestNextSameMillisecond(t *testing.T) {
	g := NewGenerator(5)
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }
	a, b := g.Next(), g.Next()
	assert.Equal(t, a+1, b)
}

func TestNodeOutOfRange(t *testing.T) {
	assert.Equal(t, int64(1), Node(NewGenerator(5000).Next()))
}

func TestGenerateConcurrent(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				id := Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4000, len(seen))
}
