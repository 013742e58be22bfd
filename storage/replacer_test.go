package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var replacerAlgorithms = []string{ReplacerLRU, ReplacerClock, ReplacerLFU, Replacer2Q}

// Behaviour every replacement policy must share
func TestReplacerContract(t *testing.T) {
	for _, alg := range replacerAlgorithms {
		t.Run(alg, func(t *testing.T) {
			t.Run("empty has no victim", func(t *testing.T) {
				r := NewReplacer(alg, 8)
				_, ok := r.Victim()
				assert.False(t, ok)
				assert.Equal(t, 0, r.Size())
			})

			t.Run("victims are exactly the unpinned pages", func(t *testing.T) {
				r := NewReplacer(alg, 8)
				for id := PageID(1); id <= 5; id++ {
					r.Unpin(id)
				}
				r.Pin(2)
				r.Pin(4)
				assert.Equal(t, 3, r.Size())

				seen := map[PageID]bool{}
				for {
					id, ok := r.Victim()
					if !ok {
						break
					}
					assert.False(t, seen[id], "victim %d returned twice", id)
					seen[id] = true
				}
				assert.Equal(t, map[PageID]bool{1: true, 3: true, 5: true}, seen)
				assert.Equal(t, 0, r.Size())
			})

			t.Run("pin of unknown page is a no-op", func(t *testing.T) {
				r := NewReplacer(alg, 8)
				r.Pin(42)
				assert.Equal(t, 0, r.Size())
				_, ok := r.Victim()
				assert.False(t, ok)
			})

			t.Run("remove forgets the page", func(t *testing.T) {
				r := NewReplacer(alg, 8)
				r.Unpin(1)
				r.Unpin(2)
				r.Remove(1)
				r.Remove(99)
				assert.Equal(t, 1, r.Size())

				id, ok := r.Victim()
				require.True(t, ok)
				assert.Equal(t, PageID(2), id)
			})

			t.Run("repeated unpin counts once", func(t *testing.T) {
				r := NewReplacer(alg, 8)
				r.Unpin(7)
				r.Unpin(7)
				assert.Equal(t, 1, r.Size())
			})

			t.Run("more pages than capacity", func(t *testing.T) {
				r := NewReplacer(alg, 2)
				for id := PageID(1); id <= 10; id++ {
					r.Unpin(id)
				}
				assert.Equal(t, 10, r.Size())
				for i := 0; i < 10; i++ {
					_, ok := r.Victim()
					require.True(t, ok)
				}
				_, ok := r.Victim()
				assert.False(t, ok)
			})
		})
	}
}

func TestNewReplacerSelectsImplementation(t *testing.T) {
	assert.IsType(t, &LRUReplacer{}, NewReplacer("lru", 4))
	assert.IsType(t, &ClockReplacer{}, NewReplacer("clock", 4))
	assert.IsType(t, &LFUReplacer{}, NewReplacer("LFU", 4))
	assert.IsType(t, &TwoQReplacer{}, NewReplacer("2q", 4))
	assert.IsType(t, &LRUReplacer{}, NewReplacer("unknown", 4))

	assert.True(t, IsKnownReplacer("Clock"))
	assert.False(t, IsKnownReplacer("arc"))
}
