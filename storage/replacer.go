package storage

import "strings"

// Replacer tracks the set of evictable pages and picks victims among them.
// A page is evictable iff it was Unpin'ned and not since Pin'ned, Remove'd
// or returned by Victim.
type Replacer interface {
	// Victim removes and returns the best page to evict.
	// Returns false if no page is evictable.
	Victim() (PageID, bool)

	// Pin records an access and takes the page out of the evictable set.
	// A page that is not evictable is left alone.
	Pin(pageID PageID)

	// Unpin adds the page to the evictable set
	Unpin(pageID PageID)

	// Remove forgets everything known about the page
	Remove(pageID PageID)

	// Size returns the number of evictable pages
	Size() int
}

// Replacement algorithm names accepted by NewReplacer
const (
	ReplacerLRU   = "lru"
	ReplacerClock = "clock"
	ReplacerLFU   = "lfu"
	Replacer2Q    = "2q"
)

// NewReplacer creates a replacer based on the specified algorithm.
// Unknown names fall back to LRU.
func NewReplacer(algorithm string, capacity uint32) Replacer {
	switch strings.ToLower(algorithm) {
	case ReplacerClock:
		return NewClockReplacer(int(capacity))
	case ReplacerLFU:
		return NewLFUReplacer(int(capacity))
	case Replacer2Q:
		return NewTwoQReplacer(int(capacity))
	default:
		return NewLRUReplacer(int(capacity))
	}
}

// IsKnownReplacer reports whether NewReplacer understands the name
func IsKnownReplacer(algorithm string) bool {
	switch strings.ToLower(algorithm) {
	case ReplacerLRU, ReplacerClock, ReplacerLFU, Replacer2Q:
		return true
	}
	return false
}
