package replay

import (
	"time"

	"github.com/smartweave-go/replay/statecache"
)

// Config bundles the knobs a ReplayEngine needs that aren't part of a
// single execute call: where the ledger lives, how long a network round
// trip or a single interaction may run, and which StateCache backend to
// open. It is built programmatically, or from the thin CLI's flags —
// there is no file-based config format, mirroring spec.md's entry point
// taking explicit parameters rather than a config document.
type Config struct {
	// LedgerBaseURL is the gateway's base URL, e.g. "https://arweave.net".
	LedgerBaseURL string

	// HTTPTimeout bounds a single ledger HTTP round trip.
	HTTPTimeout time.Duration

	// PerInteractionTimeout bounds how long a single Apply call may run
	// before the interaction is marked invalid, per §5 "Timeouts". Zero
	// disables the ceiling.
	PerInteractionTimeout time.Duration

	// CacheBackend selects the StateCache's persistence backend.
	CacheBackend statecache.Backend

	// CacheDir is the on-disk location for the dir/leveldb/pebble/bbolt
	// backends. Unused for the memory backend.
	CacheDir string

	// MemoryCacheCapacity bounds the in-memory backend's LRU size.
	MemoryCacheCapacity int
}

// DefaultConfig mirrors node.DefaultConfig in the teacher: sane values a
// caller can start from and override selectively.
var DefaultConfig = Config{
	LedgerBaseURL:         "https://arweave.net",
	HTTPTimeout:           30 * time.Second,
	PerInteractionTimeout: 0,
	CacheBackend:          statecache.BackendMemory,
	CacheDir:              "replay-cache",
	MemoryCacheCapacity:   1024,
}
