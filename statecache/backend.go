package statecache

import "fmt"

// Backend selects which KVStore implementation a persistent StateCache
// uses. Memory is bounded and non-persistent; the other four are
// interchangeable on-disk engines.
type Backend string

const (
	BackendMemory  Backend = "memory"
	BackendDir     Backend = "dir"
	BackendLevelDB Backend = "leveldb"
	BackendPebble  Backend = "pebble"
	BackendBBolt   Backend = "bbolt"
)

// Open constructs a StateCache for the given backend. path is ignored for
// BackendMemory; memoryCapacity is ignored for everything else.
func Open(backend Backend, path string, memoryCapacity int) (StateCache, error) {
	store, err := openStore(backend, path, memoryCapacity)
	if err != nil {
		return nil, err
	}
	return NewKVCache(store), nil
}

func openStore(backend Backend, path string, memoryCapacity int) (KVStore, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(memoryCapacity)
	case BackendDir:
		return NewDirStore(path)
	case BackendLevelDB:
		return NewLevelDBStore(path)
	case BackendPebble:
		return NewPebbleStore(path)
	case BackendBBolt:
		return NewBBoltStore(path)
	default:
		return nil, fmt.Errorf("statecache: unknown backend %q", backend)
	}
}
