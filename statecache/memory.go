package statecache

import (
	lru "github.com/hashicorp/golang-lru"
)

// memoryKV is an in-process KVStore bounded by an LRU of recently-touched
// contract ids — the "single-entry-per-contract replacement" eviction
// policy spec.md §1 scopes as a Non-goal to go beyond.
type memoryKV struct {
	cache *lru.Cache
}

// NewMemoryStore returns a KVStore backed by a bounded in-memory LRU,
// sized for capacity distinct contract ids.
func NewMemoryStore(capacity int) (KVStore, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &memoryKV{cache: c}, nil
}

func (m *memoryKV) Get(key []byte) ([]byte, bool, error) {
	v, ok := m.cache.Get(string(key))
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *memoryKV) Put(key []byte, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.cache.Add(string(key), cp)
	return nil
}

func (m *memoryKV) Close() error { return nil }
