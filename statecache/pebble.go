package statecache

import (
	"github.com/cockroachdb/pebble"
)

// pebbleKV is a persistent KVStore backed by cockroachdb/pebble.
type pebbleKV struct {
	db *pebble.DB
}

// NewPebbleStore opens (creating if absent) a pebble database at dir.
func NewPebbleStore(dir string) (KVStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &pebbleKV{db: db}, nil
}

func (p *pebbleKV) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	closer.Close()
	return out, true, nil
}

func (p *pebbleKV) Put(key []byte, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *pebbleKV) Close() error { return p.db.Close() }
