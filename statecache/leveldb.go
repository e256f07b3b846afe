package statecache

import (
	"github.com/syndtr/goleveldb/leveldb"
)

// leveldbKV is a persistent KVStore backed by syndtr/goleveldb, one of the
// three interchangeable on-disk backends the StateCache can use (the
// others being pebble and bbolt).
type leveldbKV struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (creating if absent) a goleveldb database at dir.
func NewLevelDBStore(dir string) (KVStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &leveldbKV{db: db}, nil
}

func (l *leveldbKV) Get(key []byte) ([]byte, bool, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (l *leveldbKV) Put(key []byte, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *leveldbKV) Close() error { return l.db.Close() }
