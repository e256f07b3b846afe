package statecache

import (
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("statecache")

// bboltKV is a persistent KVStore backed by go.etcd.io/bbolt.
type bboltKV struct {
	db *bolt.DB
}

// NewBBoltStore opens (creating if absent) a bbolt database file at path.
func NewBBoltStore(path string) (KVStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &bboltKV{db: db}, nil
}

func (b *bboltKV) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *bboltKV) Put(key []byte, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

func (b *bboltKV) Close() error { return b.db.Close() }
