package boltdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/video-fetcher/internal/stats"
)

var (
	metadataBucket = []byte("__metadata__")
	countersBucket = []byte("counters")
	versionKey     = []byte("version")
)

// schemaVersion is bumped whenever the bucket layout changes. Version 1 stores counters as 8-byte big-endian values.
const schemaVersion uint64 = 1

var ErrNewerSchema = errors.New("database was written by a newer version")

type Database struct {
	db *bbolt.DB
}

func New(path string) (*Database, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(migrate); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Database{db: db}, nil
}

func migrate(tx *bbolt.Tx) error {
	meta, err := tx.CreateBucketIfNotExists(metadataBucket)
	if err != nil {
		return err
	}
	if _, err := tx.CreateBucketIfNotExists(countersBucket); err != nil {
		return err
	}
	var version uint64
	if raw := meta.Get(versionKey); raw != nil {
		if version, err = decode(raw); err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: schema %d, supported %d", ErrNewerSchema, version, schemaVersion)
	}
	return meta.Put(versionKey, encode(schemaVersion))
}

func encode(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) LoadCounters() (stats.Counters, error) {
	counters := make(stats.Counters)
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(countersBucket).ForEach(func(k, v []byte) error {
			value, err := decode(v)
			if err != nil {
				return fmt.Errorf("counter %q: %w", k, err)
			}
			counters[string(k)] = int64(value)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return counters, nil
}

// SaveCounters writes every counter in one transaction, so a crash never leaves a partial update.
func (d *Database) SaveCounters(counters stats.Counters) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(countersBucket)
		for name, value := range counters {
			if err := bucket.Put([]byte(name), encode(uint64(value))); err != nil {
				return err
			}
		}
		return nil
	})
}
