package boltdb

import (
	"path/filepath"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"go.etcd.io/bbolt"

	"github.com/alanbriolat/video-fetcher/internal/stats"
)

func TestDatabase_Counters(t *testing.T) {
	assert := assert_.New(t)
	path := filepath.Join(t.TempDir(), "stats.db")

	db, err := New(path)
	assert.Nil(err)
	counters, err := db.LoadCounters()
	assert.Nil(err)
	assert.Empty(counters)

	assert.Nil(db.SaveCounters(stats.Counters{stats.Total: 3, "mp3": 1, "youtube": 2}))
	assert.Nil(db.SaveCounters(stats.Counters{stats.Total: 4, "mp3": 2, "youtube": 2}))
	assert.Nil(db.Close())

	db, err = New(path)
	assert.Nil(err)
	defer db.Close()
	counters, err = db.LoadCounters()
	assert.Nil(err)
	assert.Equal(stats.Counters{stats.Total: 4, "mp3": 2, "youtube": 2}, counters)
}

func TestDatabase_WithStore(t *testing.T) {
	assert := assert_.New(t)
	db, err := New(filepath.Join(t.TempDir(), "stats.db"))
	assert.Nil(err)
	defer db.Close()

	s, err := stats.New(db)
	assert.Nil(err)
	s.Record("tiktok")
	s.Record("tiktok", "mp3")

	counters, err := db.LoadCounters()
	assert.Nil(err)
	assert.Equal(int64(2), counters[stats.Total])
	assert.Equal(int64(2), counters["tiktok"])
	assert.Equal(int64(1), counters["mp3"])
}

func TestDatabase_RejectsNewerSchema(t *testing.T) {
	assert := assert_.New(t)
	path := filepath.Join(t.TempDir(), "stats.db")
	db, err := New(path)
	if !assert.NoError(err) {
		return
	}
	assert.NoError(db.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(versionKey, encode(schemaVersion+1))
	}))
	assert.NoError(db.Close())

	_, err = New(path)
	assert.ErrorIs(err, ErrNewerSchema)
}
