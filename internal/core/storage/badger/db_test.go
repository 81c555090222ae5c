package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/storage"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
)

func openMem(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{InMemory: true, Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_PutGetDelete(t *testing.T) {
	db := openMem(t)

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDB_EmptyKey(t *testing.T) {
	db := openMem(t)
	assert.ErrorIs(t, db.Put(nil, []byte("v")), storage.ErrEmptyKey)
	_, err := db.Get(nil)
	assert.ErrorIs(t, err, storage.ErrEmptyKey)
}

func TestDB_Closed(t *testing.T) {
	db, err := Open(Options{InMemory: true, Logger: logger.Discard()})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestDB_Persists(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(Options{Path: dir, Logger: logger.Discard()})
	require.NoError(t, err)
	first, err := (&identity.PersistentIdentitySource{Store: db}).Identity()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(Options{Path: dir, Logger: logger.Discard()})
	require.NoError(t, err)
	defer db.Close()
	again, err := (&identity.PersistentIdentitySource{Store: db}).Identity()
	require.NoError(t, err)

	assert.Equal(t, first.ID(), again.ID())
}
