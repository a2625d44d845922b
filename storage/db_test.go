package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	mem := NewMemDB()
	t.Cleanup(mem.Close)

	lvl, err := NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(lvl.Close)

	disk, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(disk.Close)

	return map[string]Database{"memdb": mem, "leveldb-mem": lvl, "leveldb-disk": disk}
}

func TestDatabaseGetMissing(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("absent"))
			require.True(t, errors.Is(err, ErrNotFound))
			ok, err := db.Has([]byte("absent"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestTxCommitPublishesWrites(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("stale"), []byte("1")))

			tx, err := db.Begin()
			require.NoError(t, err)
			require.NoError(t, tx.Put([]byte("k"), []byte("v")))
			require.NoError(t, tx.Delete([]byte("stale")))

			got, err := tx.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)
			_, err = tx.Get([]byte("stale"))
			require.True(t, errors.Is(err, ErrNotFound))

			// Not visible outside the transaction yet.
			_, err = db.Get([]byte("k"))
			require.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, tx.Commit())
			tx.Discard()

			got, err = db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)
			ok, err := db.Has([]byte("stale"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestTxDiscardDropsWrites(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tx, err := db.Begin()
			require.NoError(t, err)
			require.NoError(t, tx.Put([]byte("k"), []byte("v")))
			tx.Discard()

			_, err = db.Get([]byte("k"))
			require.True(t, errors.Is(err, ErrNotFound))

			// A second transaction can be opened after the first is released.
			tx2, err := db.Begin()
			require.NoError(t, err)
			tx2.Discard()
		})
	}
}

func TestTxUseAfterClose(t *testing.T) {
	db := NewMemDB()
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Put([]byte("k"), []byte("v")), ErrTxClosed)
	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("key"), []byte("value")))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}
