package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("lend/a"), []byte("one")))
	require.NoError(t, db.Put([]byte("lend/b"), []byte("two")))
	require.NoError(t, db.Put([]byte("other"), []byte("three")))

	value, err := db.Get([]byte("lend/a"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	ok, err := db.Has([]byte("lend/b"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDBDelete(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Delete([]byte("k")))

	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDBIteratePrefix(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("pos/1"), []byte("a")))
	require.NoError(t, db.Put([]byte("pos/2"), []byte("b")))
	require.NoError(t, db.Put([]byte("policy/1"), []byte("c")))

	seen := map[string]string{}
	err := db.Iterate([]byte("pos/"), func(key, value []byte) bool {
		seen[string(key)] = string(value)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"pos/1": "a", "pos/2": "b"}, seen)
}

func TestMemDBValueIsolation(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("mutable")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), stored)
}
