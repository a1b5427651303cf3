package storage_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicer-backend/internal/storage"
)

func TestLocalStoreRoundtrip(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "abc_model.stl", bytes.NewReader([]byte("solid"))))

	data, err := store.GetObject(ctx, "abc_model.stl")
	require.NoError(t, err)
	assert.Equal(t, []byte("solid"), data)
}

func TestLocalStoreOverwrite(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "f", bytes.NewReader([]byte("one"))))
	require.NoError(t, store.PutObject(ctx, "f", bytes.NewReader([]byte("two"))))

	data, err := store.GetObject(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestLocalStoreGetMissing(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "nope")
	assert.Error(t, err)
}

func TestLocalStoreDelete(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "f", bytes.NewReader([]byte("x"))))
	require.NoError(t, store.DeleteObject(ctx, "f"))

	_, err = store.GetObject(ctx, "f")
	assert.Error(t, err)

	// Deleting a missing object is not an error.
	assert.NoError(t, store.DeleteObject(ctx, "f"))
}

func TestLocalStoreListObjects(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "abc_model.stl", bytes.NewReader([]byte("12345"))))
	require.NoError(t, store.PutObject(ctx, "abc_print.gcode", bytes.NewReader([]byte("123"))))
	require.NoError(t, store.PutObject(ctx, "other.stl", bytes.NewReader([]byte("1"))))

	objects, err := store.ListObjects(ctx, "abc_")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	names := []string{objects[0].Name, objects[1].Name}
	assert.ElementsMatch(t, []string{"abc_model.stl", "abc_print.gcode"}, names)

	all, err := store.ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
