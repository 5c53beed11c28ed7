package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustplane/trustagent/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, backend.Available(ctx))

	_, err = backend.Fetch(ctx, "store.bin.policy_store")
	require.ErrorIs(t, err, interfaces.ErrBlobNotFound)

	payload := []byte("sealed policy store contents")
	require.NoError(t, backend.Store(ctx, "store.bin.policy_store", payload))

	fetched, err := backend.Fetch(ctx, "store.bin.policy_store")
	require.NoError(t, err)
	assert.Equal(t, payload, fetched)

	// Overwrites replace the previous content.
	updated := []byte("resealed after certification")
	require.NoError(t, backend.Store(ctx, "store.bin.policy_store", updated))
	fetched, err = backend.Fetch(ctx, "store.bin.policy_store")
	require.NoError(t, err)
	assert.Equal(t, updated, fetched)
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())

	t.Run("file", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("file://" + t.TempDir())
		require.NoError(t, err)
		assert.Contains(t, backend.Name(), "file")
	})

	t.Run("vault", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("vault://vault.example.com:8200/secret/trustagent?scheme=https")
		require.NoError(t, err)
		assert.Contains(t, backend.Name(), "vault")
	})

	t.Run("s3", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("s3://policy-stores/trustagent?region=eu-west-1")
		require.NoError(t, err)
		assert.Contains(t, backend.Name(), "s3")
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := factory.StorageBackendFor("ftp://example.com/stores")
		require.ErrorContains(t, err, "unsupported backend scheme")
	})

	t.Run("vault without mount", func(t *testing.T) {
		_, err := factory.StorageBackendFor("vault://vault.example.com:8200")
		require.Error(t, err)
	})
}
