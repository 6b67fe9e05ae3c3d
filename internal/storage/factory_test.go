package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchcore/orchd/internal/config"
)

func TestNewStoreFallsBackToMemoryWhenStandaloneHasNoSqlitePath(t *testing.T) {
	cfg := &config.Config{Profile: config.ProfileStandalone}
	store, err := NewStore(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	_, ok := store.(*MemoryStore)
	assert.True(t, ok, "expected in-memory fallback when no sqlite_path is set")
}

func TestNewStoreOpensSqliteWhenPathConfigured(t *testing.T) {
	cfg := &config.Config{
		Profile:  config.ProfileStandalone,
		Database: config.DatabaseConfig{SqlitePath: "file::memory:?cache=shared&test=sqlite_factory"},
	}
	store, err := NewStore(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	s, ok := store.(*SQLiteStore)
	require.True(t, ok)
	defer s.Close()
}

func TestNewStoreRejectsClusterProfileWithoutPool(t *testing.T) {
	cfg := &config.Config{Profile: config.ProfileCluster}
	_, err := NewStore(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
	assert.IsType(t, &ErrStorageInitFailed{}, err)
}
