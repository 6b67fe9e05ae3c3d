package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/node"
	"github.com/orchcore/orchd/internal/schedconfig"
)

// setupRepoTestDB starts a disposable Postgres container and applies the
// schema the repositories in this package query against.
func setupRepoTestDB(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("orchd_test"),
		postgres.WithUsername("orchd"),
		postgres.WithPassword("orchd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	schema, err := embeddedMigrations.ReadFile("migrations/00001_init.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return pool
}

func TestConfigRepositoryRoundTrip(t *testing.T) {
	pool := setupRepoTestDB(t)
	defer pool.Close()
	repo := NewConfigRepository(pool)
	ctx := context.Background()

	_, err := repo.LoadCurrent(ctx)
	require.ErrorIs(t, err, schedconfig.ErrNotFound)

	cfg := schedconfig.Default()
	cfg.Version = 1
	require.NoError(t, repo.SaveCurrent(ctx, cfg))

	got, err := repo.LoadCurrent(ctx)
	require.NoError(t, err)
	require.Equal(t, cfg.BaselineBenchmark, got.BaselineBenchmark)

	next := schedconfig.Default()
	next.Version = 2
	next.BaselineBenchmark = 5000
	require.NoError(t, repo.SaveCurrent(ctx, next))

	got, err = repo.LoadCurrent(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)

	history, err := repo.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, int64(1), history[0].Version)
}

func TestCommandRepositoryLifecycle(t *testing.T) {
	pool := setupRepoTestDB(t)
	defer pool.Close()
	repo := NewCommandRepository(pool)
	ctx := context.Background()

	oc := command.OutstandingCommand{
		CommandID:        "cmd-1",
		NodeID:           "node-1",
		TargetResourceID: "node-1",
		Type:             command.TypeConfigureGpu,
		IssuedAt:         time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.SaveOutstanding(ctx, oc))

	got, ok, err := repo.GetOutstanding(ctx, "cmd-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, oc.NodeID, got.NodeID)

	stale, err := repo.ListOutstandingOlderThan(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)

	require.NoError(t, repo.DeleteOutstanding(ctx, "cmd-1"))
	_, ok, err = repo.GetOutstanding(ctx, "cmd-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEventRepositoryQueryFiltersAndOrders(t *testing.T) {
	pool := setupRepoTestDB(t)
	defer pool.Close()
	repo := NewEventRepository(pool)
	ctx := context.Background()
	sink := events.NewSink(repo)

	nodeID := "node-1"
	require.NoError(t, sink.Append(ctx, events.OrchestratorEvent{
		Type: events.TypeGpuSetupQueued, ResourceType: "Node", ResourceID: nodeID, NodeID: &nodeID,
		Payload: map[string]any{"mode": "Auto"},
	}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, sink.Append(ctx, events.OrchestratorEvent{
		Type: events.TypeNodeRegistered, ResourceType: "Node", ResourceID: nodeID, NodeID: &nodeID,
	}))

	all, err := repo.QueryEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, events.TypeNodeRegistered, all[0].Type)

	queued, err := repo.QueryEvents(ctx, events.TypeGpuSetupQueued, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, "Auto", queued[0].Payload["mode"])
}

func TestNodeRepositoryRoundTrip(t *testing.T) {
	pool := setupRepoTestDB(t)
	defer pool.Close()
	repo := NewNodeRepository(pool)
	ctx := context.Background()

	_, ok, err := repo.GetNode(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	n := &node.Node{
		ID:              "node-1",
		Hardware:        node.HardwareInventory{PhysicalCores: 8, AllocatableMemory: 1 << 30},
		RegisteredAt:    time.Now(),
		LastHeartbeatAt: time.Now(),
	}
	require.NoError(t, repo.SaveNode(ctx, n))

	got, ok, err := repo.GetNode(ctx, "node-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 8, got.Hardware.PhysicalCores)

	got.Hardware.PhysicalCores = 16
	require.NoError(t, repo.SaveNode(ctx, got))
	got2, _, err := repo.GetNode(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, 16, got2.Hardware.PhysicalCores)
}
