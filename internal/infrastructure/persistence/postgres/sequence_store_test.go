package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestIsConflict(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{codeUniqueViolation, true},
		{codeSerializationFailure, true},
		{codeDeadlockDetected, true},
		{"23503", false},
	}
	for _, tt := range tests {
		err := &pgconn.PgError{Code: tt.code}
		if got := isConflict(err); got != tt.want {
			t.Errorf("isConflict(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
	assert.False(t, isConflict(context.Canceled))
}

func TestSequenceStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("prodflow"),
		tcpostgres.WithUsername("prodflow"),
		tcpostgres.WithPassword("prodflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, connStr, 20)
	require.NoError(t, err)
	defer pool.Close()

	store := NewSequenceStore(pool, zap.NewNop())
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	t.Run("first value is one", func(t *testing.T) {
		seq, err := store.Current(ctx, "INV", "25-26")
		require.NoError(t, err)
		assert.Nil(t, seq)

		n, err := store.Increment(ctx, "INV", "25-26")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.Increment(ctx, "INV", "26-27")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		seq, err = store.Current(ctx, "INV", "25-26")
		require.NoError(t, err)
		assert.Equal(t, int64(2), seq.NextValue)
	})

	t.Run("concurrent callers", func(t *testing.T) {
		const callers = 50
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			issued = make(map[int64]bool, callers)
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := store.Increment(ctx, "ORD", "25-26")
				assert.NoError(t, err)
				mu.Lock()
				issued[n] = true
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, issued, callers)
		for n := int64(1); n <= callers; n++ {
			assert.True(t, issued[n], "missing %d", n)
		}
	})
}
