package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/testutil"
	"github.com/garyjia/prodflow/pkg/utils"
)

func TestFiscalYear(t *testing.T) {
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), "25-26"},
		{time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC), "24-25"},
		{time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), "25-26"},
		{time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), "25-26"},
		{time.Date(1999, time.June, 1, 0, 0, 0, 0, time.UTC), "99-00"},
	}

	for _, tt := range tests {
		if got := FiscalYear(tt.date); got != tt.want {
			t.Errorf("FiscalYear(%s) = %s, want %s", tt.date.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "ORD12/25-26", FormatCode("ORD", 12, "25-26"))
}

func fixedClock() time.Time {
	return time.Date(2025, time.May, 10, 12, 0, 0, 0, time.UTC)
}

func TestNextCode_SQLite(t *testing.T) {
	env := testutil.NewEnv(t)
	gen := NewGenerator(env.Sequences, utils.NewKVLogger(zap.NewNop()), WithClock(fixedClock))
	ctx := context.Background()

	next, err := gen.Current(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	code, err := gen.NextCode(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, "INV1/25-26", code)

	code, err = gen.NextCode(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, "INV2/25-26", code)

	code, err = gen.NextCode(ctx, "ORD")
	require.NoError(t, err)
	assert.Equal(t, "ORD1/25-26", code)

	next, err = gen.Current(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)

	_, err = gen.NextCode(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidPrefix)
	_, err = gen.NextCode(ctx, "A/B")
	assert.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestNextCode_RefusedInsideTransaction(t *testing.T) {
	env := testutil.NewEnv(t)
	gen := NewGenerator(env.Sequences, utils.NewKVLogger(zap.NewNop()), WithClock(fixedClock))

	err := env.Tx.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := gen.NextCode(ctx, "ORD")
		return err
	})
	assert.ErrorIs(t, err, port.ErrSequenceInTransaction)
}

func TestNextCode_ConcurrentCallersGetDistinctCodes(t *testing.T) {
	env := testutil.NewEnv(t)
	gen := NewGenerator(env.Sequences, utils.NewKVLogger(zap.NewNop()),
		WithClock(fixedClock),
		WithMaxRetries(20),
		WithRetryBackoff(time.Millisecond),
	)

	const callers = 50
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]bool, callers)
		errs  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := gen.NextCode(context.Background(), "ORD")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			codes[code] = true
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, codes, callers)
	for n := 1; n <= callers; n++ {
		assert.True(t, codes[fmt.Sprintf("ORD%d/25-26", n)], "missing ORD%d", n)
	}
}

// flakyStore loses the race a fixed number of times before succeeding
type flakyStore struct {
	conflicts int
	calls     int
	err       error
}

func (s *flakyStore) Increment(ctx context.Context, prefix, fiscalYear string) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if s.calls <= s.conflicts {
		return 0, port.ErrDuplicateSequence
	}
	return 7, nil
}

func (s *flakyStore) Current(ctx context.Context, prefix, fiscalYear string) (*entity.FiscalSequence, error) {
	return nil, nil
}

func TestNextCode_Retries(t *testing.T) {
	logger := utils.NewKVLogger(zap.NewNop())

	t.Run("recovers after conflicts", func(t *testing.T) {
		store := &flakyStore{conflicts: 2}
		gen := NewGenerator(store, logger, WithClock(fixedClock), WithRetryBackoff(0))

		code, err := gen.NextCode(context.Background(), "ORD")
		require.NoError(t, err)
		assert.Equal(t, "ORD7/25-26", code)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		store := &flakyStore{conflicts: 100}
		gen := NewGenerator(store, logger, WithClock(fixedClock), WithRetryBackoff(0), WithMaxRetries(2))

		_, err := gen.NextCode(context.Background(), "ORD")
		assert.ErrorIs(t, err, port.ErrDuplicateSequence)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		store := &flakyStore{err: errors.New("disk full")}
		gen := NewGenerator(store, logger, WithClock(fixedClock), WithRetryBackoff(0))

		_, err := gen.NextCode(context.Background(), "ORD")
		assert.EqualError(t, err, "disk full")
		assert.Equal(t, 1, store.calls)
	})
}
