// Package storetest runs the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodomo/EscapeWright/internal/store"
)

// Run exercises s. Each subtest uses its own keys so a shared backend is fine.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, store.Key("test", "missing"))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("PutCreateAndUpdate", func(t *testing.T) {
		key := store.Key("test", "cas")
		v1, err := s.Put(ctx, key, "one", 0)
		require.NoError(t, err)
		require.Equal(t, int64(1), v1)

		_, err = s.Put(ctx, key, "again", 0)
		require.ErrorIs(t, err, store.ErrConflict)

		v2, err := s.Put(ctx, key, "two", v1)
		require.NoError(t, err)
		require.Equal(t, int64(2), v2)

		_, err = s.Put(ctx, key, "stale", v1)
		require.ErrorIs(t, err, store.ErrConflict)

		rec, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "two", rec.Value)
		assert.Equal(t, v2, rec.Version)
	})

	t.Run("SetUnconditional", func(t *testing.T) {
		key := store.Key("test", "set")
		v1, err := s.Set(ctx, key, "a")
		require.NoError(t, err)
		v2, err := s.Set(ctx, key, "b")
		require.NoError(t, err)
		assert.Greater(t, v2, v1)

		rec, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "b", rec.Value)
	})

	t.Run("ValueWithSeparators", func(t *testing.T) {
		key := store.Key("test", "raw")
		raw := "60:1700000000:1700003600:0:True:False:False"
		_, err := s.Set(ctx, key, raw)
		require.NoError(t, err)
		rec, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, raw, rec.Value)
	})

	t.Run("ConcurrentUpdatesAreNotLost", func(t *testing.T) {
		key := store.Key("test", "counter")
		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, s, key, 100, func(cur string, found bool) (string, error) {
					n := 0
					if found {
						if _, err := fmt.Sscanf(cur, "%d", &n); err != nil {
							return "", err
						}
					}
					return fmt.Sprintf("%d", n+1), nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rec, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", workers), rec.Value)
	})

	t.Run("UpdateAbortsOnCallbackError", func(t *testing.T) {
		key := store.Key("test", "abort")
		boom := errors.New("boom")
		_, err := store.Update(ctx, s, key, 0, func(string, bool) (string, error) {
			return "", boom
		})
		require.ErrorIs(t, err, boom)
		_, err = s.Get(ctx, key)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
