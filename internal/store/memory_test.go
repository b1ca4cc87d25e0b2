package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lodomo/EscapeWright/internal/store"
	"github.com/lodomo/EscapeWright/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, store.NewMemory())
}

func TestMemoryClosed(t *testing.T) {
	m := store.NewMemory()
	_ = m.Close()
	if _, err := m.Get(context.Background(), "k"); !errors.Is(err, store.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// conflictOnce fails the first Put with ErrConflict, simulating another worker.
type conflictOnce struct {
	*store.Memory
	tripped bool
}

func (c *conflictOnce) Put(ctx context.Context, key, value string, version int64) (int64, error) {
	if !c.tripped {
		c.tripped = true
		if _, err := c.Memory.Set(ctx, key, "other-writer"); err != nil {
			return 0, err
		}
		return 0, store.ErrConflict
	}
	return c.Memory.Put(ctx, key, value, version)
}

func TestUpdateRetriesFromFreshRead(t *testing.T) {
	s := &conflictOnce{Memory: store.NewMemory()}
	var seen []string
	got, err := store.Update(context.Background(), s, "k", 3, func(cur string, found bool) (string, error) {
		seen = append(seen, cur)
		return cur + "+mine", nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got != "other-writer+mine" {
		t.Errorf("got %q, want value built on the other writer's state", got)
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(seen))
	}
}

type alwaysConflict struct{ *store.Memory }

func (alwaysConflict) Put(context.Context, string, string, int64) (int64, error) {
	return 0, store.ErrConflict
}

func TestUpdateGivesUp(t *testing.T) {
	_, err := store.Update(context.Background(), alwaysConflict{store.NewMemory()}, "k", 2, func(string, bool) (string, error) {
		return "x", nil
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := store.Key("vault", "node", "keypad"); got != "escapewright:vault:node:keypad" {
		t.Errorf("Key = %q", got)
	}
}
