package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodomo/EscapeWright/internal/config"
	"github.com/lodomo/EscapeWright/internal/store"
	rd "github.com/lodomo/EscapeWright/internal/store/redis"
	sq "github.com/lodomo/EscapeWright/internal/store/sqlite"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		cfg  config.StoreConfig
		want string
	}{
		{config.StoreConfig{}, "memory"},
		{config.StoreConfig{DSN: "postgres://u@h/db"}, "postgres"},
		{config.StoreConfig{DSN: "POSTGRESQL://u@h/db"}, "postgres"},
		{config.StoreConfig{DSN: "redis://localhost:6379"}, "redis"},
		{config.StoreConfig{Addr: "localhost:6379"}, "redis"},
		{config.StoreConfig{DSN: "sqlite:///var/lib/room.db"}, "sqlite"},
		{config.StoreConfig{Path: "/tmp/room.db"}, "sqlite"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detect(tt.cfg), "%+v", tt.cfg)
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{}, "vault")
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*store.Memory)
	assert.True(t, ok)
	_, hasLog := EventLog(s)
	assert.False(t, hasLog)
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.db")
	s, err := Open(context.Background(), config.StoreConfig{DSN: "sqlite://" + path}, "vault")
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*sq.DB)
	assert.True(t, ok)
	_, hasLog := EventLog(s)
	assert.True(t, hasLog)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), config.StoreConfig{Driver: "redis", Addr: mr.Addr()}, "vault")
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*rd.Store)
	assert.True(t, ok)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "etcd"}, "vault")
	assert.Error(t, err)
}
