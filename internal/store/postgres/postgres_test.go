package postgres

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lodomo/EscapeWright/internal/store/storetest"
)

// startPostgres runs a throwaway container and returns its DSN.
// The test is skipped when Docker is unavailable.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("escapewright"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return ""
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
		cancel()
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://test:test@%s:%s/escapewright?sslmode=disable", host, port.Port())
}

// connect retries until the server accepts connections.
func connect(t *testing.T, driver, dsn string) *Client {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		c, err := New(context.Background(), driver, dsn, "vault")
		if err == nil {
			t.Cleanup(func() { _ = c.Close() })
			return c
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := startPostgres(t)

	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			c := connect(t, driver, dsn)
			_, err := c.db.Exec(`TRUNCATE kv`)
			require.NoError(t, err)
			storetest.Run(t, c)
		})
	}
}

func TestPostgresEvents(t *testing.T) {
	c := connect(t, "pgx", startPostgres(t))

	now := time.Now().UTC()
	require.NoError(t, c.AppendEvent(now.Add(-time.Second), "info", "clock.started", "", nil))
	require.NoError(t, c.AppendEvent(now, "warn", "transmit.dropped", "gave up", map[string]interface{}{"attempts": 10}))

	rows, err := c.QueryEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "transmit.dropped", rows[0].Event)
	assert.EqualValues(t, 10, rows[0].Fields["attempts"])
	assert.Nil(t, rows[1].Message)
}

func TestConnString(t *testing.T) {
	t.Setenv("PGHOST", "db.local")
	t.Setenv("PGPORT", "")
	t.Setenv("PGUSER", "")
	t.Setenv("PGDATABASE", "rooms")

	got := ConnString("")
	assert.Equal(t, "host=db.local port=5432 user=escapewright dbname=rooms sslmode=disable", got)
	assert.True(t, strings.Contains(ConnString("s3cret"), "password=s3cret"))
}
