package fleet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/store"
	"github.com/lodomo/EscapeWright/internal/transmit"
)

type fakeFetcher struct {
	mu       sync.Mutex
	statuses map[string]string
	failing  map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{statuses: map[string]string{}, failing: map[string]bool{}}
}

func (f *fakeFetcher) set(name, status string) {
	f.mu.Lock()
	f.statuses[name] = status
	f.mu.Unlock()
}

func (f *fakeFetcher) fail(name string) {
	f.mu.Lock()
	f.failing[name] = true
	f.mu.Unlock()
}

func (f *fakeFetcher) FetchStatus(_ context.Context, node NodeRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[node.Name] {
		return "", errors.New("i/o timeout")
	}
	return f.statuses[node.Name], nil
}

type fakeProber struct{ up bool }

func (p fakeProber) Reachable(context.Context, NodeRecord) bool { return p.up }

type fakeRelayer struct {
	mu      sync.Mutex
	sent    map[string][]string
	failFor map[string]bool
	errFor  map[string]error
}

func newFakeRelayer() *fakeRelayer {
	return &fakeRelayer{sent: map[string][]string{}, failFor: map[string]bool{}, errFor: map[string]error{}}
}

func (r *fakeRelayer) Relay(_ context.Context, name, address, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errFor[name]; err != nil {
		return err
	}
	if r.failFor[name] {
		return errors.New("connection refused")
	}
	r.sent[name] = append(r.sent[name], message)
	return nil
}

func threeNodes() []NodeSpec {
	return []NodeSpec{
		{Name: "keypad", IP: "10.0.0.11", Location: "Entry"},
		{Name: "safe", IP: "10.0.0.12", Location: "Office"},
		{Name: "lights", IP: "10.0.0.13", Location: "Hall"},
	}
}

type fixture struct {
	ctrl    *Controller
	store   *store.Memory
	fetcher *fakeFetcher
	relayer *fakeRelayer
	now     *time.Time
}

func newFixture(t *testing.T, specs []NodeSpec, opts ...Option) fixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	f := fixture{
		store:   store.NewMemory(),
		fetcher: newFakeFetcher(),
		relayer: newFakeRelayer(),
		now:     &now,
	}
	opts = append([]Option{
		WithFetcher(f.fetcher),
		WithProber(fakeProber{up: true}),
		WithNow(func() time.Time { return *f.now }),
	}, opts...)
	ctrl, err := NewController(f.store, "vault", specs, f.relayer, opts...)
	require.NoError(t, err)
	require.NoError(t, ctrl.Init(context.Background(), true))
	f.ctrl = ctrl
	return f
}

func TestAllReadyScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes())

	require.NoError(t, f.ctrl.UpdateStatus(ctx, "keypad", "READY"))
	require.NoError(t, f.ctrl.UpdateStatus(ctx, "safe", "OFFLINE"))
	require.NoError(t, f.ctrl.UpdateStatus(ctx, "lights", "OFFLINE"))
	assert.False(t, f.ctrl.AllReady(ctx))

	require.NoError(t, f.ctrl.UpdateStatus(ctx, "safe", "READY"))
	require.NoError(t, f.ctrl.UpdateStatus(ctx, "lights", "READY"))
	assert.True(t, f.ctrl.AllReady(ctx))

	require.NoError(t, f.ctrl.UpdateStatus(ctx, "safe", "ACTIVE"))
	assert.False(t, f.ctrl.AllReady(ctx))
	require.NoError(t, f.ctrl.UpdateStatus(ctx, "safe", "READY"))
	assert.True(t, f.ctrl.AllReady(ctx))
}

func TestAllReadyEmptyFleet(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.ctrl.AllReady(context.Background()))
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes())
	f.fetcher.set("keypad", "READY")
	f.fetcher.set("safe", "READY")
	f.fetcher.fail("lights")

	require.NoError(t, f.ctrl.RefreshAll(ctx))

	keypad, err := f.ctrl.Node(ctx, "keypad")
	require.NoError(t, err)
	assert.Equal(t, "READY", keypad.Status)
	assert.Equal(t, StatusOffline, keypad.StatusPrevious)
	assert.True(t, keypad.Reachable)

	lights, _ := f.ctrl.Node(ctx, "lights")
	assert.Equal(t, StatusError, lights.Status)
	assert.True(t, lights.Reachable, "probe result decides reachability")
	assert.False(t, f.ctrl.AllReady(ctx))
}

func TestRefreshUnreachableHost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes()[:1], WithProber(fakeProber{up: false}))
	f.fetcher.fail("keypad")

	require.NoError(t, f.ctrl.RefreshAll(ctx))
	rec, _ := f.ctrl.Node(ctx, "keypad")
	assert.Equal(t, StatusError, rec.Status)
	assert.False(t, rec.Reachable)
}

func TestRefreshReturnsStoreErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes())
	f.fetcher.set("keypad", "READY")
	require.NoError(t, f.store.Close())

	assert.Error(t, f.ctrl.RefreshAll(ctx))
}

func TestStatusTimeOnlyMovesOnChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes()[:1])

	require.NoError(t, f.ctrl.UpdateStatus(ctx, "keypad", "READY"))
	first, _ := f.ctrl.Node(ctx, "keypad")

	*f.now = f.now.Add(time.Minute)
	require.NoError(t, f.ctrl.UpdateStatus(ctx, "keypad", "READY"))
	second, _ := f.ctrl.Node(ctx, "keypad")
	assert.Equal(t, first.StatusTime, second.StatusTime)
	assert.False(t, second.Changed())

	*f.now = f.now.Add(time.Minute)
	require.NoError(t, f.ctrl.UpdateStatus(ctx, "keypad", "ACTIVE"))
	third, _ := f.ctrl.Node(ctx, "keypad")
	assert.Equal(t, f.now.Unix(), third.StatusTime)
	assert.True(t, third.Changed())
	assert.Equal(t, "READY", third.StatusPrevious)
}

func TestUnknownNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes())

	assert.ErrorIs(t, f.ctrl.UpdateStatus(ctx, "ghost", "READY"), ErrUnknownNode)
	assert.ErrorIs(t, f.ctrl.Relay(ctx, "ghost", "START"), ErrUnknownNode)
	_, err := f.ctrl.Node(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestRelay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes())

	require.NoError(t, f.ctrl.Relay(ctx, "safe", "OPEN"))
	assert.Equal(t, []string{"OPEN"}, f.relayer.sent["safe"])

	f.relayer.failFor["safe"] = true
	require.Error(t, f.ctrl.Relay(ctx, "safe", "OPEN"))
	rec, _ := f.ctrl.Node(ctx, "safe")
	assert.Equal(t, StatusError, rec.Status)
}

func TestRelayNodeFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes(), WithProber(fakeProber{up: false}))
	events.Clear()

	f.relayer.errFor["safe"] = fmt.Errorf("%w: safe: Relay Failed: STOP", transmit.ErrNodeFatal)
	err := f.ctrl.Relay(ctx, "safe", "STOP")
	require.ErrorIs(t, err, transmit.ErrNodeFatal)

	rec, _ := f.ctrl.Node(ctx, "safe")
	assert.Equal(t, StatusError, rec.Status)
	assert.True(t, rec.Reachable, "a node reporting a fatal error answered the relay")

	fatal := events.RecentEvents(0, "node.fatal")
	require.Len(t, fatal, 1)
	assert.Equal(t, "safe", fatal[0].Fields["node"])
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, threeNodes())
	f.relayer.failFor["safe"] = true

	f.ctrl.Broadcast(ctx, "ROOM_START")
	cancel()
	f.ctrl.Wait()

	assert.Equal(t, []string{"ROOM_START"}, f.relayer.sent["keypad"])
	assert.Equal(t, []string{"ROOM_START"}, f.relayer.sent["lights"])
	assert.Empty(t, f.relayer.sent["safe"])
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes())
	for _, n := range f.ctrl.Names() {
		require.NoError(t, f.ctrl.UpdateStatus(ctx, n, "COMPLETE"))
	}

	require.NoError(t, f.ctrl.ClearAll(ctx))
	for _, rec := range f.ctrl.Nodes(ctx) {
		assert.Equal(t, StatusOffline, rec.Status)
		assert.Equal(t, StatusOffline, rec.StatusPrevious)
		assert.False(t, rec.Reachable)
	}
}

func TestInitKeepsExistingRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeNodes())
	require.NoError(t, f.ctrl.UpdateStatus(ctx, "keypad", "READY"))

	other, err := NewController(f.store, "vault", threeNodes(), f.relayer)
	require.NoError(t, err)
	require.NoError(t, other.Init(ctx, false))

	rec, _ := other.Node(ctx, "keypad")
	assert.Equal(t, "READY", rec.Status, "a second worker must not clobber shared state")

	require.NoError(t, other.Init(ctx, true))
	rec, _ = other.Node(ctx, "keypad")
	assert.Equal(t, StatusOffline, rec.Status)
}

func TestNewControllerValidation(t *testing.T) {
	cases := map[string][]NodeSpec{
		"bad ip":     {{Name: "a", IP: "10.0.0"}},
		"duplicate":  {{Name: "a", IP: "10.0.0.1"}, {Name: "a", IP: "10.0.0.2"}},
		"colon name": {{Name: "a:b", IP: "10.0.0.1"}},
		"empty name": {{Name: "", IP: "10.0.0.1"}},
		"colon loc":  {{Name: "a", IP: "10.0.0.1", Location: "x:y"}},
	}
	for name, specs := range cases {
		_, err := NewController(store.NewMemory(), "vault", specs, newFakeRelayer())
		assert.Error(t, err, name)
	}

	ctrl, err := NewController(store.NewMemory(), "vault", []NodeSpec{{Name: "a", IP: "10.0.0.1"}}, newFakeRelayer())
	require.NoError(t, err)
	rec, _ := ctrl.Node(context.Background(), "a")
	assert.Equal(t, DefaultPort, rec.Port)
	assert.Equal(t, "http://10.0.0.1:12413", rec.Address())
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "Keypad status: ready\n")
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	status, err := HTTPFetcher{}.FetchStatus(context.Background(), NodeRecord{Name: "keypad", IP: host, Port: port})
	require.NoError(t, err)
	assert.Equal(t, "READY", status)
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus("  complete ")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", got)

	_, err = ParseStatus(" \n ")
	assert.Error(t, err)
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	p := TCPProber{Timeout: time.Second}
	node := NodeRecord{Name: "n", IP: "127.0.0.1", Port: port}
	assert.True(t, p.Reachable(context.Background(), node), "listening port")

	ln.Close()
	assert.True(t, p.Reachable(context.Background(), node), "refused connection still means the host is up")
}

func TestRecordEncoding(t *testing.T) {
	r := NodeRecord{Name: "keypad", IP: "10.0.0.11", Location: "Entry", Status: "READY", StatusPrevious: "OFFLINE", StatusTime: 42, Reachable: true}
	raw := r.Encode()
	assert.Equal(t, "keypad:10.0.0.11:Entry:READY:OFFLINE:42:True", raw)

	got, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	v6 := NodeRecord{Name: "n", IP: "fe80::1", Location: "", Status: "OFFLINE", StatusPrevious: "OFFLINE"}
	got, err = DecodeRecord(v6.Encode())
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", got.IP)
	assert.Equal(t, "http://[fe80::1]:80", NodeRecord{IP: "fe80::1", Port: 80}.Address())

	_, err = DecodeRecord("a:b:c")
	assert.Error(t, err)
	_, err = DecodeRecord("a:1.2.3.4:l:S:S:x:True")
	assert.Error(t, err)
	_, err = DecodeRecord("a:1.2.3.4:l:S:S:1:maybe")
	assert.Error(t, err)
}
