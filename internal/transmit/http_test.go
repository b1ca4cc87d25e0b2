package transmit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestHTTPSenderPaths(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		mu.Lock()
		paths = append(paths, r.URL.EscapedPath())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL + "/")
	ctx := context.Background()
	msgs := []Message{
		{Kind: KindTrigger, Source: "keypad", Body: "KEYPAD_SOLVED"},
		{Kind: KindStatus, Source: "keypad", Body: "READY"},
		{Kind: KindRelay, Target: "safe", Address: srv.URL, Body: "ROOM START"},
	}
	for _, m := range msgs {
		if err := s.Send(ctx, m); err != nil {
			t.Fatalf("Send(%s) failed: %v", m, err)
		}
	}

	want := []string{"/trigger/KEYPAD_SOLVED", "/update_status/keypad/READY", "/relay/ROOM%20START"}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("path[%d] = %q, want %q", i, paths[i], p)
		}
	}
}

func TestHTTPSenderStatusCodes(t *testing.T) {
	code := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL)
	msg := Message{Kind: KindTrigger, Source: "keypad", Body: "X"}

	err := s.Send(context.Background(), msg)
	if err == nil || isPermanent(err) {
		t.Errorf("5xx should be retryable, got %v", err)
	}

	code = http.StatusNotFound
	err = s.Send(context.Background(), msg)
	if !isPermanent(err) {
		t.Errorf("4xx should be permanent, got %v", err)
	}
}

func TestRelayToFatalNodeIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set(FatalHeader, "join-timeout")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Relay Failed: STOP"))
	}))
	defer srv.Close()

	tx := New(NewHTTPSender(""), fast()...)
	err := tx.Relay(context.Background(), "safe", srv.URL, "STOP")
	if !errors.Is(err, ErrNodeFatal) {
		t.Fatalf("expected ErrNodeFatal, got %v", err)
	}
	if !strings.Contains(err.Error(), "Relay Failed: STOP") {
		t.Errorf("error lost the node's reply: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("node received %d attempts, want exactly 1", got)
	}
}

func TestHTTPSenderMissingURL(t *testing.T) {
	s := NewHTTPSender("")
	err := s.Send(context.Background(), Message{Kind: KindStatus, Source: "a", Body: "READY"})
	if !isPermanent(err) {
		t.Errorf("missing control url should be permanent, got %v", err)
	}
	err = s.Send(context.Background(), Message{Kind: KindRelay, Target: "a", Body: "X"})
	if !isPermanent(err) {
		t.Errorf("missing node address should be permanent, got %v", err)
	}
}

type recordingPublisher struct {
	topics   []string
	payloads []string
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload))
	return p.err
}

func TestMQTTSenderTopics(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewMQTTSender(pub, "escapewright/vault")
	ctx := context.Background()

	_ = s.Send(ctx, Message{Kind: KindTrigger, Source: "keypad", Body: "KEYPAD_SOLVED"})
	_ = s.Send(ctx, Message{Kind: KindStatus, Source: "keypad", Body: "COMPLETE"})
	_ = s.Send(ctx, Message{Kind: KindRelay, Target: "safe", Body: "RESET"})

	want := []string{
		"escapewright/vault/trigger/keypad",
		"escapewright/vault/status/keypad",
		"escapewright/vault/relay/safe",
	}
	for i, topic := range want {
		if pub.topics[i] != topic {
			t.Errorf("topic[%d] = %q, want %q", i, pub.topics[i], topic)
		}
	}
	if pub.payloads[2] != "RESET" {
		t.Errorf("payload = %q", pub.payloads[2])
	}

	pub.err = errors.New("not connected")
	if err := s.Send(ctx, Message{Kind: KindTrigger, Source: "a", Body: "b"}); err == nil {
		t.Error("expected publish error")
	}
}
