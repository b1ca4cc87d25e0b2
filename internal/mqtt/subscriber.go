package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/lodomo/EscapeWright/internal/events"
)

// Subscriber is the part of Client a Listener needs.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// HandlerFunc receives the last topic segment (the node name) and the payload.
type HandlerFunc func(ctx context.Context, name, payload string)

// Listener routes topic filters to handlers and tracks which filters are
// subscribed so reconnects do not double-subscribe.
type Listener struct {
	mu         sync.RWMutex
	client     Subscriber
	routes     map[string]HandlerFunc
	subscribed map[string]bool
	timeout    time.Duration
}

func NewListener(client Subscriber) *Listener {
	return &Listener{
		client:     client,
		routes:     make(map[string]HandlerFunc),
		subscribed: make(map[string]bool),
		timeout:    10 * time.Second,
	}
}

// Handle registers h for filter. Call SubscribeAll afterwards.
func (l *Listener) Handle(filter string, h HandlerFunc) {
	l.mu.Lock()
	l.routes[filter] = h
	l.mu.Unlock()
}

// SubscribeAll subscribes every route that is not yet subscribed.
func (l *Listener) SubscribeAll() error {
	l.mu.RLock()
	pending := make(map[string]HandlerFunc)
	for filter, h := range l.routes {
		if !l.subscribed[filter] {
			pending[filter] = h
		}
	}
	l.mu.RUnlock()

	var errs []error
	for filter, h := range pending {
		if err := l.client.Subscribe(filter, l.createHandler(h)); err != nil {
			events.Error("system.error", "mqtt subscribe failed", map[string]interface{}{
				"topic": filter,
				"error": err.Error(),
			})
			errs = append(errs, err)
			continue
		}
		l.mu.Lock()
		l.subscribed[filter] = true
		l.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (l *Listener) createHandler(h HandlerFunc) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		h(ctx, lastSegment(msg.Topic()), strings.TrimSpace(string(msg.Payload())))
	}
}

// IsSubscribed returns true if the filter is already subscribed.
func (l *Listener) IsSubscribed(filter string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.subscribed[filter]
}

// ClearSubscriptions forgets subscription state so the next SubscribeAll
// re-subscribes everything. Called after a reconnect.
func (l *Listener) ClearSubscriptions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribed = make(map[string]bool)
}
