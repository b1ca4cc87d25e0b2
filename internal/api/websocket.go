package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lodomo/EscapeWright/internal/events"
)

const (
	// Backlog sent to a console that connects without ?since.
	replayCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Operator consoles are served from another origin on the room LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamQuery is the parsed form of /ws/events?topic=node&topic=clock&since=42.
type streamQuery struct {
	topics []string
	since  uint64
	resume bool
}

func parseStreamQuery(q url.Values) (streamQuery, error) {
	sq := streamQuery{topics: q["topic"]}
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return sq, fmt.Errorf("invalid since %q", v)
		}
		sq.since, sq.resume = n, true
	}
	return sq, nil
}

// backlog is what a new connection sees before live events.
func (sq streamQuery) backlog() []events.Event {
	if sq.resume {
		return events.EventsSince(sq.since, sq.topics...)
	}
	return events.RecentEvents(replayCount, sq.topics...)
}

// wsEventsHandler streams the event log to an operator console. The
// subscription is taken before the backlog is read, and anything already in
// the backlog is skipped on the live side by sequence number.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	sq, err := parseStreamQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := events.Subscribe(sq.topics...)
	defer sub.Close()

	var last uint64
	for _, e := range sq.backlog() {
		if err := writeEvent(conn, e); err != nil {
			log.Printf("ws replay failed: %v", err)
			return
		}
		last = e.Seq
	}

	// The reader only exists to process pongs and notice the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if e.Seq <= last {
				continue
			}
			if err := writeEvent(conn, e); err != nil {
				log.Printf("ws write failed after %d dropped: %v", sub.Dropped(), err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
