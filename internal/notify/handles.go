package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lalith-99/linedesk/internal/observ"
)

const handleBuffer = 32

// queue is the buffered mailbox shared by both stream kinds.
type queue struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newQueue() *queue {
	return &queue{
		events: make(chan Event, handleBuffer),
		done:   make(chan struct{}),
	}
}

func (q *queue) Send(ev Event) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.events <- ev:
		return nil
	case <-q.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

func (q *queue) Close() {
	q.once.Do(func() { close(q.done) })
}

type heartbeatData struct {
	Timestamp time.Time `json:"timestamp"`
}

// SSEHandle writes events as a text/event-stream response.
type SSEHandle struct {
	*queue
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEHandle sets the stream headers. It fails when the writer cannot
// flush.
func NewSSEHandle(w http.ResponseWriter) (*SSEHandle, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &SSEHandle{queue: newQueue(), w: w, flusher: flusher}, nil
}

func (h *SSEHandle) write(ev Event) error {
	data := ev.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if _, err := fmt.Fprintf(h.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	h.flusher.Flush()
	return nil
}

// Serve writes the connected event, then queued events and heartbeats
// until ctx ends, the handle is closed or a write fails.
func (h *SSEHandle) Serve(ctx context.Context, heartbeat time.Duration, hello Event) error {
	observ.StreamConnectionsActive.WithLabelValues("sse").Inc()
	defer observ.StreamConnectionsActive.WithLabelValues("sse").Dec()
	defer h.Close()

	if err := h.write(hello); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case ev := <-h.events:
			if err := h.write(ev); err != nil {
				return err
			}
		case t := <-ticker.C:
			ev, _ := NewEvent(EventHeartbeat, heartbeatData{Timestamp: t.UTC()})
			if err := h.write(ev); err != nil {
				return err
			}
		}
	}
}

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4 * 1024
)

// WSHandle writes events as JSON text frames on a websocket.
type WSHandle struct {
	*queue
	conn *websocket.Conn
}

func NewWSHandle(conn *websocket.Conn) *WSHandle {
	return &WSHandle{queue: newQueue(), conn: conn}
}

// readPump only exists to process pongs and notice the peer going away.
func (h *WSHandle) readPump(pongWait time.Duration) {
	defer h.Close()
	h.conn.SetReadLimit(maxInboundSize)
	_ = h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := h.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandle) write(ev Event) error {
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return h.conn.WriteJSON(ev)
}

// Serve pings every heartbeat and writes queued events until ctx ends,
// the peer disconnects or a write fails.
func (h *WSHandle) Serve(ctx context.Context, heartbeat time.Duration, hello Event) error {
	observ.StreamConnectionsActive.WithLabelValues("websocket").Inc()
	defer observ.StreamConnectionsActive.WithLabelValues("websocket").Dec()
	defer h.conn.Close()
	defer h.Close()

	go h.readPump(heartbeat * 2)

	if err := h.write(hello); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return nil
		case <-h.done:
			return nil
		case ev := <-h.events:
			if err := h.write(ev); err != nil {
				return err
			}
		case <-ticker.C:
			_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
