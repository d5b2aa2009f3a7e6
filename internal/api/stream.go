package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var ErrStreamBacklog = errors.New("stream backlog full")

const streamWriteTimeout = 5 * time.Second

// StreamMessage is the frame pushed to websocket clients.
type StreamMessage struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// StreamHub fans workflow events out to connected websocket clients. It
// implements hermes.Client so the engine publishes to it like any broker.
type StreamHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]string // conn -> document id filter
	msgCh   chan StreamMessage
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

func NewStreamHub(logger *slog.Logger) *StreamHub {
	return &StreamHub{
		clients: make(map[*websocket.Conn]string),
		msgCh:   make(chan StreamMessage, 256),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Publish never blocks the caller. A full backlog drops the event.
func (h *StreamHub) Publish(subject string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	case h.msgCh <- StreamMessage{Subject: subject, Data: raw}:
		return nil
	default:
		return ErrStreamBacklog
	}
}

// Run broadcasts queued events until ctx is cancelled or the hub is closed.
func (h *StreamHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-h.msgCh:
			h.broadcast(msg)
		}
	}
}

func (h *StreamHub) broadcast(msg StreamMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, docID := range h.clients {
		if docID != "" && !strings.Contains(msg.Subject, "."+docID+".") {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Debug("dropping stream client", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Clients reports the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and keeps the connection registered
// until the client goes away. ?document_id limits the stream to one document.
func (h *StreamHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = r.URL.Query().Get("document_id")
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for conn := range h.clients {
			conn.Close()
			delete(h.clients, conn)
		}
	})
}
