package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// client wraps one authenticated websocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster fans a published Event out to every connected websocket
// subscriber.
type Broadcaster struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	seq     uint64
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the connection and registers it as a subscriber
// until the connection closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("event bus upgrade failed")
		return
	}

	id := r.RemoteAddr + "-" + time.Now().Format("150405.000000")
	c := &client{id: id, conn: conn}

	b.mu.Lock()
	b.clients[id] = c
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, id)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type envelope struct {
	WorkerID  string `json:"workerId"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Event     Event  `json:"event"`
}

// Publish implements Bus by broadcasting the event to every connected
// subscriber. It never returns an error: a disconnected subscriber is
// simply dropped and logged, fan-out is best-effort.
func (b *Broadcaster) Publish(ctx context.Context, workerID string, event Event) error {
	msg := envelope{
		WorkerID:  workerID,
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
		Timestamp: time.Now().UnixMilli(),
		Event:     event,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("workerId", workerID).Msg("failed to marshal event")
		return err
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			b.logger.Warn().Err(err).Str("clientId", c.id).Msg("dropping unresponsive event subscriber")
		}
	}
	return nil
}
