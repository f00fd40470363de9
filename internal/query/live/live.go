// Package live implements the /ws/metrics live-push channel of spec.md
// §4.5.3: a per-connection tailing cursor over C2, not a pub/sub fan-out
// from C4 (per spec.md §9's explicit re-architecture guidance).
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

// Config holds the live channel's tunables, mirroring config.QueryConfig.
type Config struct {
	PollInterval time.Duration
	BufferSize   int
	Heartbeat    time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlFrame is sent when the bounded send buffer overflows.
type controlFrame struct {
	Type    string `json:"type"`
	Dropped int    `json:"dropped"`
}

// dataFrame wraps one tailed row for the wire.
type dataFrame struct {
	Type string    `json:"type"`
	Row  model.Row `json:"row"`
}

// Serve upgrades the HTTP request to a WebSocket and tails s for rows
// matching service until the client disconnects or the context ends.
func Serve(w http.ResponseWriter, r *http.Request, service string, s store.Adapter, cfg Config, log *zap.Logger) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	send := make(chan []byte, cfg.BufferSize)
	done := make(chan struct{})

	go writePump(conn, send, cfg.Heartbeat, done, log)
	go readPump(conn, done) // drains control frames / detects client close

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	cursor := time.Now()
	var dropped int

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), cfg.PollInterval)
			rows, err := s.QueryRange(ctx, store.Filter{ServiceName: service}, store.Window{Start: cursor.Add(time.Millisecond), End: time.Now()}, cfg.BufferSize)
			cancel()
			if err != nil {
				log.Warn("live tail query failed", zap.Error(err))
				continue
			}
			if len(rows) == 0 {
				continue
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
			cursor = rows[len(rows)-1].Timestamp

			for _, row := range rows {
				payload, _ := json.Marshal(dataFrame{Type: "row", Row: row})
				select {
				case send <- payload:
				default:
					// buffer full: drop the oldest queued frame to make
					// room, per spec.md's "drop-oldest + dropped=N" rule.
					<-send
					send <- payload
					dropped++
				}
			}
			if dropped > 0 {
				frame, _ := json.Marshal(controlFrame{Type: "dropped", Dropped: dropped})
				select {
				case send <- frame:
				default:
				}
				dropped = 0
			}
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte, heartbeat time.Duration, done chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	missed := 0

	conn.SetPongHandler(func(string) error {
		missed = 0
		return nil
	})

	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				closeOnce(done)
				return
			}
		case <-ticker.C:
			missed++
			if missed >= 2 {
				closeOnce(done)
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				closeOnce(done)
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeOnce(done)
			return
		}
	}
}

func closeOnce(done chan struct{}) {
	select {
	case <-done:
	default:
		close(done)
	}
}
