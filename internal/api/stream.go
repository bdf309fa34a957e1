package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/orderexec/engine/internal/push"
	"github.com/orderexec/engine/internal/storage"
)

var upgrader = websocket.Upgrader{
	// Push-channel subscribers are trusted front-end clients; the
	// engine does not enforce an origin allowlist here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsChannel adapts a single gorilla/websocket connection to push.Channel.
// gorilla connections are not safe for concurrent writes, so every Send
// is serialized through mu.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsChannel) close() {
	_ = c.conn.Close()
}

// handleStream upgrades the connection and drives the push-channel
// protocol of §6: a connected frame, a deferred snapshot, then one
// frame per subsequent transition, with ping/pong handled inline.
func (s *Server) handleStream(c *gin.Context) {
	orderID := c.Param("orderId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("orderId", orderID).Msg("stream: upgrade failed")
		return
	}

	ch := &wsChannel{conn: conn}
	defer ch.close()

	s.registry.Register(orderID, ch)
	defer s.registry.Unregister(ch)

	connected, _ := json.Marshal(push.ConnectedFrame(orderID))
	if err := ch.Send(connected); err != nil {
		return
	}

	go s.deferredSnapshot(orderID, ch)

	s.pumpClientMessages(conn, ch)
}

// deferredSnapshot sends the synthetic update frame ~300ms after open,
// reflecting whatever the persisted row looks like at that moment —
// this is what lets a client that subscribes after creation still see
// the order's current state even if no further transition ever occurs.
func (s *Server) deferredSnapshot(orderID string, ch *wsChannel) {
	time.Sleep(s.snapshotDelay)

	order, err := s.store.Get(context.Background(), orderID)
	if errors.Is(err, storage.ErrOrderNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("orderId", orderID).Msg("stream: snapshot lookup failed")
		return
	}

	frame, err := json.Marshal(push.SnapshotFrame(order))
	if err != nil {
		return
	}
	_ = ch.Send(frame)
}

// pumpClientMessages reads frames from the client until it disconnects,
// answering {type:"ping"} with {type:"pong"}. Any other client frame is
// ignored — the protocol is otherwise server-to-client only.
func (s *Server) pumpClientMessages(conn *websocket.Conn, ch *wsChannel) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(push.PongFrame())
			if err := ch.Send(pong); err != nil {
				return
			}
		}
	}
}
