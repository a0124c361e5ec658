package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gcode-host/pkg/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsClient is one websocket connection. Outbound messages go through a
// buffered channel so the broadcast loop never blocks on a slow client.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	logger *log.Logger

	outbound chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:       atomic.AddInt64(&s.nextWSID, 1),
		conn:     conn,
		server:   s,
		logger:   s.logger,
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
	}

	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	s.wsClientMu.Unlock()

	s.logger.Info("websocket client %d connected from %s", client.id, r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// send queues a JSON message for delivery. Messages are dropped when the
// client's buffer is full.
func (c *wsClient) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Warn("websocket marshal failed")
		return
	}
	select {
	case c.outbound <- data:
	case <-c.done:
	default:
		c.logger.Warn("websocket client %d send buffer full, dropping message", c.id)
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// unregister removes the client from the server's tables.
func (c *wsClient) unregister() {
	c.server.wsClientMu.Lock()
	delete(c.server.wsClients, c.id)
	c.server.wsClientMu.Unlock()

	c.server.subMu.Lock()
	delete(c.server.subscriptions, c.id)
	c.server.subMu.Unlock()
}

func (c *wsClient) readPump() {
	defer func() {
		c.unregister()
		c.close()
		c.logger.Info("websocket client %d disconnected", c.id)
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("websocket read error")
			}
			return
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &jsonRPCError{Code: -32700, Message: "Parse error"},
			})
			continue
		}

		result, err := c.server.dispatchMethod(req.Method, req.Params, c)
		if err != nil {
			c.send(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &jsonRPCError{Code: -32000, Message: err.Error()},
				ID:      req.ID,
			})
			continue
		}
		if req.ID != nil {
			c.send(jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
