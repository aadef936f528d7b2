package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tanav.me/pong/internal/config"
	"tanav.me/pong/internal/protocol"
	"tanav.me/pong/internal/supervisor"
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errClientClosed   = errors.New("client closed")
	errUnknownMessage = errors.New("unknown message type")
)

// client is one websocket connection. Frames queued with Send are written by
// writePump; a slow reader loses frames rather than stalling a match.
type client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type wsServer struct {
	sup      *supervisor.Supervisor
	upgrader websocket.Upgrader
	opts     wsOptions
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

type wsOptions struct {
	SendBuffer   int
	ReadLimit    int64
	PongWait     time.Duration
	PingInterval time.Duration
	WriteWait    time.Duration
}

func newWSServer(sup *supervisor.Supervisor, cfg *config.Config, logger *slog.Logger) *wsServer {
	allowed := make(map[string]struct{}, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &wsServer{
		sup: sup,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		opts: wsOptions{
			SendBuffer:   cfg.WebSocket.SendBuffer,
			ReadLimit:    cfg.WebSocket.ReadLimit,
			PongWait:     cfg.WebSocket.PongWait,
			PingInterval: cfg.WebSocket.PingInterval,
			WriteWait:    cfg.WebSocket.WriteWait,
		},
		logger:  logger,
		clients: make(map[string]*client),
	}
}

func (s *wsServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.opts.SendBuffer),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.sup.Attach(c.id, c)
	s.logger.Debug("connection opened", "participant_id", c.id, "remote_addr", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

// closeAll drops every open connection; their read pumps then run the
// normal leave path.
func (s *wsServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
}

func (s *wsServer) readPump(c *client) {
	defer func() {
		s.sup.Leave(c.id)
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.close()
		_ = c.conn.Close()
		s.logger.Debug("connection closed", "participant_id", c.id)
	}()

	c.conn.SetReadLimit(s.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("read", "participant_id", c.id, "error", err)
			}
			return
		}
		s.dispatch(c, data)
	}
}

func (s *wsServer) writePump(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one client frame to the supervisor. Bad or out-of-turn
// messages are logged and dropped.
func (s *wsServer) dispatch(c *client, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.logger.Debug("message dropped", "participant_id", c.id, "error", err)
		return
	}

	switch env.Type {
	case protocol.MsgJoin:
		var p protocol.Join
		if p, err = protocol.DecodePayload[protocol.Join](env); err == nil {
			err = s.sup.Join(c.id, p.DisplayName)
		}
	case protocol.MsgClaimSide:
		var p protocol.ClaimSide
		if p, err = protocol.DecodePayload[protocol.ClaimSide](env); err == nil {
			err = s.sup.ClaimSide(c.id, p.Side)
		}
	case protocol.MsgPaddleInput:
		var p protocol.PaddleInput
		if p, err = protocol.DecodePayload[protocol.PaddleInput](env); err == nil {
			var y float64
			if y, err = p.Number(); err == nil {
				err = s.sup.MovePaddle(c.id, y)
			}
		}
	case protocol.MsgDeviceClass:
		var p protocol.DeviceClass
		if p, err = protocol.DecodePayload[protocol.DeviceClass](env); err == nil {
			err = s.sup.ReportDeviceClass(c.id, p.IsMobile)
		}
	default:
		err = fmt.Errorf("%w: %q", errUnknownMessage, env.Type)
	}

	if err != nil {
		s.logger.Debug("message dropped", "participant_id", c.id, "type", env.Type, "error", err)
	}
}
