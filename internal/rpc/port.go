package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/walletd/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 256
)

// Port is one connected UI client. Frames are queued on a buffered channel
// drained by a single writer goroutine.
type Port struct {
	ID string

	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	server *Server
	log    *logging.Logger
}

// Send queues f. Frames for a closed port are dropped. A client that does
// not keep up with its buffer is disconnected.
func (p *Port) Send(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		p.log.Error("Failed to marshal frame", "id", f.ID, "error", err)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	select {
	case p.send <- data:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.log.Warn("Port send buffer full, disconnecting", "port", p.ID)
		p.close()
	}
}

// Context is cancelled when the port disconnects.
func (p *Port) Context() context.Context {
	return p.ctx
}

// close tears the port down once: cancels its context, cancels every
// subscription it opened and stops the writer.
func (p *Port) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.send)
	p.mu.Unlock()

	p.cancel()
	n := p.server.router.Subscriptions().CancelPort(p.ID)
	if p.server.metrics != nil {
		p.server.metrics.portClosed()
	}
	p.log.Debug("Port disconnected", "port", p.ID, "subscriptions", n)
}

// handlePort upgrades the request and serves it as a port.
func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	p := &Port{
		ID:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		server: s,
		log:    s.portLog,
	}
	if s.metrics != nil {
		s.metrics.portOpened()
	}
	p.log.Debug("Port connected", "port", p.ID, "remote", r.RemoteAddr)

	go p.writePump()
	go p.readPump()

	// Server shutdown unblocks the reader, which then tears the port down.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
}

// readPump reads frames until the connection fails, dispatching each on its
// own goroutine so a slow handler does not hold up the port.
func (p *Port) readPump() {
	defer func() {
		p.close()
		p.conn.Close()
	}()

	p.conn.SetReadLimit(p.server.maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Debug("Port read error", "port", p.ID, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.Send(Frame{Error: "invalid frame: " + err.Error()})
			continue
		}
		p.log.Debug("Port request", "port", p.ID, "id", msg.ID, "type", msg.Type)

		go func() {
			reply, release := p.server.router.Dispatch(p.ctx, p, msg)
			p.Send(reply)
			release()
		}()
	}
}

// writePump writes queued frames, one WebSocket message each, and pings.
func (p *Port) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
