package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// handleWebSocket upgrades a live reload connection and pumps broadcast
// messages to it until the client goes away.
func (s *DevServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Debug(r.Context(), "websocket upgrade failed", "error", err.Error())
		return
	}

	send := make(chan []byte, 16)

	s.clientsMutex.Lock()
	s.clients[conn] = send
	s.clientsMutex.Unlock()

	defer func() {
		s.clientsMutex.Lock()
		if ch, ok := s.clients[conn]; ok {
			delete(s.clients, conn)
			close(ch)
		}
		s.clientsMutex.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	go func() {
		// Drain reads so pings and close frames are processed.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// originPatterns lists the hosts allowed to open reload connections.
func (s *DevServer) originPatterns() []string {
	patterns := []string{
		fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		fmt.Sprintf("localhost:%d", s.cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.Port),
	}
	patterns = append(patterns, s.cfg.Server.AllowedOrigins...)
	return patterns
}

// broadcastReload tells every connected browser to do a full reload.
func (s *DevServer) broadcastReload() {
	msg := []byte(`{"type":"full_reload"}`)

	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	for _, send := range s.clients {
		select {
		case send <- msg:
		default:
			// Client is not keeping up, skip this reload.
		}
	}
}
