package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/packager/internal/watcher"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// HotMessage is pushed to the hot reloading client for every file change.
type HotMessage struct {
	Type string              `json:"type"`
	Body watcher.ChangeEvent `json:"body"`
}

// hotClient is a connected hot reloading client.
type hotClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

// handleHot attaches a hot reloading client. While it is connected the
// tracker defers cache invalidation and forwards changes to it instead.
// trackHotClient registers a hot client with Shutdown. It fails once
// Shutdown started, so no client is added after Shutdown began waiting.
func (s *Server) trackHotClient() bool {
	s.hotMutex.Lock()
	defer s.hotMutex.Unlock()
	if s.hotClosed || s.ctx.Err() != nil {
		return false
	}
	s.hotClients.Add(1)
	return true
}

func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	if !s.trackHotClient() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is shutting down"})
		return
	}
	defer s.hotClients.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &hotClient{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	release := s.tracker.SetHMRListener(client.enqueue)
	s.logger.Info(r.Context(), "Hot reloading client connected", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(s.ctx)
	go client.writePump(ctx, cancel)
	client.readPump(ctx)

	cancel()
	close(client.done)
	release()
	conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info(r.Context(), "Hot reloading client disconnected", "remote_addr", r.RemoteAddr)
}

// enqueue runs on the tracker's goroutine and must not block.
func (c *hotClient) enqueue(event watcher.ChangeEvent) {
	message, err := json.Marshal(HotMessage{Type: "change", Body: event})
	if err != nil {
		c.server.logger.Warn(context.Background(), err, "Failed to encode hot message")
		return
	}

	select {
	case <-c.done:
	case c.send <- message:
	default:
		c.server.logger.Warn(context.Background(), nil, "Hot client is not keeping up, dropping change", "path", event.Path)
	}
}

// readPump drains the connection until the peer goes away.
func (c *hotClient) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.server.logger.Debug(ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *hotClient) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message := <-c.send:
			writeCtx, writeCancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			writeCancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		}
	}
}

// originPatterns turns the allowed origins into host patterns. Requests
// without an Origin header, as sent by native clients, are always accepted.
func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.config.Server.AllowedOrigins))
	for _, origin := range s.config.Server.AllowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
