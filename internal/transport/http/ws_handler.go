package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"million-dialogue/internal/gateway"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8 << 10
)

// WSOptions sizes the per-connection queues.
type WSOptions struct {
	EventBuffer int
	ReplyBuffer int
}

type WSHandler struct {
	dispatcher *gateway.Dispatcher
	auth       gateway.Authenticator
	opts       WSOptions
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func NewWSHandler(dispatcher *gateway.Dispatcher, auth gateway.Authenticator, opts WSOptions, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		dispatcher: dispatcher,
		auth:       auth,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// ServeWS upgrades the request and pumps frames between the socket and a
// gateway session. A token in the Authorization header or the token query
// parameter authenticates the connection up front; without one the client
// must send an authenticate action first.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	session := gateway.NewSession(h.opts.EventBuffer, h.opts.ReplyBuffer, h.logger)
	if token := bearerToken(r); token != "" {
		identity, err := h.auth.Authenticate(token)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		session.Authenticate(identity)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(slog.String("connection", session.ConnectionID()))
	logger.Debug("connection opened")

	writerDone := make(chan struct{})
	go h.writePump(conn, session, logger, writerDone)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws read error", slog.Any("error", err))
			}
			break
		}
		resp := h.dispatcher.Handle(ctx, session, raw)
		if !session.Reply(ctx, resp) {
			break
		}
	}

	h.dispatcher.Disconnect(context.WithoutCancel(ctx), session)
	<-writerDone
	logger.Debug("connection closed", slog.Uint64("dropped_events", session.Dropped()))
}

// writePump is the only goroutine that writes to conn.
func (h *WSHandler) writePump(conn *websocket.Conn, session *gateway.Session, logger *slog.Logger, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			logger.Debug("ws write error", slog.Any("error", err))
			session.Close()
			_ = conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case resp := <-session.Replies():
			if !write(resp) {
				return
			}
		case msg := <-session.Events():
			if !write(msg) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				session.Close()
				_ = conn.Close()
				return
			}
		case <-session.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
