package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"wssimple/infrastructure/cache"
	"wssimple/infrastructure/ws"
	"wssimple/internal/entity"
	"wssimple/internal/usecase"

	"github.com/gorilla/websocket"
)

const recordTimeout = 5 * time.Second

type Config struct {
	AuthRequired        bool
	MaxConnectionsPerIP int
	// AllowedOrigins is matched against the Origin header; empty allows any.
	AllowedOrigins []string
}

type WebsocketHandler struct {
	server    ws.IServer
	authUc    usecase.AuthUsecase
	messageUc usecase.MessageUsecase
	limiter   *cache.MemCache
	upgrader  websocket.Upgrader
	config    Config
	logger    *slog.Logger
}

// NewWebsocketHandler builds the upgrade endpoint. messageUc may be nil when
// message history is disabled.
func NewWebsocketHandler(
	server ws.IServer,
	authUc usecase.AuthUsecase,
	messageUc usecase.MessageUsecase,
	limiter *cache.MemCache,
	config Config,
	logger *slog.Logger,
) *WebsocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebsocketHandler{
		server:    server,
		authUc:    authUc,
		messageUc: messageUc,
		limiter:   limiter,
		config:    config,
		logger:    logger.With("component", "ws_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// GET /ws
func (h *WebsocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing access token")
		return
	}

	ip := clientIP(r)
	if !h.acquire(ip) {
		h.logger.Warn("connection limit reached", "remote_ip", ip, "limit", h.config.MaxConnectionsPerIP)
		writeError(w, http.StatusTooManyRequests, "too many connections")
		return
	}
	defer h.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "remote_ip", ip, "error", err)
		return
	}

	opts := []ws.ConnectionOption{ws.WithRemoteAddr(r.RemoteAddr)}
	if claims != nil {
		opts = append(opts, ws.WithUserId(claims.UserId))
	}

	wsConn, err := h.server.Accept(r.Context(), conn, opts...)
	if err != nil {
		h.logger.Error("accept failed", "remote_ip", ip, "error", err)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable")
		if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
			h.logger.Debug("write close frame", "remote_ip", ip, "error", err)
		}
		if err := conn.Close(); err != nil {
			h.logger.Debug("close rejected connection", "remote_ip", ip, "error", err)
		}
		return
	}

	if err := h.server.StartReceiving(r.Context(), wsConn); err != nil {
		h.logger.Error("receive loop failed", "connection_id", wsConn.Id(), "error", err)
		if err := h.server.DisconnectConnection(context.Background(), wsConn); err != nil {
			h.logger.Debug("disconnect after receive failure", "connection_id", wsConn.Id(), "error", err)
		}
	}
}

// TrackedClients reports how many client IPs currently hold connection slots.
func (h *WebsocketHandler) TrackedClients() int {
	if h.limiter == nil {
		return 0
	}
	return h.limiter.Len()
}

// RecordHistory stores every sent and received message through the message
// use case until the returned func is called.
func (h *WebsocketHandler) RecordHistory() (unsubscribe func()) {
	if h.messageUc == nil {
		return func() {}
	}
	return h.server.OnMessage(h.HandleMessageEvent)
}

func (h *WebsocketHandler) HandleMessageEvent(event ws.MessageEvent) {
	if h.messageUc == nil || event.Connection == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	message := entity.Message{
		ConnectionId: event.Connection.Id(),
		UserId:       event.Connection.UserId(),
		Direction:    event.Type.String(),
		Binary:       event.MessageType == websocket.BinaryMessage,
		Message:      event.Message,
		Timestamp:    event.Timestamp.UnixMilli(),
	}
	if _, err := h.messageUc.Record(ctx, message); err != nil {
		h.logger.Error("record message failed", "connection_id", message.ConnectionId, "error", err)
	}
}

func (h *WebsocketHandler) authenticate(r *http.Request) (*entity.TokenClaims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		if h.config.AuthRequired {
			return nil, usecase.ErrMissingToken
		}
		return nil, nil
	}
	if h.authUc == nil {
		if h.config.AuthRequired {
			return nil, usecase.ErrAuthNotEnabled
		}
		return nil, nil
	}

	claims, err := h.authUc.ValidateAccessToken(token)
	if errors.Is(err, usecase.ErrAuthNotEnabled) && !h.config.AuthRequired {
		return nil, nil
	}
	return claims, err
}

func (h *WebsocketHandler) acquire(ip string) bool {
	if h.limiter == nil || h.config.MaxConnectionsPerIP <= 0 {
		return true
	}
	if h.limiter.Increment(limiterKey(ip), 1, 0) > int64(h.config.MaxConnectionsPerIP) {
		h.limiter.Decrement(limiterKey(ip), 1)
		return false
	}
	return true
}

func (h *WebsocketHandler) release(ip string) {
	if h.limiter == nil || h.config.MaxConnectionsPerIP <= 0 {
		return
	}
	h.limiter.Decrement(limiterKey(ip), 1)
}

func (h *WebsocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func limiterKey(ip string) string {
	return "conn:ip:" + ip
}

type errorResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Message: message})
}
