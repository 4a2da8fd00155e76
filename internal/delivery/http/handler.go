package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"wssimple/infrastructure/ws"
	"wssimple/internal/entity"
	"wssimple/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type HealthCheck func(ctx context.Context) error

type HttpHandler struct {
	connectionUc usecase.ConnectionUsecase
	messageUc    usecase.MessageUsecase
	healthChecks map[string]HealthCheck
	healthStats  map[string]func() int
	logger       *slog.Logger
}

// NewHttpHandler builds the admin API handlers. messageUc is nil when message
// history is disabled.
func NewHttpHandler(connectionUc usecase.ConnectionUsecase, messageUc usecase.MessageUsecase, logger *slog.Logger) *HttpHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HttpHandler{
		connectionUc: connectionUc,
		messageUc:    messageUc,
		healthChecks: map[string]HealthCheck{},
		healthStats:  map[string]func() int{},
		logger:       logger.With("component", "http_handler"),
	}
}

// AddHealthCheck registers a dependency checked by /healthz.
func (h *HttpHandler) AddHealthCheck(name string, check HealthCheck) {
	h.healthChecks[name] = check
}

// AddHealthStat reports a gauge under name in the /healthz payload.
func (h *HttpHandler) AddHealthStat(name string, stat func() int) {
	h.healthStats[name] = stat
}

// Method Get /healthz
func (h *HttpHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":      "ok",
		"connections": len(h.connectionUc.List(r.Context())),
	}
	for name, stat := range h.healthStats {
		status[name] = stat()
	}
	code := http.StatusOK
	for name, check := range h.healthChecks {
		if err := check(r.Context()); err != nil {
			h.logger.Warn("health check failed", "check", name, "error", err)
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, Response{Message: status["status"].(string), Data: status})
}

// Method Get /api/connections
func (h *HttpHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.connectionUc.List(r.Context()))
}

// Method Get /api/connections/{id}
func (h *HttpHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connectionUc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get connection", err)
		return
	}
	writeSuccess(w, conn)
}

// Method Delete /api/connections/{id}
func (h *HttpHandler) DisconnectConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.connectionUc.Disconnect(r.Context(), id); err != nil {
		h.writeError(w, "disconnect connection", err)
		return
	}
	writeSuccess(w, map[string]string{"connectionId": id})
}

// Method Post /api/connections/{id}/send
func (h *HttpHandler) SendToConnection(w http.ResponseWriter, r *http.Request) {
	var req entity.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.connectionUc.Send(r.Context(), id, req); err != nil {
		h.writeError(w, "send to connection", err)
		return
	}
	writeSuccess(w, map[string]string{"connectionId": id})
}

// Method Post /api/broadcast
func (h *HttpHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req entity.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	delivered, err := h.connectionUc.Broadcast(r.Context(), req)
	if err != nil {
		h.writeError(w, "broadcast", err)
		return
	}
	writeSuccess(w, map[string]int{"delivered": delivered})
}

// Method Get /api/connections/{id}/messages
func (h *HttpHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	if h.messageUc == nil {
		writeMessage(w, http.StatusNotFound, "message history is disabled")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid offset")
		return
	}

	messages, err := h.messageUc.History(r.Context(), entity.MessageIndexFilter{
		ConnectionId: chi.URLParam(r, "id"),
		Direction:    r.URL.Query().Get("direction"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.writeError(w, "list messages", err)
		return
	}
	writeSuccess(w, messages)
}

// Method Delete /api/connections/{id}/messages
func (h *HttpHandler) DeleteMessages(w http.ResponseWriter, r *http.Request) {
	if h.messageUc == nil {
		writeMessage(w, http.StatusNotFound, "message history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	deleted, err := h.messageUc.Purge(r.Context(), id)
	if err != nil {
		h.writeError(w, "delete messages", err)
		return
	}
	h.logger.Info("message history purged", "connection_id", id, "deleted", deleted)
	writeSuccess(w, map[string]any{"connectionId": id, "deleted": deleted})
}

// Method Get /api/users/{userId}/connections
func (h *HttpHandler) ListUserConnections(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.connectionUc.ListByUser(r.Context(), chi.URLParam(r, "userId")))
}

func (h *HttpHandler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, usecase.ErrConnectionNotFound), errors.Is(err, ws.ErrConnectionNotFound):
		writeMessage(w, http.StatusNotFound, "connection not found")
	case errors.Is(err, usecase.ErrConnectionRemote):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, usecase.ErrEmptyMessage):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrSendFailed):
		writeMessage(w, http.StatusGone, err.Error())
	default:
		h.logger.Error(op+" failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
