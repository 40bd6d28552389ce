package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SteamVC/pairchat/internal/service"
)

type RoomHandler struct {
	svc    *service.RoomService
	logger *slog.Logger
}

func NewRoomHandler(s *service.RoomService, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{svc: s, logger: logger}
}

// Create は未使用のルームコードを発行します
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.NewCode()
	if err != nil {
		h.logger.Error("create room code failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "code": code})
}

// Get はルームの概要を返します
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := normalizeID(chi.URLParam(r, "code"))
	if err := validateRoomCode(code); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, ok, err := h.svc.Get(code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]any{"exists": false, "code": code})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"exists":           true,
		"code":             sum.Code,
		"participantCount": sum.ParticipantCount,
		"messageCount":     sum.MessageCount,
		"createdAt":        sum.CreatedAt,
		"lastActivityAt":   sum.LastActivityAt,
	})
}

// Health は死活監視用のエンドポイントです
func Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *RoomHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch err {
	case service.ErrInvalidRoomCode:
		respondError(w, http.StatusBadRequest, err.Error())
	case service.ErrRoomNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("room request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
