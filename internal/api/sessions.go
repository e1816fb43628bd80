package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/aiderterm/internal/hub"
	"github.com/user/aiderterm/internal/session"
)

const maxListLimit = 500

type statusResponse struct {
	session.Status
	Clients int `json:"clients"`
}

type modelsResponse struct {
	Models  []hub.ModelInfo `json:"models"`
	Current string          `json:"current,omitempty"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h *handler) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: h.coord.Status()}
	if h.clients != nil {
		resp.Clients = h.clients.ClientCount()
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	models := h.models
	if models == nil {
		models = []hub.ModelInfo{}
	}
	jsonResponse(w, http.StatusOK, modelsResponse{Models: models, Current: h.coord.CurrentModel()})
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		jsonError(w, http.StatusServiceUnavailable, "session history is disabled")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			jsonError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	records, err := h.sessions.ListRecent(r.Context(), limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, records)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		jsonError(w, http.StatusServiceUnavailable, "session history is disabled")
		return
	}
	rec, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := h.coord.SendMessage(req.Text); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			jsonError(w, http.StatusConflict, err.Error())
			return
		}
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *handler) stopSession(w http.ResponseWriter, r *http.Request) {
	h.coord.Stop()
	jsonResponse(w, http.StatusOK, h.coord.Status())
}
