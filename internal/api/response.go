package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorBody is the shape of every non-2xx response.
type errorBody struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write api response", "status", status, "error", err)
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message, Status: http.StatusText(status)})
}
