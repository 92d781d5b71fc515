package handler

import (
	"encoding/json"
	"net/http"
)

// LobbyCounter は稼働中のロビー数を返します。
type LobbyCounter interface {
	LobbyCount() int
}

func NewHealthHandler(lobbies LobbyCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"lobbies": lobbies.LobbyCount(),
		})
	}
}
