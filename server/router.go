package server

import (
	"net/http"

	"eartheater/server/handler"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Route はWebSocketとヘルスチェックのルーティングを構築します。
func Route(accept *handler.AcceptHandler, lobbies handler.LobbyCounter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", accept)
	mux.Handle("/healthz", handler.NewHealthHandler(lobbies))
	return otelhttp.NewHandler(mux, "eartheater")
}
