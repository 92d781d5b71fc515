package handler

import (
	"log/slog"
	"net/http"

	adapterwebsocket "eartheater/server/adapter/websocket"
	"eartheater/server/domain"

	"github.com/coder/websocket"
)

type AcceptHandler struct {
	pubsub     domain.PubSub
	dispatcher domain.Dispatcher
	codec      domain.Codec
	cfg        domain.EndpointConfig
}

func NewAcceptHandler(pubsub domain.PubSub, dispatcher domain.Dispatcher, codec domain.Codec, cfg domain.EndpointConfig) *AcceptHandler {
	return &AcceptHandler{pubsub: pubsub, dispatcher: dispatcher, codec: codec, cfg: cfg}
}

func (h *AcceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // 開発用: Origin チェックをスキップ
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to accept", "err", err)
		return
	}
	// gameStateUpdate は地形の点列を含むため既定の読み込み上限を緩める
	conn.SetReadLimit(1 << 20)

	session := domain.NewSession()
	transport := adapterwebsocket.NewTransportFrom(conn, h.codec.Binary())
	connection := domain.NewConnection(session.ID(), transport)
	endpoint, err := domain.NewSessionEndpoint(ctx, session, connection, h.pubsub, h.dispatcher, h.codec, h.cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create session endpoint", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "initialization failed")
		return
	}
	slog.DebugContext(ctx, "accepted new connection", "sessionID", session.ID(), "codec", h.codec.Name())
	err = endpoint.Run()
	if err != nil {
		slog.ErrorContext(ctx, "failed to run session endpoint", "sessionID", session.ID(), "err", err)
		return
	}
	slog.DebugContext(ctx, "session ended", "sessionID", session.ID())
}
