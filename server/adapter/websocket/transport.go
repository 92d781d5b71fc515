package adapterwebsocket

import (
	"context"

	"eartheater/server/domain"

	"github.com/coder/websocket"
)

type wsTransport struct {
	conn    *websocket.Conn
	msgType websocket.MessageType
}

// NewTransportFrom は WebSocket 接続を Transport に変換します。
// binary が true ならバイナリフレームで書き込みます。
func NewTransportFrom(conn *websocket.Conn, binary bool) domain.Transport {
	msgType := websocket.MessageText
	if binary {
		msgType = websocket.MessageBinary
	}
	return &wsTransport{conn: conn, msgType: msgType}
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, t.msgType, data)
}

// Ping は pong の受信には Read が並行して呼ばれている必要があります。
func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close(code int32, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}
