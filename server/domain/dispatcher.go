package domain

import "context"

//go:generate go tool mockgen -destination=./mocks/dispatcher_mock.go -package=mocks . Dispatcher

// Dispatcher はサーバー層からアプリケーション層へのイベント配送を担当します。
type Dispatcher interface {
	// Dispatch は要求を処理し、同じ seq を持つ応答を返します。
	Dispatch(ctx context.Context, sessionID SessionID, req *Request) *Response
	// Disconnect はセッション終了をアプリケーションに通知します。
	Disconnect(ctx context.Context, sessionID SessionID)
}
