package domain

import "context"

// Server はHTTPサーバーのライフサイクルです。
type Server interface {
	Serve() error
	Shutdown(ctx context.Context) error
	Close() error
	Addr() string
}
