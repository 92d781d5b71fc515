package domain

import (
	"context"
	"log/slog"
	"time"
)

// Pinger は疎通確認の送信先です。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HeartbeatService は定期的にpingを送信する死活監視サービスです。
type HeartbeatService struct {
	pingInterval time.Duration
	session      *Session
	pinger       Pinger
	onResult     func(err error)
}

// NewHeartbeatService は新しいHeartbeatServiceを生成します。
// onResult は ping ごとに結果を受け取ります (nil 可)。
func NewHeartbeatService(pingInterval time.Duration, session *Session, pinger Pinger, onResult func(err error)) *HeartbeatService {
	return &HeartbeatService{
		pingInterval: pingInterval,
		session:      session,
		pinger:       pinger,
		onResult:     onResult,
	}
}

// Run はpingInterval間隔でpingを送信します。
// 応答があればセッションの pong 時刻を更新します。ctxがキャンセルされると終了します。
func (h *HeartbeatService) Run(ctx context.Context) {
	if h.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.pingInterval)
			err := h.pinger.Ping(pingCtx)
			cancel()
			if err == nil {
				h.session.TouchPong()
				slog.DebugContext(ctx, "heartbeat: pong received", "sessionID", h.session.ID())
			} else if ctx.Err() == nil {
				slog.WarnContext(ctx, "heartbeat: ping failed", "sessionID", h.session.ID(), "err", err)
			}
			if h.onResult != nil && ctx.Err() == nil {
				h.onResult(err)
			}
		}
	}
}
