package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBackpressure は書き込みチャネルが満杯の場合に返されるエラーです。
	ErrBackpressure = errors.New("write channel is full, apply backpressure")
	// ErrInitializationFailed はセッションエンドポイントの初期化に失敗した場合に返されるエラーです。
	ErrInitializationFailed = errors.New("failed to initialize session endpoint")
	// ErrEndpointClosed は閉じたエンドポイントへの送信で返されるエラーです。
	ErrEndpointClosed = errors.New("session endpoint closed")
)

// EndpointConfig はセッションエンドポイントの動作設定です。
type EndpointConfig struct {
	PingInterval time.Duration // 0 で heartbeat 無効
	IdleTimeout  time.Duration // 0 でアイドル切断無効
	TickHz       int           // welcome で通知する
}

func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		PingInterval: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		TickHz:       60,
	}
}

// SessionEndpoint は1つの接続の読み書きとアプリケーションへの配送を管理します。
type SessionEndpoint struct {
	ctx    context.Context
	cancel context.CancelFunc

	session    *Session
	connection *Connection
	pubsub     PubSub
	dispatcher Dispatcher
	codec      Codec
	cfg        EndpointConfig

	ctrlCh  chan endpointEvent // 制御用チャネル
	writeCh chan []byte        // 書き込み用チャネル

	// lifecycle
	closed atomic.Bool
}

func NewSessionEndpoint(ctx context.Context, session *Session, connection *Connection, pubsub PubSub, dispatcher Dispatcher, codec Codec, cfg EndpointConfig) (*SessionEndpoint, error) {
	if session == nil || connection == nil || pubsub == nil || dispatcher == nil || codec == nil {
		return nil, ErrInitializationFailed
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	se := &SessionEndpoint{
		ctx:        ctx,
		cancel:     cancel,
		session:    session,
		connection: connection,
		pubsub:     pubsub,
		dispatcher: dispatcher,
		codec:      codec,
		cfg:        cfg,
		ctrlCh:     make(chan endpointEvent, 16),
		writeCh:    make(chan []byte, 1024),
	}
	return se, nil
}

func (se *SessionEndpoint) Session() *Session {
	return se.session
}

// Run はエンドポイントのループ群を起動し、セッションが閉じるまでブロックします。
func (se *SessionEndpoint) Run() error {
	// 自分宛のメッセージを購読
	sessionTopic := SessionTopic(se.session.ID())
	msgCh := se.pubsub.Subscribe(sessionTopic)
	defer se.pubsub.Unsubscribe(sessionTopic, msgCh)
	defer se.dispatcher.Disconnect(context.WithoutCancel(se.ctx), se.session.ID())

	// セッションID通知を送信
	welcome := Push(MsgWelcome, Welcome{
		SessionID: se.session.ID().String(),
		TickHz:    se.cfg.TickHz,
		Codec:     se.codec.Name(),
	})
	if err := se.SendResponse(welcome); err != nil {
		se.close(CloseGoingAway, "welcome failed")
		return err
	}

	heartbeat := NewHeartbeatService(se.cfg.PingInterval, se.session, se.connection, se.onPing)

	eg, ctx := errgroup.WithContext(se.ctx)
	eg.Go(func() error {
		se.ownerLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.readLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.writeLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.subscribeLoop(ctx, msgCh)
		return nil
	})
	eg.Go(func() error {
		heartbeat.Run(ctx)
		return nil
	})

	return eg.Wait()
}

// Send は符号化済みのデータを書き込みキューに積みます。
func (se *SessionEndpoint) Send(data []byte) error {
	if se.closed.Load() {
		return ErrEndpointClosed
	}
	select {
	case se.writeCh <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (se *SessionEndpoint) SendResponse(resp *Response) error {
	data, err := se.codec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode %s: %w", resp.Type, err)
	}
	return se.Send(data)
}

func (se *SessionEndpoint) Close(ctx context.Context) {
	se.sendCtrlEvent(ctx, endpointEvent{kind: evClose})
}

func (se *SessionEndpoint) ForceClose() {
	se.close(CloseNormal, "")
}

func (se *SessionEndpoint) onPing(err error) {
	if err != nil {
		se.sendCtrlEvent(se.ctx, endpointEvent{kind: evPingFailed, err: err})
		return
	}
	se.sendCtrlEvent(se.ctx, endpointEvent{kind: evPong})
}

// ownerLoop は論理セッションの状態を監視し、必要に応じて接続の管理を行います。
func (se *SessionEndpoint) ownerLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-se.ctrlCh:
			se.handleControlEvent(ctx, ev)
		case <-ticker.C:
			if reason, ok := se.idleReason(); ok {
				se.handleControlEvent(ctx, endpointEvent{kind: evClose, err: reason.Err()})
			}
		}
	}
}

// idleReason は切断すべきアイドル状態かを返します。
// heartbeat が有効なら pong の途絶、無効なら受信の途絶で判定します。
func (se *SessionEndpoint) idleReason() (IdleReason, bool) {
	idle, reason := se.session.IsIdle(se.cfg.IdleTimeout)
	if !idle {
		return reason, false
	}
	if se.cfg.PingInterval > 0 {
		return reason, reason.Has(IdlePong)
	}
	return reason, reason.Has(IdleRead)
}

func (se *SessionEndpoint) readLoop(ctx context.Context) {
	for {
		data, err := se.connection.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				se.sendCtrlEvent(ctx, endpointEvent{kind: evReadError, err: err})
			}
			return
		}
		se.session.TouchRead()
		se.handleData(ctx, data)
	}
}

func (se *SessionEndpoint) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-se.writeCh:
			err := se.connection.Write(ctx, data)
			if err != nil {
				se.sendCtrlEvent(ctx, endpointEvent{kind: evWriteError, err: err})
				continue
			}
			se.session.TouchWrite()
		}
	}
}

// subscribeLoop はpubsubからのメッセージをwriteChに転送します。
func (se *SessionEndpoint) subscribeLoop(ctx context.Context, msgCh <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			select {
			case se.writeCh <- msg.Data:
				// 送信成功
			default:
				slog.WarnContext(ctx, "subscribeLoop: writeCh full, message dropped", "sessionID", se.session.ID())
			}
		}
	}
}

func (se *SessionEndpoint) close(code int32, reason string) {
	if !se.closed.CompareAndSwap(false, true) {
		return
	}
	se.cancel()
	se.session.Close()
	se.connection.Close(code, reason)
}

// handleData は受信した1メッセージを復号してアプリケーションへ配送し、応答を返送します。
func (se *SessionEndpoint) handleData(ctx context.Context, data []byte) {
	req, err := DecodeRequest(se.codec, data)
	if err != nil {
		slog.WarnContext(ctx, "failed to decode request", "sessionID", se.session.ID(), "err", err)
		var seq uint64
		respType := MsgError
		if req != nil {
			seq = req.Seq
			if req.Type != "" {
				respType = req.Type
			}
		}
		se.reply(ctx, Failure(seq, respType, err))
		return
	}

	resp := se.dispatcher.Dispatch(ctx, se.session.ID(), req)
	if resp == nil {
		resp = Success(req.Seq, req.Type, nil)
	}
	se.reply(ctx, resp)
}

func (se *SessionEndpoint) reply(ctx context.Context, resp *Response) {
	if err := se.SendResponse(resp); err != nil {
		slog.WarnContext(ctx, "failed to send response", "sessionID", se.session.ID(), "type", resp.Type, "err", err)
	}
}

// handleControlEvent は制御チャネルからのイベントを処理し論理セッションの状態を更新する唯一の関数です。
func (se *SessionEndpoint) handleControlEvent(ctx context.Context, ev endpointEvent) {
	switch ev.kind {
	case evClose:
		if ev.err != nil {
			slog.InfoContext(ctx, "closing session", "sessionID", se.session.ID(), "err", ev.err)
			se.close(ClosePolicyViolate, ev.err.Error())
			return
		}
		se.close(CloseNormal, "")
	case evPong:
		se.session.TouchPong()
	case evPingFailed:
		// アイドル判定に任せる
		slog.DebugContext(ctx, "ping failed", "sessionID", se.session.ID(), "err", ev.err)
	case evReadError:
		slog.DebugContext(ctx, "read failed, closing session", "sessionID", se.session.ID(), "err", ev.err)
		se.close(CloseGoingAway, "read error")
	case evWriteError:
		slog.WarnContext(ctx, "write failed", "sessionID", se.session.ID(), "err", ev.err)
	default:
		slog.WarnContext(ctx, "unknown endpoint event kind", "kind", ev.kind)
	}
}

func (se *SessionEndpoint) sendCtrlEvent(ctx context.Context, ev endpointEvent) {
	select {
	case se.ctrlCh <- ev:
	case <-ctx.Done():
	}
}
