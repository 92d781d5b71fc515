package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eartheater/server/application"
	"eartheater/server/domain"

	"github.com/coder/websocket"
)

var errRequestTimeout = errors.New("request timed out")

// botClient は1接続分のクライアントです。応答は seq で待ち合わせます。
type botClient struct {
	conn    *websocket.Conn
	codec   domain.Codec
	msgType websocket.MessageType
	logger  *slog.Logger

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan *domain.Response

	sessionID string
	welcomeCh chan struct{}
	state     atomic.Pointer[application.GameStateSnapshot]
}

func dialBot(ctx context.Context, serverURL string, codec domain.Codec, logger *slog.Logger) (*botClient, error) {
	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	msgType := websocket.MessageText
	if codec.Binary() {
		msgType = websocket.MessageBinary
	}
	return &botClient{
		conn:      conn,
		codec:     codec,
		msgType:   msgType,
		logger:    logger,
		pending:   make(map[uint64]chan *domain.Response),
		welcomeCh: make(chan struct{}),
	}, nil
}

// readLoop は接続が閉じるまで受信を続けます。
func (c *botClient) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		var resp domain.Response
		if err := c.codec.Unmarshal(data, &resp); err != nil {
			c.logger.WarnContext(ctx, "failed to decode message", "err", err)
			continue
		}
		switch resp.Type {
		case domain.MsgWelcome:
			welcome, err := domain.DecodeData[domain.Welcome](c.codec, &resp)
			if err != nil {
				return fmt.Errorf("decode welcome: %w", err)
			}
			c.sessionID = welcome.SessionID
			close(c.welcomeCh)
			c.logger.InfoContext(ctx, "session assigned", "sessionID", welcome.SessionID)
		case domain.MsgGameStateUpdate:
			var update struct {
				Data *application.GameStateSnapshot `json:"data"`
			}
			if err := c.codec.Unmarshal(data, &update); err != nil || update.Data == nil {
				c.logger.WarnContext(ctx, "failed to decode game state", "err", err)
				continue
			}
			c.state.Store(update.Data)
		default:
			c.resolve(&resp)
		}
	}
}

func (c *botClient) resolve(resp *domain.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.Seq]
	delete(c.pending, resp.Seq)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *botClient) waitWelcome(ctx context.Context) error {
	select {
	case <-c.welcomeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send は応答を待たずに要求を送ります。
func (c *botClient) send(ctx context.Context, req domain.Request) error {
	req.Seq = c.seq.Add(1)
	data, err := c.codec.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, c.msgType, data)
}

// call は要求を送り、同じ seq の応答を待ちます。エラー応答は error として返します。
func (c *botClient) call(ctx context.Context, req domain.Request) (*domain.Response, error) {
	req.Seq = c.seq.Add(1)
	ch := make(chan *domain.Response, 1)
	c.mu.Lock()
	c.pending[req.Seq] = ch
	c.mu.Unlock()

	data, err := c.codec.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Write(ctx, c.msgType, data); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.OK() {
			return resp, fmt.Errorf("%s: %s", req.Type, resp.Error)
		}
		return resp, nil
	case <-time.After(5 * time.Second):
		return nil, errRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *botClient) createLobby(ctx context.Context, name string) (application.LobbyInfo, error) {
	resp, err := c.call(ctx, domain.Request{Type: domain.MsgCreateLobby, Name: name})
	if err != nil {
		return application.LobbyInfo{}, err
	}
	return domain.DecodeData[application.LobbyInfo](c.codec, resp)
}

func (c *botClient) joinLobby(ctx context.Context, lobbyID, name string) (application.LobbyInfo, error) {
	resp, err := c.call(ctx, domain.Request{Type: domain.MsgJoinLobby, LobbyID: lobbyID, Name: name})
	if err != nil {
		return application.LobbyInfo{}, err
	}
	return domain.DecodeData[application.LobbyInfo](c.codec, resp)
}

func (c *botClient) startGame(ctx context.Context) error {
	_, err := c.call(ctx, domain.Request{Type: domain.MsgStartGame})
	return err
}

// play は tickHz で BotController を回し、押下状態の差分を keyDown / keyUp として送ります。
func (c *botClient) play(ctx context.Context, controller application.BotController, tickHz int) error {
	ticker := time.NewTicker(time.Second / time.Duration(tickHz))
	defer ticker.Stop()

	var pressed application.IntentSet
	var lastFireFrame uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			state := c.state.Load()
			if state == nil {
				continue
			}
			action := controller.Decide(c.sessionID, state)
			want := action.Intents()
			for _, intent := range application.AllIntents {
				switch {
				case want.Has(intent) && !pressed.Has(intent):
					if err := c.send(ctx, domain.Request{Type: domain.MsgKeyDown, Key: intent.Key()}); err != nil {
						return err
					}
				case !want.Has(intent) && pressed.Has(intent):
					if err := c.send(ctx, domain.Request{Type: domain.MsgKeyUp, Key: intent.Key()}); err != nil {
						return err
					}
				}
			}
			pressed = want

			// 同じフレームを見て二重に撃たない
			if action.Fire && state.Frame != lastFireFrame {
				lastFireFrame = state.Frame
				if err := c.send(ctx, domain.Request{Type: domain.MsgFire}); err != nil {
					return err
				}
			}
			if state.Finished {
				c.logger.InfoContext(ctx, "match finished", "winnerID", state.WinnerID, "self", c.sessionID)
				return nil
			}
		}
	}
}

func (c *botClient) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}
