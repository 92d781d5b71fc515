package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage       = errors.New("empty message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// MessageType はメッセージの種別です。
type MessageType string

// クライアント → サーバー
const (
	MsgCreateLobby MessageType = "createLobby"
	MsgJoinLobby   MessageType = "joinLobby"
	MsgLeaveLobby  MessageType = "leaveLobby"
	MsgStartGame   MessageType = "startGame"
	MsgKeyDown     MessageType = "keyDown"
	MsgKeyUp       MessageType = "keyUp"
	MsgFire        MessageType = "fire"
)

// サーバー → クライアント
const (
	MsgWelcome         MessageType = "welcome"
	MsgGameStateUpdate MessageType = "gameStateUpdate"
	MsgError           MessageType = "error"
)

// IsRequest はクライアントから送ってよい種別かを返します。
func (t MessageType) IsRequest() bool {
	switch t {
	case MsgCreateLobby, MsgJoinLobby, MsgLeaveLobby, MsgStartGame, MsgKeyDown, MsgKeyUp, MsgFire:
		return true
	}
	return false
}

// Request はクライアントからの要求です。種別ごとに使うフィールドだけが埋まります。
type Request struct {
	Seq     uint64      `json:"seq"`
	Type    MessageType `json:"type"`
	LobbyID string      `json:"lobbyId,omitempty"`
	Key     string      `json:"key,omitempty"`
	Name    string      `json:"name,omitempty"`
}

// Validate は種別と必須フィールドを確認します。
func (r *Request) Validate() error {
	if !r.Type.IsRequest() {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, r.Type)
	}
	switch r.Type {
	case MsgJoinLobby:
		if r.LobbyID == "" {
			return errors.New("joinLobby requires lobbyId")
		}
	case MsgKeyDown, MsgKeyUp:
		if r.Key == "" {
			return fmt.Errorf("%s requires key", r.Type)
		}
	}
	return nil
}

// Response は全ての応答とサーバープッシュの共通エンベロープです。
// Data と Error はどちらか一方だけが設定されます。
type Response struct {
	Seq   uint64      `json:"seq"`
	Type  MessageType `json:"type"`
	Data  any         `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Success は成功応答を生成します。data が nil の場合は空オブジェクトを入れます。
func Success(seq uint64, t MessageType, data any) *Response {
	if data == nil {
		data = struct{}{}
	}
	return &Response{Seq: seq, Type: t, Data: data}
}

// Failure はエラー応答を生成します。
func Failure(seq uint64, t MessageType, err error) *Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Response{Seq: seq, Type: t, Error: msg}
}

// Push はサーバーから一方的に送るメッセージを生成します。
func Push(t MessageType, data any) *Response {
	return Success(0, t, data)
}

func (r *Response) OK() bool {
	return r.Error == ""
}

// Welcome は接続直後に送るセッション情報です。
type Welcome struct {
	SessionID string `json:"sessionId"`
	TickHz    int    `json:"tickHz"`
	Codec     string `json:"codec"`
}
