package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec はワイヤフォーマットです。どのコーデックも json タグのフィールド名を使います。
type Codec interface {
	Name() string
	// Binary はバイナリフレームで送るべきかを返します。
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// NewCodec は名前からコーデックを返します。
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string                       { return CodecJSON }
func (JSONCodec) Binary() bool                       { return false }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	switch r := v.(type) {
	case *Response:
		v = envelopeFields(r)
	case Response:
		v = envelopeFields(&r)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// envelopeFields は data と error のどちらか一方を必ず含むエンベロープを返します。
// msgpack の omitempty は空の struct や map も省略するため、Response をそのまま符号化できません。
func envelopeFields(r *Response) map[string]any {
	fields := map[string]any{"seq": r.Seq, "type": r.Type}
	if r.Error != "" {
		fields["error"] = r.Error
		return fields
	}
	data := r.Data
	if data == nil {
		data = struct{}{}
	}
	fields["data"] = data
	return fields
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// DecodeRequest はリクエストを復号し検証します。
func DecodeRequest(c Codec, data []byte) (*Request, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	var req Request
	if err := c.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return &req, err
	}
	return &req, nil
}

// DecodeData は Response.Data を型 T として取り出します。
// 復号直後の Data は map などの汎用型なので、同じコーデックで一度エンコードし直してから T に復号します。
func DecodeData[T any](c Codec, resp *Response) (T, error) {
	var out T
	if resp.Data == nil {
		return out, fmt.Errorf("empty data for type %q", resp.Type)
	}
	if typed, ok := resp.Data.(T); ok {
		return typed, nil
	}
	raw, err := c.Marshal(resp.Data)
	if err != nil {
		return out, err
	}
	err = c.Unmarshal(raw, &out)
	return out, err
}
