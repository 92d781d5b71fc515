package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrSessionIdle = errors.New("session idle")

// IdleReason はセッションがアイドルと判定された方向のビット集合です。
type IdleReason uint8

const (
	IdleNone     IdleReason = 0
	IdleRead     IdleReason = 1 << 0
	IdleWrite    IdleReason = 1 << 1
	IdlePong     IdleReason = 1 << 2
	IdleDisabled IdleReason = 1 << 7 // timeout<=0 のとき
)

func (r IdleReason) Has(x IdleReason) bool { return r&x != 0 }

func (r IdleReason) String() string {
	switch r {
	case IdleNone:
		return "none"
	case IdleDisabled:
		return "disabled"
	}
	var parts []string
	for _, flag := range []struct {
		bit  IdleReason
		name string
	}{{IdleRead, "read"}, {IdleWrite, "write"}, {IdlePong, "pong"}} {
		if r.Has(flag.bit) {
			parts = append(parts, flag.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
	return strings.Join(parts, "|")
}

// Err は切断理由として ErrSessionIdle をラップしたエラーを返します。
func (r IdleReason) Err() error {
	return fmt.Errorf("%w: %s", ErrSessionIdle, r)
}
