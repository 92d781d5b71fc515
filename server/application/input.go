package application

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownKey = errors.New("unknown key")

// Intent はプレイヤーの操作意図をビットで表します。
type Intent uint8

const (
	IntentLeft Intent = 1 << iota
	IntentRight
	IntentAimCCW
	IntentAimCW
	IntentPowerUp
	IntentPowerDown
	IntentFast // 照準の修飾キー
	IntentFire
)

// IntentSet は押下中の Intent の集合です。
type IntentSet uint8

func (s IntentSet) Has(i Intent) bool { return s&IntentSet(i) != 0 }

func (s IntentSet) With(i Intent) IntentSet { return s | IntentSet(i) }

func (s IntentSet) Without(i Intent) IntentSet { return s &^ IntentSet(i) }

var keyBindings = map[string]Intent{
	"a":     IntentLeft,
	"d":     IntentRight,
	"q":     IntentAimCCW,
	"e":     IntentAimCW,
	"w":     IntentPowerUp,
	"s":     IntentPowerDown,
	"shift": IntentFast,
	" ":     IntentFire,
	"space": IntentFire,
}

// ParseKey はクライアントのキー名を Intent に変換します。
func ParseKey(key string) (Intent, error) {
	if key != " " {
		key = strings.ToLower(strings.TrimSpace(key))
	}
	intent, ok := keyBindings[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return intent, nil
}

func (i Intent) String() string {
	switch i {
	case IntentLeft:
		return "left"
	case IntentRight:
		return "right"
	case IntentAimCCW:
		return "aimCCW"
	case IntentAimCW:
		return "aimCW"
	case IntentPowerUp:
		return "powerUp"
	case IntentPowerDown:
		return "powerDown"
	case IntentFast:
		return "fast"
	case IntentFire:
		return "fire"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(i))
	}
}

// Key はクライアントが送るキー名を返します。ParseKey の逆変換です。
func (i Intent) Key() string {
	switch i {
	case IntentLeft:
		return "a"
	case IntentRight:
		return "d"
	case IntentAimCCW:
		return "q"
	case IntentAimCW:
		return "e"
	case IntentPowerUp:
		return "w"
	case IntentPowerDown:
		return "s"
	case IntentFast:
		return "shift"
	case IntentFire:
		return "space"
	default:
		return ""
	}
}

// AllIntents はビット順の全 Intent です。
var AllIntents = []Intent{
	IntentLeft, IntentRight, IntentAimCCW, IntentAimCW,
	IntentPowerUp, IntentPowerDown, IntentFast, IntentFire,
}
