package application

import (
	"errors"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		key  string
		want Intent
	}{
		{"a", IntentLeft},
		{"D", IntentRight},
		{"q", IntentAimCCW},
		{"e", IntentAimCW},
		{"w", IntentPowerUp},
		{"s", IntentPowerDown},
		{"Shift", IntentFast},
		{" ", IntentFire},
		{"space", IntentFire},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.key)
		if err != nil || got != tt.want {
			t.Errorf("ParseKey(%q) = %v, %v; want %v", tt.key, got, err, tt.want)
		}
	}
	if _, err := ParseKey("z"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("ParseKey(z) err = %v, want ErrUnknownKey", err)
	}
}

func TestIntent_KeyMatchesParseKey(t *testing.T) {
	for _, intent := range AllIntents {
		got, err := ParseKey(intent.Key())
		if err != nil || got != intent {
			t.Errorf("ParseKey(%q) = %v, %v; want %v", intent.Key(), got, err, intent)
		}
	}
}

func TestIntentSet(t *testing.T) {
	var s IntentSet
	s = s.With(IntentLeft).With(IntentFire)
	if !s.Has(IntentLeft) || !s.Has(IntentFire) || s.Has(IntentRight) {
		t.Fatalf("unexpected set %08b", s)
	}
	s = s.Without(IntentLeft)
	if s.Has(IntentLeft) {
		t.Errorf("IntentLeft still set")
	}
}
