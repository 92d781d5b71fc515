package application

// BotAction はボットが1tickの間に押しているべき操作を表します。
type BotAction struct {
	Move  float64 // -1: 左, +1: 右
	Aim   float64 // -1: 反時計回り, +1: 時計回り
	Power float64 // -1: 減少, +1: 増加
	Fast  bool
	Fire  bool
}

// Intents は押下すべきキーの集合に変換します。発射は fire メッセージで送るため含みません。
func (a BotAction) Intents() IntentSet {
	var s IntentSet
	switch {
	case a.Move < 0:
		s = s.With(IntentLeft)
	case a.Move > 0:
		s = s.With(IntentRight)
	}
	switch {
	case a.Aim < 0:
		s = s.With(IntentAimCCW)
	case a.Aim > 0:
		s = s.With(IntentAimCW)
	}
	switch {
	case a.Power < 0:
		s = s.With(IntentPowerDown)
	case a.Power > 0:
		s = s.With(IntentPowerUp)
	}
	if a.Fast {
		s = s.With(IntentFast)
	}
	return s
}

// BotController はボットの意思決定インターフェースです。
type BotController interface {
	Decide(selfID string, state *GameStateSnapshot) BotAction
}

// playerFromSnapshot はスナップショットから計算用の Player を復元します。
func playerFromSnapshot(ps PlayerSnapshot) *Player {
	return &Player{
		ID:          ps.ID,
		Name:        ps.Name,
		Position:    ps.Position,
		HitBox:      ps.HitBox,
		Health:      ps.Health,
		Color:       ps.Color,
		FacingAngle: ps.FacingAngle,
		CanonLength: ps.CanonLength,
		Power:       ps.Power,
		Exploded:    ps.Exploded,
	}
}
