package application

import (
	"math"
	"time"
)

// Player はフィールド上の砲台を表す構造体です。
// Position はヒットボックスの左上です。
type Player struct {
	ID          string
	Name        string
	Position    Vector2
	HitBox      Vector2
	Health      float64
	Color       string
	FacingAngle float64
	CanonLength float64
	Power       float64
	Exploded    bool // 死亡時の爆発を1度だけ起こすためのフラグ

	intents     IntentSet
	pendingFire bool // ネットワーク経由の fire 要求
	hasFired    bool // 現在のターンで発射済み
	lastFireAt  time.Time
}

// NewPlayer は初期状態のプレイヤーを生成します。
func NewPlayer(id, name string, position Vector2) *Player {
	return &Player{
		ID:          id,
		Name:        name,
		Position:    position,
		HitBox:      V(PlayerHitBoxWidth, PlayerHitBoxHeight),
		Health:      PlayerMaxHealth,
		Color:       "#00ff00",
		FacingAngle: PlayerInitialAngle,
		CanonLength: PlayerCanonLength,
		Power:       PlayerInitialPower,
	}
}

func (p *Player) IsDead() bool {
	return p.Health <= 0
}

// TakeDamage はHPを減らします。HPは0未満になりません。
func (p *Player) TakeDamage(damage float64) {
	p.Health = math.Max(0, p.Health-damage)
}

func (p *Player) Center() Vector2 {
	return p.Position.Add(p.HitBox.DivN(2))
}

// CanonTipPosition は砲身の先端 (弾の発射位置) を返します。
func (p *Player) CanonTipPosition() Vector2 {
	return p.Center().Add(FromAngle(p.FacingAngle, p.CanonLength*0.1))
}

// CanonTipVelocity は発射時の初速を返します。
func (p *Player) CanonTipVelocity() Vector2 {
	return FromAngle(p.FacingAngle, p.Power)
}

// Aim は照準角を delta だけ回し、上半平面 [π, 2π] にクランプします。
func (p *Player) Aim(delta float64) {
	p.FacingAngle = clamp(p.FacingAngle+delta, MinFacingAngle, MaxFacingAngle)
}

func (p *Player) AdjustPower(delta float64) {
	p.Power = clamp(p.Power+delta, MinCanonVelocity, MaxCanonVelocity)
}

// canFire は per-player のクールダウンを now で判定します。
func (p *Player) canFire(now time.Time, delay time.Duration) bool {
	return p.lastFireAt.IsZero() || now.Sub(p.lastFireAt) >= delay
}

// PlayerSnapshot はクライアントへ公開するプレイヤーの状態です。
type PlayerSnapshot struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Position    Vector2 `json:"position"`
	HitBox      Vector2 `json:"hitBox"`
	Health      float64 `json:"health"`
	Color       string  `json:"color"`
	FacingAngle float64 `json:"facingAngle"`
	CanonLength float64 `json:"canonLength"`
	Power       float64 `json:"power"`
	Exploded    bool    `json:"exploded"`
	IsDead      bool    `json:"isDead"`
}

func (p *Player) Snapshot() PlayerSnapshot {
	return PlayerSnapshot{
		ID:          p.ID,
		Name:        p.Name,
		Position:    p.Position,
		HitBox:      p.HitBox,
		Health:      p.Health,
		Color:       p.Color,
		FacingAngle: p.FacingAngle,
		CanonLength: p.CanonLength,
		Power:       p.Power,
		Exploded:    p.Exploded,
		IsDead:      p.IsDead(),
	}
}
