package application

import (
	"math"
	"time"
)

const (
	DefaultWorldWidth  = 1500.0
	DefaultWorldHeight = 1000.0
	DefaultGravityY    = 450.0 // px/s²
	DefaultWindX       = 5.0   // px/s²

	TerrainMarginY    = 200.0 // 地形の上端・下端から確保する余白
	TerrainResolution = 5.0   // 点間隔 (px)
	TerrainRoughness  = 0.4
	SandMaxPeak       = 5.0
	maxSettlePasses   = 100000

	PlayerHitBoxWidth  = 25.0
	PlayerHitBoxHeight = 15.0
	PlayerMaxHealth    = 100.0
	PlayerCanonLength  = 20.0
	PlayerInitialPower = 500.0
	PlayerInitialAngle = 3 * math.Pi / 2
	PlayerSpawnY       = 300.0

	MinFacingAngle   = math.Pi
	MaxFacingAngle   = 2 * math.Pi
	AimStep          = 0.001 // rad/tick
	AimFastMult      = 10.0
	PowerStep        = 2.0 // /tick
	MinCanonVelocity = 50.0
	MaxCanonVelocity = 1000.0
	MoveSpeed        = 20.0 // px/s
	MaxSlope         = 2.0

	FireDelay        = 1000 * time.Millisecond
	MaxMissileTimeMs = 5000.0

	MissileRadius          = 5.0
	MissileExplosionRadius = 20.0
	MissileDamage          = 25.0

	ExplosionDurationMs  = 1000.0
	DeathExplosionRadius = 100.0
	DeathExplosionDamage = 40.0

	// MaxStepMs はフレーム落ち時のシミュレーションステップ上限 (1000/20)
	MaxStepMs = 1000.0 / 20

	DefaultTickHz = 60
)
