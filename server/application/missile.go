package application

// Missile は重力と風の影響を受けて飛ぶ弾です。
// InitialPosition / InitialVelocity は軌道表示用で、シミュレーションには使いません。
type Missile struct {
	OwnerID         string  `json:"ownerId"`
	Position        Vector2 `json:"position"`
	Velocity        Vector2 `json:"velocity"`
	Radius          float64 `json:"radius"`
	ExplosionRadius float64 `json:"explosionRadius"`
	Damage          float64 `json:"damage"`
	ElapsedTime     float64 `json:"elapsedTime"`
	IsExploded      bool    `json:"isExploded"`
	InitialPosition Vector2 `json:"initialPosition"`
	InitialVelocity Vector2 `json:"initialVelocity"`
}

func NewMissile(ownerID string, position, velocity Vector2) *Missile {
	return &Missile{
		OwnerID:         ownerID,
		Position:        position,
		Velocity:        velocity,
		Radius:          MissileRadius,
		ExplosionRadius: MissileExplosionRadius,
		Damage:          MissileDamage,
		InitialPosition: position,
		InitialVelocity: velocity,
	}
}

// Update は dt (ms) だけ弾道を積分し、地形・プレイヤーとの衝突を判定します。
// 衝突した場合 IsExploded を立て、以降は移動しません。
func (m *Missile) Update(dt float64, state *GameState) {
	m.ElapsedTime += dt
	if m.IsExploded {
		return
	}
	step := dt / 1000
	m.Velocity = m.Velocity.Add(state.Gravity.Scale(step))
	m.Velocity = m.Velocity.Add(state.Wind.Scale(step))
	m.Position = m.Position.Add(m.Velocity.Scale(step))

	if IsInsideOrBelowTerrain(m.Position, &state.TerrainMesh) {
		m.IsExploded = true
		return
	}

	surface := state.TerrainMesh.Surface()
	for i := 0; i < len(surface)-1; i++ {
		if CircleTouchesSegment(m.Position, m.Radius, surface[i], surface[i+1]) {
			m.IsExploded = true
			return
		}
	}

	for i, player := range state.Players {
		if i == state.CurrentPlayerIndex || player.IsDead() {
			continue
		}
		topRight := V(player.Position.X+player.HitBox.X, player.Position.Y)
		if CircleTouchesSegment(m.Position, m.Radius, player.Position, topRight) {
			m.IsExploded = true
			return
		}
	}
}

// Expired は寿命切れで強制的に爆発させるべきかを返します。
func (m *Missile) Expired() bool {
	return m.ElapsedTime > MaxMissileTimeMs
}
