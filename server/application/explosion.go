package application

// Explosion は地形の侵食と範囲ダメージを伴う時限イベントです。
// 効果 (侵食・ダメージ) は生成後最初の1回だけ適用され、残りの寿命は演出用です。
type Explosion struct {
	Position    Vector2 `json:"position"`
	Radius      float64 `json:"radius"`
	DurationMs  float64 `json:"durationMs"`
	Damage      float64 `json:"damage"`
	ElapsedTime float64 `json:"elapsedTime"`
	IsExploded  bool    `json:"isExploded"`
}

func NewExplosion(position Vector2, radius, damage float64) *Explosion {
	return &Explosion{
		Position:   position,
		Radius:     radius,
		DurationMs: ExplosionDurationMs,
		Damage:     damage,
	}
}

func (e *Explosion) TimeLeftMs() float64 {
	return e.DurationMs - e.ElapsedTime
}

// Apply は地形を侵食し、円に触れたプレイヤーへダメージを与えます。
// 既に爆発済みなら何もせず false を返します。
func (e *Explosion) Apply(state *GameState) bool {
	if e.IsExploded {
		return false
	}
	state.TerrainMesh.Erode(e.Position, e.Radius, state.WorldHeight)
	for _, player := range state.Players {
		if CircleCollidesWithBox(e.Position, e.Radius, player.Position, player.HitBox) {
			player.TakeDamage(e.Damage)
		}
	}
	e.IsExploded = true
	return true
}

// Update は経過時間を進めます。最初の呼び出し以降 IsExploded は true になります。
func (e *Explosion) Update(dt float64) {
	e.IsExploded = true
	e.ElapsedTime += dt
}
