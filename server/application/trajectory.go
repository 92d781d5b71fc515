package application

// TrajectoryStepMs は軌道予測の積分刻みです。
const TrajectoryStepMs = 1000.0 / 60

// Trajectory は発射した弾の予測軌道です。
type Trajectory struct {
	Points []Vector2
	Impact Vector2
	Hit    bool // 寿命内に地形へ着弾したか
}

// PredictTrajectory は Missile.Update と同じ積分で弾道を追い、地形に入るか寿命が尽きるまでの点列を返します。
// プレイヤーとの衝突は見ません。
func PredictTrajectory(mesh *TerrainMesh, gravity, wind, position, velocity Vector2) Trajectory {
	tr := Trajectory{Points: []Vector2{position}}
	step := TrajectoryStepMs / 1000
	for elapsed := 0.0; elapsed <= MaxMissileTimeMs; elapsed += TrajectoryStepMs {
		velocity = velocity.Add(gravity.Scale(step)).Add(wind.Scale(step))
		position = position.Add(velocity.Scale(step))
		tr.Points = append(tr.Points, position)
		if !position.IsFinite() {
			break
		}
		if IsInsideOrBelowTerrain(position, mesh) {
			tr.Impact = position
			tr.Hit = true
			return tr
		}
	}
	tr.Impact = position
	return tr
}

// PredictFromPlayer は現在の照準と威力で撃った場合の軌道を返します。
func PredictFromPlayer(state *GameState, p *Player) Trajectory {
	return PredictTrajectory(&state.TerrainMesh, state.Gravity, state.Wind, p.CanonTipPosition(), p.CanonTipVelocity())
}
