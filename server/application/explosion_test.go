package application

import "testing"

func newExplosionState() *GameState {
	p := NewPlayer("p1", "one", V(740, 490))
	return &GameState{
		Players:     []*Player{p},
		TerrainMesh: FlatTerrain(1500, 1000, 500, 300),
		WorldWidth:  1500,
		WorldHeight: 1000,
	}
}

func TestExplosion_AppliesDamageOnce(t *testing.T) {
	state := newExplosionState()
	explosion := NewExplosion(V(750, 500), 50, 40)

	if !explosion.Apply(state) {
		t.Fatal("first Apply returned false")
	}
	if got := state.Players[0].Health; got != PlayerMaxHealth-40 {
		t.Fatalf("health after first apply = %v, want %v", got, PlayerMaxHealth-40)
	}

	if explosion.Apply(state) {
		t.Error("second Apply returned true")
	}
	explosion.Update(16)
	explosion.Apply(state)
	if got := state.Players[0].Health; got != PlayerMaxHealth-40 {
		t.Errorf("health after repeated apply = %v, want %v", got, PlayerMaxHealth-40)
	}
}

func TestExplosion_ErodesTerrainOnce(t *testing.T) {
	state := newExplosionState()
	explosion := NewExplosion(V(750, 500), 50, 40)
	explosion.Apply(state)

	y, _ := state.TerrainMesh.SurfaceHeightAt(750)
	if y != 550 {
		t.Fatalf("crater depth = %v, want 550", y)
	}
	// 爆発済みなので地形は変化しない
	state.TerrainMesh.Points[150].Y = 520
	explosion.Apply(state)
	if got := state.TerrainMesh.Points[150].Y; got != 520 {
		t.Errorf("terrain modified after explosion already applied: %v", got)
	}
}

func TestExplosion_Lifetime(t *testing.T) {
	explosion := NewExplosion(V(0, 0), 10, 10)
	if explosion.TimeLeftMs() != ExplosionDurationMs {
		t.Fatalf("TimeLeftMs = %v", explosion.TimeLeftMs())
	}
	explosion.Update(ExplosionDurationMs)
	if !explosion.IsExploded {
		t.Errorf("IsExploded not set by Update")
	}
	if explosion.TimeLeftMs() > 0 {
		t.Errorf("TimeLeftMs = %v, want <= 0", explosion.TimeLeftMs())
	}
}

func TestExplosion_MissesDistantPlayer(t *testing.T) {
	state := newExplosionState()
	NewExplosion(V(100, 500), 50, 40).Apply(state)
	if state.Players[0].Health != PlayerMaxHealth {
		t.Errorf("distant player damaged: %v", state.Players[0].Health)
	}
}
