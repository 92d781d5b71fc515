package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

func newTestEngine(t *testing.T, players int, opts ...EngineOption) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.Seed = 1
	roster := make([]PlayerSpec, players)
	for i := range roster {
		roster[i] = PlayerSpec{ID: fmt.Sprintf("p%d", i+1), Name: fmt.Sprintf("player %d", i+1)}
	}
	e, err := NewEngine(cfg, roster, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.state.TerrainMesh = FlatTerrain(cfg.WorldWidth, cfg.WorldHeight, 500, 300)
	return e
}

func tickN(e *Engine, clock *fakeClock, n int) {
	for range n {
		e.Tick(context.Background(), clock.advance(50*time.Millisecond))
	}
}

// tickUntil は cond が真になるまで最大 limit 回 tick します。
func tickUntil(t *testing.T, e *Engine, clock *fakeClock, limit int, cond func() bool) {
	t.Helper()
	for range limit {
		if cond() {
			return
		}
		e.Tick(context.Background(), clock.advance(50*time.Millisecond))
	}
	if !cond() {
		t.Fatalf("condition not met after %d ticks", limit)
	}
}

func TestNewEngine_RequiresPlayers(t *testing.T) {
	if _, err := NewEngine(DefaultEngineConfig(), nil); !errors.Is(err, ErrNoPlayers) {
		t.Fatalf("err = %v, want ErrNoPlayers", err)
	}
}

func TestNewEngine_RejectsNonFiniteConfig(t *testing.T) {
	roster := []PlayerSpec{{ID: "p1"}}
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"nan wind", func(c *EngineConfig) { c.Wind.X = math.NaN() }},
		{"inf gravity", func(c *EngineConfig) { c.Gravity.Y = math.Inf(1) }},
		{"negative inf wind", func(c *EngineConfig) { c.Wind.X = math.Inf(-1) }},
		{"zero width", func(c *EngineConfig) { c.WorldWidth = 0 }},
		{"nan height", func(c *EngineConfig) { c.WorldHeight = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg, roster); !errors.Is(err, ErrInvalidEngineConfig) {
				t.Fatalf("expected ErrInvalidEngineConfig, got %v", err)
			}
		})
	}
	if err := DefaultEngineConfig().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestNewEngine_SpawnsPlayersEvenly(t *testing.T) {
	e := newTestEngine(t, 2)
	s := e.State()
	if got := s.Players[0].Position; got != V(1500.0/3-PlayerHitBoxWidth/2, PlayerSpawnY) {
		t.Errorf("p1 spawn = %v", got)
	}
	if got := s.Players[1].Position; got != V(1500.0*2/3-PlayerHitBoxWidth/2, PlayerSpawnY) {
		t.Errorf("p2 spawn = %v", got)
	}
	if s.Players[0].Color == s.Players[1].Color {
		t.Errorf("players share color %q", s.Players[0].Color)
	}
	if e.CurrentTurn() != "p1" {
		t.Errorf("CurrentTurn = %q, want p1", e.CurrentTurn())
	}
}

func TestEngine_PlayerSnapsToFlatGround(t *testing.T) {
	e := newTestEngine(t, 1)
	clock := newFakeClock()
	p := e.State().Players[0]
	p.Position = V(505, 300)

	tickN(e, clock, 20)

	if p.Position.Y != 485 {
		t.Fatalf("player y = %v, want 485", p.Position.Y)
	}
	if p.Position.X != 505 {
		t.Errorf("player x drifted to %v", p.Position.X)
	}
}

func TestEngine_FirstTickUsesMaxStep(t *testing.T) {
	e := newTestEngine(t, 1)
	p := e.State().Players[0]
	start := p.Position.Y
	e.Tick(context.Background(), time.Unix(0, 0))
	if want := start + DefaultGravityY*MaxStepMs/1000; p.Position.Y != want {
		t.Errorf("y after first tick = %v, want %v", p.Position.Y, want)
	}
	if e.State().Frame != 1 {
		t.Errorf("Frame = %d, want 1", e.State().Frame)
	}
}

func TestEngine_MovesCurrentPlayerOnly(t *testing.T) {
	e := newTestEngine(t, 2)
	clock := newFakeClock()
	p1, p2 := e.State().Players[0], e.State().Players[1]
	x1, x2 := p1.Position.X, p2.Position.X

	if err := e.KeyDown("p1", IntentRight); err != nil {
		t.Fatal(err)
	}
	if err := e.KeyDown("p2", IntentRight); err != nil {
		t.Fatal(err)
	}
	tickN(e, clock, 1)

	if want := x1 + MoveSpeed*MaxStepMs/1000; p1.Position.X != want {
		t.Errorf("p1 x = %v, want %v", p1.Position.X, want)
	}
	if p2.Position.X != x2 {
		t.Errorf("p2 moved out of turn: %v -> %v", x2, p2.Position.X)
	}

	if err := e.KeyUp("p1", IntentRight); err != nil {
		t.Fatal(err)
	}
	tickN(e, clock, 1)
	moved := p1.Position.X
	tickN(e, clock, 1)
	if p1.Position.X != moved {
		t.Errorf("p1 kept moving after key up")
	}
}

func TestEngine_AimAndPowerInput(t *testing.T) {
	e := newTestEngine(t, 1)
	clock := newFakeClock()
	p := e.State().Players[0]

	_ = e.KeyDown("p1", IntentAimCW)
	_ = e.KeyDown("p1", IntentFast)
	_ = e.KeyDown("p1", IntentPowerUp)
	tickN(e, clock, 1)

	if want := PlayerInitialAngle + AimStep*AimFastMult; !almostEqual(p.FacingAngle, want, 1e-12) {
		t.Errorf("FacingAngle = %v, want %v", p.FacingAngle, want)
	}
	if want := PlayerInitialPower + PowerStep; p.Power != want {
		t.Errorf("Power = %v, want %v", p.Power, want)
	}
}

func TestCanMove_SlopeGate(t *testing.T) {
	mesh := TerrainMesh{Points: []Vector2{
		V(0, 500), V(100, 500), V(110, 300), V(200, 300),
		V(200, 1000), V(0, 1000),
	}}
	p := NewPlayer("p", "", V(80, 485))

	if canMove(p, 1, &mesh) {
		t.Errorf("moving right into a cliff should be blocked")
	}
	if !canMove(p, -1, &mesh) {
		t.Errorf("moving left on flat ground should be allowed")
	}

	flat := FlatTerrain(1500, 1000, 500, 300)
	p.Position = V(700, 485)
	if !canMove(p, 1, &flat) || !canMove(p, -1, &flat) {
		t.Errorf("flat ground should allow both directions")
	}

	p.Position = V(5000, 485)
	if canMove(p, 1, &flat) || canMove(p, -1, &flat) {
		t.Errorf("no candidate point should block movement")
	}

	sparse := TerrainMesh{Points: []Vector2{V(0, 500), V(100, 500), V(100, 1000), V(0, 1000)}}
	p.Position = V(20, 485)
	if canMove(p, 1, &sparse) || canMove(p, -1, &sparse) {
		t.Errorf("sparse mesh without a point under the hit box should block movement")
	}
	p.Position = V(80, 485)
	if canMove(p, 1, &sparse) {
		t.Errorf("no neighbour past the last point should block movement")
	}
	if !canMove(p, -1, &sparse) {
		t.Errorf("flat neighbour to the left should allow movement")
	}
}

func TestEngine_SlopeGateBlocksMovement(t *testing.T) {
	e := newTestEngine(t, 1)
	clock := newFakeClock()
	e.state.TerrainMesh = TerrainMesh{Points: []Vector2{
		V(0, 500), V(100, 500), V(110, 300), V(1500, 300),
		V(1500, 1000), V(0, 1000),
	}}
	p := e.State().Players[0]
	p.Position = V(80, 485)

	_ = e.KeyDown("p1", IntentRight)
	tickN(e, clock, 5)
	if p.Position.X != 80 {
		t.Errorf("player climbed a cliff: x = %v", p.Position.X)
	}
}

func TestEngine_MovementClampedToWorld(t *testing.T) {
	e := newTestEngine(t, 1)
	clock := newFakeClock()
	p := e.State().Players[0]
	p.Position = V(0.2, 485)

	_ = e.KeyDown("p1", IntentLeft)
	tickN(e, clock, 3)
	if p.Position.X != 0 {
		t.Errorf("x = %v, want clamp to 0", p.Position.X)
	}
}

func TestEngine_FireRequiresTurn(t *testing.T) {
	e := newTestEngine(t, 2)
	if err := e.Fire("p2"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("Fire(p2) err = %v, want ErrNotYourTurn", err)
	}
	if err := e.Fire("p1"); err != nil {
		t.Fatalf("Fire(p1) err = %v", err)
	}
	tickN(e, newFakeClock(), 1)
	if got := len(e.State().Missiles); got != 1 {
		t.Fatalf("missiles = %d, want 1", got)
	}
	m := e.State().Missiles[0]
	if m.OwnerID != "p1" || m.InitialVelocity != e.State().Players[0].CanonTipVelocity() {
		t.Errorf("unexpected missile %+v", m)
	}
}

func TestEngine_OneShotPerTurn(t *testing.T) {
	e := newTestEngine(t, 2)
	clock := newFakeClock()

	_ = e.KeyDown("p1", IntentFire)
	tickN(e, clock, 1)
	clock.advance(2 * FireDelay)
	tickN(e, clock, 1)

	if got := len(e.State().Missiles); got != 1 {
		t.Fatalf("missiles = %d, want 1 while the turn lasts", got)
	}
}

func TestEngine_FireCooldownIsPerPlayer(t *testing.T) {
	e := newTestEngine(t, 1)
	clock := newFakeClock()
	p := e.State().Players[0]
	p.lastFireAt = clock.now

	_ = e.Fire("p1")
	tickN(e, clock, 1)
	if got := len(e.State().Missiles); got != 0 {
		t.Fatalf("fired within cooldown: %d missiles", got)
	}
	if p.pendingFire {
		t.Errorf("pending fire request survived the tick")
	}

	clock.advance(FireDelay)
	_ = e.Fire("p1")
	tickN(e, clock, 1)
	if got := len(e.State().Missiles); got != 1 {
		t.Fatalf("missiles = %d, want 1 after cooldown", got)
	}
}

func TestEngine_TurnAdvancesAfterShotResolves(t *testing.T) {
	e := newTestEngine(t, 2)
	clock := newFakeClock()

	if err := e.Fire("p1"); err != nil {
		t.Fatal(err)
	}
	tickN(e, clock, 1)
	if err := e.Fire("p2"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("p2 fired during p1's turn: %v", err)
	}

	tickUntil(t, e, clock, 400, func() bool { return e.State().CurrentPlayerIndex == 1 })

	s := e.State()
	if len(s.Missiles) != 0 || len(s.Explosions) != 0 {
		t.Errorf("turn advanced with transients: %d missiles, %d explosions", len(s.Missiles), len(s.Explosions))
	}
	if e.CurrentTurn() != "p2" {
		t.Errorf("CurrentTurn = %q, want p2", e.CurrentTurn())
	}
	if s.Players[0].hasFired || s.Players[1].hasFired {
		t.Errorf("hasFired not reset on turn change")
	}
	if err := e.Fire("p1"); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("p1 can still fire after turn change: %v", err)
	}
}

func TestEngine_MissileTimeoutRemovesMissile(t *testing.T) {
	e := newTestEngine(t, 1)
	m := NewMissile("p1", V(100, 10), V(0, 0))
	m.ElapsedTime = MaxMissileTimeMs - 10
	e.state.Missiles = append(e.state.Missiles, m)

	tickN(e, newFakeClock(), 1)

	s := e.State()
	if len(s.Missiles) != 0 {
		t.Fatalf("expired missile still present")
	}
	if len(s.Explosions) != 1 {
		t.Fatalf("explosions = %d, want 1", len(s.Explosions))
	}
	if ex := s.Explosions[0]; ex.Radius != MissileExplosionRadius || ex.Damage != MissileDamage {
		t.Errorf("unexpected explosion %+v", ex)
	}
}

func TestEngine_DeathExplosionOnceAndGameOver(t *testing.T) {
	e := newTestEngine(t, 2)
	clock := newFakeClock()

	if err := e.Forfeit("p2"); err != nil {
		t.Fatal(err)
	}
	tickN(e, clock, 1)

	s := e.State()
	if !s.Players[1].IsDead() || !s.Players[1].Exploded {
		t.Fatalf("p2 not dead/exploded: %+v", s.Players[1])
	}
	if len(s.Explosions) != 1 || s.Explosions[0].Radius != DeathExplosionRadius {
		t.Fatalf("explosions = %+v, want one death explosion", s.Explosions)
	}
	tickN(e, clock, 1)
	if len(s.Explosions) != 1 {
		t.Fatalf("death explosion spawned again: %d", len(s.Explosions))
	}
	if s.Finished {
		t.Errorf("finished while explosion still active")
	}

	if e.Finished() {
		t.Errorf("Finished reported before the explosion cleared")
	}

	tickUntil(t, e, clock, 100, func() bool { return s.Finished })
	if !e.Finished() {
		t.Errorf("Finished not published after the match ended")
	}
	if s.WinnerID != "p1" {
		t.Errorf("WinnerID = %q, want p1", s.WinnerID)
	}
	if len(s.Players) != 2 {
		t.Errorf("dead player removed from list")
	}
}

func TestEngine_DeadCurrentPlayerPassesTurn(t *testing.T) {
	e := newTestEngine(t, 3)
	clock := newFakeClock()

	_ = e.Forfeit("p1")
	tickUntil(t, e, clock, 100, func() bool { return e.CurrentTurn() == "p2" })
	if e.State().Finished {
		t.Errorf("match finished with two players alive")
	}
}

func TestEngine_NonFinitePositionRolledBack(t *testing.T) {
	e := newTestEngine(t, 1)
	p := e.State().Players[0]
	before := p.Position
	e.state.Gravity = V(0, math.NaN())

	tickN(e, newFakeClock(), 1)

	if p.Position != before {
		t.Errorf("position = %v, want rollback to %v", p.Position, before)
	}
}

func TestEngine_RecoversFromPanic(t *testing.T) {
	e := newTestEngine(t, 1, WithObserver(ObserverFunc(func(context.Context, *GameStateSnapshot) {
		panic("observer exploded")
	})))
	now := time.Unix(5, 0)

	e.Tick(context.Background(), now)

	if e.State().Frame != 1 {
		t.Errorf("Frame = %d, want 1", e.State().Frame)
	}
	if !e.State().LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", e.State().LastUpdate, now)
	}
}

func TestEngine_PublishesDeepCopiedSnapshots(t *testing.T) {
	var got []*GameStateSnapshot
	e := newTestEngine(t, 2, WithObserver(ObserverFunc(func(_ context.Context, s *GameStateSnapshot) {
		got = append(got, s)
	})))
	clock := newFakeClock()
	tickN(e, clock, 2)

	if len(got) != 2 || got[0].Frame != 1 || got[1].Frame != 2 {
		t.Fatalf("unexpected snapshots: %d", len(got))
	}
	if got[1].CurrentPlayerID != "p1" || len(got[1].Players) != 2 {
		t.Errorf("snapshot = %+v", got[1])
	}
	if got[1].LastUpdate != clock.now.UnixMilli() {
		t.Errorf("LastUpdate = %d, want %d", got[1].LastUpdate, clock.now.UnixMilli())
	}

	e.State().Players[0].Health = 1
	e.State().TerrainMesh.Points[0].Y = 1
	if got[1].Players[0].Health != PlayerMaxHealth || got[1].TerrainMesh[0].Y != 500 {
		t.Errorf("snapshot shares memory with the live state")
	}
}

func TestEngine_CommandQueueFull(t *testing.T) {
	e := newTestEngine(t, 1)
	var err error
	for i := 0; i < cap(e.cmdCh)+1; i++ {
		if err = e.KeyDown("p1", IntentLeft); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrEngineBusy) {
		t.Fatalf("err = %v, want ErrEngineBusy", err)
	}
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	var frames atomic.Int64
	e := newTestEngine(t, 1, WithObserver(ObserverFunc(func(context.Context, *GameStateSnapshot) {
		frames.Add(1)
	})))
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !e.Running() {
		t.Fatal("engine not running")
	}

	deadline := time.After(2 * time.Second)
	for frames.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("engine did not tick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	e.Stop()
	e.Stop()
	if e.Running() {
		t.Fatal("engine still running after Stop")
	}
}

func TestEngine_Reset(t *testing.T) {
	e := newTestEngine(t, 2)
	clock := newFakeClock()
	_ = e.Forfeit("p1")
	tickN(e, clock, 5)

	if err := e.Reset(); err != nil {
		t.Fatal(err)
	}
	s := e.State()
	if s.Frame != 0 || !s.LastUpdate.IsZero() {
		t.Errorf("Frame = %d, LastUpdate = %v after reset", s.Frame, s.LastUpdate)
	}
	for _, p := range s.Players {
		if p.Health != PlayerMaxHealth || p.Exploded || p.Position.Y != PlayerSpawnY {
			t.Errorf("player not reset: %+v", p)
		}
	}
	if e.CurrentTurn() != "p1" {
		t.Errorf("CurrentTurn = %q, want p1", e.CurrentTurn())
	}
}

func TestEngine_SandSettlesOnceThenSmoothsOnePassPerTick(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Seed = 7
	cfg.IsSand = true
	e, err := NewEngine(cfg, []PlayerSpec{{ID: "p1"}})
	if err != nil {
		t.Fatal(err)
	}

	surface := e.State().TerrainMesh.Surface()
	for i := 0; i < len(surface)-1; i++ {
		if d := math.Abs(surface[i+1].Y - surface[i].Y); d > SandMaxPeak {
			t.Fatalf("generated sand terrain not settled at %d: |dy| = %v", i, d)
		}
	}

	mesh := FlatTerrain(cfg.WorldWidth, cfg.WorldHeight, 500, 300)
	mesh.Points[150].Y = 400
	e.state.TerrainMesh = mesh.Clone()
	onePass := mesh.Clone()
	if !SmoothTerrain(&onePass, SandMaxPeak) {
		t.Fatal("peak was not smoothed")
	}
	settled := mesh.Clone()
	SettleTerrain(&settled, SandMaxPeak)

	tickN(e, newFakeClock(), 1)

	got := e.State().TerrainMesh.Points
	for i := range got {
		if got[i] != onePass.Points[i] {
			t.Fatalf("point %d = %v, want single pass %v", i, got[i], onePass.Points[i])
		}
	}
	if slices.Equal(got, settled.Points) {
		t.Errorf("one tick settled the terrain completely")
	}
}

func TestEngine_NonSandTerrainUntouchedByTick(t *testing.T) {
	e := newTestEngine(t, 1)
	e.state.TerrainMesh.Points[150].Y = 400
	before := e.State().TerrainMesh.Clone()

	tickN(e, newFakeClock(), 1)

	if !slices.Equal(e.State().TerrainMesh.Points, before.Points) {
		t.Errorf("terrain smoothed outside sand mode")
	}
}
