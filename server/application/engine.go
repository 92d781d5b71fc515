package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"eartheater/utils"
)

var (
	ErrEngineBusy     = errors.New("engine command queue is full")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrNoPlayers      = errors.New("engine requires at least one player")
	ErrPlayerNotFound = errors.New("player not found")
	// ErrInvalidEngineConfig は物理パラメータが有限でない、または範囲外の場合に返されます。
	ErrInvalidEngineConfig = errors.New("invalid engine config")
)

// EngineConfig はシミュレーションの環境設定です。
type EngineConfig struct {
	TickHz      int
	WorldWidth  float64
	WorldHeight float64
	Gravity     Vector2
	Wind        Vector2
	IsSand      bool
	Seed        uint64 // 0 のときはランダム
	FireDelay   time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickHz:      DefaultTickHz,
		WorldWidth:  DefaultWorldWidth,
		WorldHeight: DefaultWorldHeight,
		Gravity:     V(0, DefaultGravityY),
		Wind:        V(DefaultWindX, 0),
		FireDelay:   FireDelay,
	}
}

// Validate は重力・風・ワールドサイズが有限で、サイズが正であることを確認します。
func (c EngineConfig) Validate() error {
	if !c.Gravity.IsFinite() {
		return fmt.Errorf("%w: gravity %v", ErrInvalidEngineConfig, c.Gravity)
	}
	if !c.Wind.IsFinite() {
		return fmt.Errorf("%w: wind %v", ErrInvalidEngineConfig, c.Wind)
	}
	if !utils.FiniteVec(c.WorldWidth, c.WorldHeight) || c.WorldWidth <= 0 || c.WorldHeight <= 0 {
		return fmt.Errorf("%w: world %vx%v", ErrInvalidEngineConfig, c.WorldWidth, c.WorldHeight)
	}
	return nil
}

// PlayerSpec は試合開始時に生成するプレイヤーの定義です。
type PlayerSpec struct {
	ID   string
	Name string
}

// Observer は tick ごとの状態スナップショットを受け取ります。
type Observer interface {
	Publish(ctx context.Context, snapshot *GameStateSnapshot)
}

type ObserverFunc func(ctx context.Context, snapshot *GameStateSnapshot)

func (f ObserverFunc) Publish(ctx context.Context, snapshot *GameStateSnapshot) { f(ctx, snapshot) }

// TickRecorder は tick の処理時間を記録します。
type TickRecorder interface {
	RecordTick(ctx context.Context, frame uint64, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordTick(context.Context, uint64, time.Duration) {}

type engineStatus uint8

const (
	engineIdle engineStatus = iota
	engineRunning
)

type commandKind uint8

const (
	cmdKeyDown commandKind = iota + 1
	cmdKeyUp
	cmdFire
	cmdForfeit
)

type engineCommand struct {
	kind     commandKind
	playerID string
	intent   Intent
}

var playerColors = []string{"blue", "red", "green", "orange", "purple", "yellow"}

// Engine は固定tickでGameStateを更新するシミュレーションループです。
// 入力は Enqueue されたコマンドとして tick の先頭でまとめて反映されるため、
// GameState に触れるのは tick を実行する goroutine だけです。
type Engine struct {
	cfg    EngineConfig
	roster []PlayerSpec
	rng    *rand.Rand
	state  *GameState

	observers []Observer
	recorder  TickRecorder

	cmdCh       chan engineCommand
	currentTurn atomic.Value // string
	finished    atomic.Bool

	mu     sync.Mutex
	status engineStatus
	cancel context.CancelFunc
	done   chan struct{}
}

type EngineOption func(*Engine)

func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

func WithTickRecorder(r TickRecorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine は roster の順をターン順として新しい試合を生成します。
func NewEngine(cfg EngineConfig, roster []PlayerSpec, opts ...EngineOption) (*Engine, error) {
	if len(roster) == 0 {
		return nil, ErrNoPlayers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TickHz <= 0 {
		cfg.TickHz = DefaultTickHz
	}
	if cfg.FireDelay <= 0 {
		cfg.FireDelay = FireDelay
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	e := &Engine{
		cfg:      cfg,
		roster:   append([]PlayerSpec(nil), roster...),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		recorder: noopRecorder{},
		cmdCh:    make(chan engineCommand, 1024),
	}
	for _, opt := range opts {
		opt(e)
	}
	state, err := e.newGameState()
	if err != nil {
		return nil, err
	}
	e.replaceState(state)
	return e, nil
}

func (e *Engine) newGameState() (*GameState, error) {
	mesh, err := GenerateTerrain(e.rng, DefaultTerrainConfig(e.cfg.WorldWidth, e.cfg.WorldHeight))
	if err != nil {
		return nil, fmt.Errorf("generate terrain: %w", err)
	}
	if e.cfg.IsSand {
		SettleTerrain(&mesh, SandMaxPeak)
	}
	state := &GameState{
		TerrainMesh: mesh,
		WorldWidth:  e.cfg.WorldWidth,
		WorldHeight: e.cfg.WorldHeight,
		Gravity:     e.cfg.Gravity,
		Wind:        e.cfg.Wind,
		IsSand:      e.cfg.IsSand,
	}
	n := float64(len(e.roster))
	for i, spec := range e.roster {
		x := e.cfg.WorldWidth*float64(i+1)/(n+1) - PlayerHitBoxWidth/2
		p := NewPlayer(spec.ID, spec.Name, V(x, PlayerSpawnY))
		p.Color = playerColors[i%len(playerColors)]
		state.Players = append(state.Players, p)
	}
	return state, nil
}

func (e *Engine) replaceState(state *GameState) {
	e.state = state
	e.publishTurn()
}

// State はエンジンが所有する GameState を返します。tick 実行中の goroutine 以外から変更してはいけません。
func (e *Engine) State() *GameState {
	return e.state
}

// Roster は試合開始時のプレイヤー定義 (ターン順) のコピーを返します。
func (e *Engine) Roster() []PlayerSpec {
	return append([]PlayerSpec(nil), e.roster...)
}

func (e *Engine) TickInterval() time.Duration {
	return time.Second / time.Duration(e.cfg.TickHz)
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == engineRunning
}

// Start は tick ループを開始します。実行中に呼ばれた場合は何もしません。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == engineRunning {
		slog.InfoContext(ctx, "engine already started")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.status = engineRunning
	go e.run(runCtx, e.done)
	slog.DebugContext(ctx, "engine started", "tickHz", e.cfg.TickHz, "players", len(e.roster))
	return nil
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// Stop は tick ループを停止し、終了を待ちます。
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != engineRunning {
		return
	}
	e.cancel()
	<-e.done
	e.status = engineIdle
}

// Reset はループを止め、新しい地形と初期状態のプレイヤーで GameState を置き換えます。
func (e *Engine) Reset() error {
	e.Stop()
	state, err := e.newGameState()
	if err != nil {
		return err
	}
	for len(e.cmdCh) > 0 {
		<-e.cmdCh
	}
	e.replaceState(state)
	return nil
}

func (e *Engine) enqueue(cmd engineCommand) error {
	select {
	case e.cmdCh <- cmd:
		return nil
	default:
		return ErrEngineBusy
	}
}

func (e *Engine) KeyDown(playerID string, intent Intent) error {
	return e.enqueue(engineCommand{kind: cmdKeyDown, playerID: playerID, intent: intent})
}

func (e *Engine) KeyUp(playerID string, intent Intent) error {
	return e.enqueue(engineCommand{kind: cmdKeyUp, playerID: playerID, intent: intent})
}

// Fire は手番のプレイヤーの発射要求をキューに積みます。
// 手番でないプレイヤーからの要求は ErrNotYourTurn です。
func (e *Engine) Fire(playerID string) error {
	if e.CurrentTurn() != playerID {
		return ErrNotYourTurn
	}
	return e.enqueue(engineCommand{kind: cmdFire, playerID: playerID})
}

// Forfeit はプレイヤーを脱落させます (切断時)。
func (e *Engine) Forfeit(playerID string) error {
	return e.enqueue(engineCommand{kind: cmdForfeit, playerID: playerID})
}

// CurrentTurn は直近の tick 終了時点の手番プレイヤーIDを返します。生存者がいなければ空文字です。
func (e *Engine) CurrentTurn() string {
	id, _ := e.currentTurn.Load().(string)
	return id
}

// Finished は直近の tick 終了時点で決着しているかを返します。
func (e *Engine) Finished() bool {
	return e.finished.Load()
}

func (e *Engine) publishTurn() {
	id := ""
	if p := e.state.CurrentPlayer(); p != nil && !p.IsDead() {
		id = p.ID
	}
	e.currentTurn.Store(id)
	e.finished.Store(e.state.Finished)
}

// Tick は1ステップ分シミュレーションを進めます。
// 順序: コマンド反映 → 重力と接地 → 入力 → 爆発 → 死亡爆発 → 砂 → ミサイル → ターン → 配信
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	s := e.state
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "engine tick panicked", "frame", s.Frame, "panic", r)
		}
		s.LastUpdate = now
		e.recorder.RecordTick(ctx, s.Frame, time.Since(started))
	}()

	e.drainCommands(ctx)

	dt := MaxStepMs
	if !s.LastUpdate.IsZero() {
		elapsed := float64(now.Sub(s.LastUpdate)) / float64(time.Millisecond)
		dt = math.Max(0, math.Min(elapsed, MaxStepMs))
	}
	s.LastUpdate = now

	s.Frame++
	e.applyGravity(ctx, dt)
	e.applyInput(ctx, dt, now)
	e.resolveExplosions(dt)
	e.resolveDeaths(ctx)
	if s.IsSand {
		SmoothTerrain(&s.TerrainMesh, SandMaxPeak)
	}
	e.stepMissiles(dt)
	e.advanceTurn(ctx)
	e.publish(ctx)
}

func (e *Engine) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-e.cmdCh:
			e.applyCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (e *Engine) applyCommand(ctx context.Context, cmd engineCommand) {
	p, ok := e.state.PlayerByID(cmd.playerID)
	if !ok {
		slog.WarnContext(ctx, "command for unknown player", "playerID", cmd.playerID)
		return
	}
	switch cmd.kind {
	case cmdKeyDown:
		p.intents = p.intents.With(cmd.intent)
	case cmdKeyUp:
		p.intents = p.intents.Without(cmd.intent)
	case cmdFire:
		p.pendingFire = true
	case cmdForfeit:
		p.intents = 0
		p.Health = 0
	default:
		slog.WarnContext(ctx, "unknown engine command", "kind", cmd.kind)
	}
}

// applyGravity は全プレイヤーを落下させ、足元の地表の線分に接地させます。
// 地表は等間隔のハイトマップではないため毎tick全線分を走査します。
func (e *Engine) applyGravity(ctx context.Context, dt float64) {
	s := e.state
	for _, p := range s.Players {
		prev := p.Position
		p.Position.Y += s.Gravity.Y * dt / 1000
		snapToGround(p, &s.TerrainMesh)
		if !p.Position.IsFinite() {
			slog.WarnContext(ctx, "non-finite player position, rolled back", "playerID", p.ID)
			p.Position = prev
		}
	}
}

func snapToGround(p *Player, mesh *TerrainMesh) {
	surface := mesh.Surface()
	centerX := p.Position.X + p.HitBox.X*0.5
	for i := 0; i < len(surface)-1; i++ {
		p1, p2 := surface[i], surface[i+1]
		if centerX < p1.X || centerX > p2.X {
			continue
		}
		slope, yIntercept, ok := segmentLine(p1, p2)
		if !ok {
			continue
		}
		y := slope*centerX + yIntercept
		if p.Position.Y >= y-p.HitBox.Y {
			p.Position.Y = y - p.HitBox.Y
		}
	}
}

func (e *Engine) applyInput(ctx context.Context, dt float64, now time.Time) {
	s := e.state
	current := s.CurrentPlayer()
	for _, p := range s.Players {
		if p != current {
			p.pendingFire = false
		}
	}
	if current == nil {
		return
	}
	defer func() { current.pendingFire = false }()
	if current.IsDead() {
		return
	}

	direction := 0.0
	if current.intents.Has(IntentRight) {
		direction = 1
	}
	if current.intents.Has(IntentLeft) {
		direction = -1
	}
	if direction != 0 && canMove(current, direction, &s.TerrainMesh) {
		current.Position.X += direction * MoveSpeed * dt / 1000
		current.Position.X = clamp(current.Position.X, 0, s.WorldWidth-current.HitBox.X)
	}

	aim := 0.0
	if current.intents.Has(IntentAimCCW) {
		aim = -AimStep
	}
	if current.intents.Has(IntentAimCW) {
		aim = AimStep
	}
	if aim != 0 {
		if current.intents.Has(IntentFast) {
			aim *= AimFastMult
		}
		current.Aim(aim)
	}

	if current.intents.Has(IntentPowerUp) {
		current.AdjustPower(PowerStep)
	}
	if current.intents.Has(IntentPowerDown) {
		current.AdjustPower(-PowerStep)
	}

	if current.intents.Has(IntentFire) || current.pendingFire {
		e.tryFire(ctx, current, now)
	}
}

// canMove は進行方向の地表の傾きが急すぎないかを判定します。
// ヒットボックス中心から右へ幅1つ分の範囲で最も近い点と、その進行方向の隣の点の傾きを見ます。
// どちらかの点がなければ移動できません。
func canMove(p *Player, direction float64, mesh *TerrainMesh) bool {
	surface := mesh.Surface()
	origin := V(p.Position.X+p.HitBox.X/2, p.Position.Y)
	nearest := -1
	nearestDist := math.Inf(1)
	for i, point := range surface {
		if point.X < origin.X || point.X > origin.X+p.HitBox.X {
			continue
		}
		if d := point.DistanceSquared(origin); d < nearestDist {
			nearest, nearestDist = i, d
		}
	}
	if nearest < 0 {
		return false
	}
	neighbour := nearest + int(direction)
	if neighbour < 0 || neighbour >= len(surface) {
		return false
	}
	point, next := surface[nearest], surface[neighbour]
	dx := next.X - point.X
	if dx == 0 {
		return false
	}
	slope := (next.Y - point.Y) / dx
	if direction < 0 {
		return slope < MaxSlope
	}
	return slope > -MaxSlope
}

func (e *Engine) tryFire(ctx context.Context, p *Player, now time.Time) {
	if p.hasFired {
		return
	}
	if !p.canFire(now, e.cfg.FireDelay) {
		return
	}
	p.lastFireAt = now
	p.hasFired = true
	missile := NewMissile(p.ID, p.CanonTipPosition(), p.CanonTipVelocity())
	e.state.Missiles = append(e.state.Missiles, missile)
	slog.DebugContext(ctx, "missile fired", "playerID", p.ID, "angle", p.FacingAngle, "power", p.Power)
}

func (e *Engine) resolveExplosions(dt float64) {
	s := e.state
	kept := s.Explosions[:0]
	for _, explosion := range s.Explosions {
		explosion.Apply(s)
		explosion.Update(dt)
		if explosion.TimeLeftMs() > 0 {
			kept = append(kept, explosion)
		}
	}
	s.Explosions = kept
}

// resolveDeaths は死亡したプレイヤーの位置で1度だけ爆発を起こします。死体はリストに残ります。
func (e *Engine) resolveDeaths(ctx context.Context) {
	s := e.state
	for _, p := range s.Players {
		if p.IsDead() && !p.Exploded {
			p.Exploded = true
			s.Explosions = append(s.Explosions, NewExplosion(p.Position, DeathExplosionRadius, DeathExplosionDamage))
			slog.InfoContext(ctx, "player destroyed", "playerID", p.ID, "frame", s.Frame)
		}
	}
}

func (e *Engine) stepMissiles(dt float64) {
	s := e.state
	kept := s.Missiles[:0]
	for _, missile := range s.Missiles {
		missile.Update(dt, s)
		if missile.IsExploded || missile.Expired() {
			missile.IsExploded = true
			s.Explosions = append(s.Explosions, NewExplosion(missile.Position, missile.ExplosionRadius, missile.Damage))
			continue
		}
		kept = append(kept, missile)
	}
	s.Missiles = kept
}

// advanceTurn は手番のプレイヤーが発射済み (または死亡) で、弾と爆発が全て消えた時点で次の生存者へ手番を渡します。
func (e *Engine) advanceTurn(ctx context.Context) {
	s := e.state
	if s.hasTransients() {
		return
	}
	e.updateOutcome(ctx)

	current := s.CurrentPlayer()
	if current == nil || (!current.hasFired && !current.IsDead()) {
		return
	}
	current.hasFired = false
	next := s.nextAlivePlayerIndex(s.CurrentPlayerIndex)
	if next < 0 {
		return
	}
	if next != s.CurrentPlayerIndex {
		slog.DebugContext(ctx, "turn advanced", "from", current.ID, "to", s.Players[next].ID)
	}
	s.CurrentPlayerIndex = next
	s.Players[next].hasFired = false
}

func (e *Engine) updateOutcome(ctx context.Context) {
	s := e.state
	if s.Finished || len(s.Players) < 2 {
		return
	}
	alive := s.alivePlayers()
	if len(alive) > 1 {
		return
	}
	s.Finished = true
	if len(alive) == 1 {
		s.WinnerID = alive[0].ID
	}
	slog.InfoContext(ctx, "match finished", "winnerID", s.WinnerID, "frame", s.Frame)
}

func (e *Engine) publish(ctx context.Context) {
	e.publishTurn()
	if len(e.observers) == 0 {
		return
	}
	snapshot := e.state.Snapshot()
	for _, o := range e.observers {
		o.Publish(ctx, snapshot)
	}
}
