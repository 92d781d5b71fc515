package application

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"

	"eartheater/server/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrLobbyNotFound      = errors.New("lobby not found")
	ErrNotLobbyOwner      = errors.New("only the lobby owner can do that")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrGameNotStarted     = errors.New("game not started")
	ErrNotInLobby         = errors.New("not in a lobby")
	ErrAlreadyInLobby     = errors.New("already in a lobby")
)

const (
	lobbyCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	lobbyCodeLength = 6
)

// lobbyState は Waiting か Running のどちらかです。
type lobbyState interface {
	isLobbyState()
}

type lobbyWaiting struct{}

type lobbyRunning struct {
	engine *Engine
}

func (lobbyWaiting) isLobbyState() {}
func (lobbyRunning) isLobbyState() {}

type lobbyMember struct {
	sessionID domain.SessionID
	name      string
}

// Lobby は試合前の待合室と、開始後の試合を束ねます。
type Lobby struct {
	ID      string
	OwnerID domain.SessionID

	members     []lobbyMember // 参加順 = ターン順
	state       lobbyState
	broadcaster *lobbyBroadcaster
}

func (l *Lobby) engine() (*Engine, bool) {
	running, ok := l.state.(lobbyRunning)
	if !ok {
		return nil, false
	}
	return running.engine, true
}

// inProgress は決着前の試合が動いているかを返します。
func (l *Lobby) inProgress() bool {
	engine, running := l.engine()
	return running && !engine.Finished()
}

func (l *Lobby) indexOf(sid domain.SessionID) int {
	for i, m := range l.members {
		if m.sessionID == sid {
			return i
		}
	}
	return -1
}

func (l *Lobby) sessionIDs() []domain.SessionID {
	ids := make([]domain.SessionID, len(l.members))
	for i, m := range l.members {
		ids[i] = m.sessionID
	}
	return ids
}

// LobbyMemberInfo はクライアントへ返すメンバー情報です。
type LobbyMemberInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LobbyInfo は createLobby / joinLobby の応答です。
type LobbyInfo struct {
	ID       string            `json:"id"`
	OwnerID  string            `json:"ownerId"`
	Players  []LobbyMemberInfo `json:"players"`
	Started  bool              `json:"started"`
	Finished bool              `json:"finished"`
}

// StartGameResult は startGame の応答です。
type StartGameResult struct {
	LobbyID string `json:"lobbyId"`
}

func (l *Lobby) info() LobbyInfo {
	players := make([]LobbyMemberInfo, len(l.members))
	for i, m := range l.members {
		players[i] = LobbyMemberInfo{ID: m.sessionID.String(), Name: m.name}
	}
	engine, started := l.engine()
	return LobbyInfo{
		ID:       l.ID,
		OwnerID:  l.OwnerID.String(),
		Players:  players,
		Started:  started,
		Finished: started && engine.Finished(),
	}
}

// lobbyBroadcaster は試合のスナップショットをロビーの全メンバーのセッショントピックへ配信します。
// メンバー一覧は tick の goroutine から読まれるため atomic に差し替えます。
type lobbyBroadcaster struct {
	lobbyID string
	pubsub  domain.PubSub
	codec   domain.Codec
	members atomic.Pointer[[]domain.SessionID]
}

func (b *lobbyBroadcaster) setMembers(ids []domain.SessionID) {
	b.members.Store(&ids)
}

func (b *lobbyBroadcaster) Publish(ctx context.Context, snapshot *GameStateSnapshot) {
	members := b.members.Load()
	if members == nil || len(*members) == 0 {
		return
	}
	data, err := b.codec.Marshal(domain.Push(domain.MsgGameStateUpdate, snapshot))
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode game state", "lobbyID", b.lobbyID, "err", err)
		return
	}
	for _, sid := range *members {
		b.pubsub.Publish(ctx, domain.SessionTopic(sid), domain.Message{SessionID: sid, Data: data})
	}
}

// LobbyService はロビーの作成・参加・試合の開始と入力の中継を行う Dispatcher です。
type LobbyService struct {
	ctx       context.Context
	pubsub    domain.PubSub
	codec     domain.Codec
	engineCfg EngineConfig
	recorder  TickRecorder
	tracer    trace.Tracer
	newCode   func() string

	mu       sync.Mutex
	lobbies  map[string]*Lobby
	memberOf map[domain.SessionID]string
}

var _ domain.Dispatcher = (*LobbyService)(nil)

type LobbyOption func(*LobbyService)

func WithLobbyTickRecorder(r TickRecorder) LobbyOption {
	return func(s *LobbyService) { s.recorder = r }
}

// WithLobbyCodeGenerator はロビーコードの生成関数を差し替えます。
func WithLobbyCodeGenerator(gen func() string) LobbyOption {
	return func(s *LobbyService) { s.newCode = gen }
}

// NewLobbyService は ctx を試合エンジンの親コンテキストとして使います。
func NewLobbyService(ctx context.Context, pubsub domain.PubSub, codec domain.Codec, engineCfg EngineConfig, opts ...LobbyOption) *LobbyService {
	s := &LobbyService{
		ctx:       context.WithoutCancel(ctx),
		pubsub:    pubsub,
		codec:     codec,
		engineCfg: engineCfg,
		tracer:    otel.Tracer("eartheater/lobby"),
		newCode:   generateLobbyCode,
		lobbies:   make(map[string]*Lobby),
		memberOf:  make(map[domain.SessionID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LobbyService) LobbyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}

// Lobby はロビーの情報を返します。
func (s *LobbyService) Lobby(id string) (LobbyInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	if !ok {
		return LobbyInfo{}, false
	}
	return l.info(), true
}

func (s *LobbyService) Dispatch(ctx context.Context, sid domain.SessionID, req *domain.Request) *domain.Response {
	ctx, span := s.tracer.Start(ctx, "lobby."+string(req.Type), trace.WithAttributes(
		attribute.String("session.id", sid.String()),
		attribute.Int64("request.seq", int64(req.Seq)),
	))
	defer span.End()

	data, err := s.handle(ctx, sid, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.DebugContext(ctx, "request rejected", "sessionID", sid, "type", req.Type, "err", err)
		return domain.Failure(req.Seq, req.Type, err)
	}
	return domain.Success(req.Seq, req.Type, data)
}

func (s *LobbyService) handle(ctx context.Context, sid domain.SessionID, req *domain.Request) (any, error) {
	switch req.Type {
	case domain.MsgCreateLobby:
		return s.CreateLobby(ctx, sid, req.Name)
	case domain.MsgJoinLobby:
		return s.JoinLobby(ctx, sid, req.LobbyID, req.Name)
	case domain.MsgLeaveLobby:
		return nil, s.LeaveLobby(ctx, sid)
	case domain.MsgStartGame:
		return s.StartGame(ctx, sid)
	case domain.MsgKeyDown, domain.MsgKeyUp:
		intent, err := ParseKey(req.Key)
		if err != nil {
			return nil, err
		}
		engine, err := s.runningEngine(sid)
		if err != nil {
			return nil, err
		}
		if req.Type == domain.MsgKeyDown {
			return nil, engine.KeyDown(sid.String(), intent)
		}
		return nil, engine.KeyUp(sid.String(), intent)
	case domain.MsgFire:
		engine, err := s.runningEngine(sid)
		if err != nil {
			return nil, err
		}
		return nil, engine.Fire(sid.String())
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, req.Type)
	}
}

// Disconnect は切断したセッションをロビーから外します。
func (s *LobbyService) Disconnect(ctx context.Context, sid domain.SessionID) {
	if err := s.LeaveLobby(ctx, sid); err != nil && !errors.Is(err, ErrNotInLobby) {
		slog.WarnContext(ctx, "failed to leave lobby on disconnect", "sessionID", sid, "err", err)
	}
}

func (s *LobbyService) CreateLobby(ctx context.Context, sid domain.SessionID, name string) (LobbyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberOf[sid]; ok {
		return LobbyInfo{}, ErrAlreadyInLobby
	}
	id := s.newCode()
	for _, exists := s.lobbies[id]; exists; _, exists = s.lobbies[id] {
		id = s.newCode()
	}
	l := &Lobby{
		ID:      id,
		OwnerID: sid,
		members: []lobbyMember{{sessionID: sid, name: memberName(name, 0)}},
		state:   lobbyWaiting{},
		broadcaster: &lobbyBroadcaster{
			lobbyID: id,
			pubsub:  s.pubsub,
			codec:   s.codec,
		},
	}
	l.broadcaster.setMembers(l.sessionIDs())
	s.lobbies[id] = l
	s.memberOf[sid] = id
	slog.InfoContext(ctx, "lobby created", "lobbyID", id, "sessionID", sid)
	return l.info(), nil
}

func (s *LobbyService) JoinLobby(ctx context.Context, sid domain.SessionID, lobbyID, name string) (LobbyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberOf[sid]; ok {
		return LobbyInfo{}, ErrAlreadyInLobby
	}
	l, ok := s.lobbies[lobbyID]
	if !ok {
		return LobbyInfo{}, fmt.Errorf("%w: %q", ErrLobbyNotFound, lobbyID)
	}
	if l.inProgress() {
		return LobbyInfo{}, ErrGameAlreadyStarted
	}
	l.members = append(l.members, lobbyMember{sessionID: sid, name: memberName(name, len(l.members))})
	l.broadcaster.setMembers(l.sessionIDs())
	s.memberOf[sid] = l.ID
	slog.InfoContext(ctx, "lobby joined", "lobbyID", l.ID, "sessionID", sid, "members", len(l.members))
	return l.info(), nil
}

// LeaveLobby はセッションをロビーから外します。試合中なら脱落扱いにし、
// 最後の1人が抜けたロビーは試合を止めて破棄します。
func (s *LobbyService) LeaveLobby(ctx context.Context, sid domain.SessionID) error {
	var stop *Engine
	defer func() {
		if stop != nil {
			stop.Stop()
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	lobbyID, ok := s.memberOf[sid]
	if !ok {
		return ErrNotInLobby
	}
	delete(s.memberOf, sid)
	l := s.lobbies[lobbyID]
	idx := l.indexOf(sid)
	if idx >= 0 {
		l.members = append(l.members[:idx], l.members[idx+1:]...)
	}
	l.broadcaster.setMembers(l.sessionIDs())

	engine, running := l.engine()
	if running {
		if err := engine.Forfeit(sid.String()); err != nil {
			slog.WarnContext(ctx, "failed to forfeit player", "lobbyID", l.ID, "sessionID", sid, "err", err)
		}
	}
	if len(l.members) == 0 {
		delete(s.lobbies, l.ID)
		if running {
			stop = engine
		}
		slog.InfoContext(ctx, "lobby closed", "lobbyID", l.ID)
		return nil
	}
	if l.OwnerID == sid {
		l.OwnerID = l.members[0].sessionID
	}
	slog.InfoContext(ctx, "lobby left", "lobbyID", l.ID, "sessionID", sid, "members", len(l.members))
	return nil
}

// StartGame はロビーの参加者で試合を開始します。オーナーのみが呼べ、1ロビーにつきエンジンは1つです。
// 決着済みの試合があれば、同じ顔ぶれならエンジンを Reset して再戦し、変わっていれば作り直します。
func (s *LobbyService) StartGame(ctx context.Context, sid domain.SessionID) (StartGameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lobbyID, ok := s.memberOf[sid]
	if !ok {
		return StartGameResult{}, ErrNotInLobby
	}
	l := s.lobbies[lobbyID]
	if l.OwnerID != sid {
		return StartGameResult{}, ErrNotLobbyOwner
	}
	if l.inProgress() {
		return StartGameResult{}, ErrGameAlreadyStarted
	}

	roster := make([]PlayerSpec, len(l.members))
	for i, m := range l.members {
		roster[i] = PlayerSpec{ID: m.sessionID.String(), Name: m.name}
	}
	engineCtx := trace.ContextWithSpanContext(s.ctx, trace.SpanContextFromContext(ctx))

	if previous, running := l.engine(); running {
		if slices.Equal(previous.Roster(), roster) {
			if err := previous.Reset(); err != nil {
				return StartGameResult{}, fmt.Errorf("reset engine: %w", err)
			}
			if err := previous.Start(engineCtx); err != nil {
				return StartGameResult{}, err
			}
			slog.InfoContext(ctx, "game restarted", "lobbyID", l.ID, "players", len(roster))
			return StartGameResult{LobbyID: l.ID}, nil
		}
		previous.Stop()
		l.state = lobbyWaiting{}
	}

	opts := []EngineOption{WithObserver(l.broadcaster)}
	if s.recorder != nil {
		opts = append(opts, WithTickRecorder(s.recorder))
	}
	engine, err := NewEngine(s.engineCfg, roster, opts...)
	if err != nil {
		return StartGameResult{}, fmt.Errorf("create engine: %w", err)
	}
	if err := engine.Start(engineCtx); err != nil {
		return StartGameResult{}, err
	}
	l.state = lobbyRunning{engine: engine}
	slog.InfoContext(ctx, "game started", "lobbyID", l.ID, "players", len(roster))
	return StartGameResult{LobbyID: l.ID}, nil
}

func (s *LobbyService) runningEngine(sid domain.SessionID) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lobbyID, ok := s.memberOf[sid]
	if !ok {
		return nil, ErrNotInLobby
	}
	engine, running := s.lobbies[lobbyID].engine()
	if !running {
		return nil, ErrGameNotStarted
	}
	return engine, nil
}

// Close は全ての試合を停止します。
func (s *LobbyService) Close() {
	s.mu.Lock()
	engines := make([]*Engine, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		if engine, ok := l.engine(); ok {
			engines = append(engines, engine)
		}
	}
	s.mu.Unlock()
	for _, e := range engines {
		e.Stop()
	}
}

func memberName(name string, index int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("Player %d", index+1)
}

func generateLobbyCode() string {
	b := make([]byte, lobbyCodeLength)
	n := big.NewInt(int64(len(lobbyCodeChars)))
	for i := range b {
		idx, _ := rand.Int(rand.Reader, n)
		b[i] = lobbyCodeChars[idx.Int64()]
	}
	return string(b)
}
