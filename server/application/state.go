package application

import "time"

// GameState は1試合の権威ある状態です。Engine が排他的に所有し、tick内でのみ変更されます。
type GameState struct {
	Frame              uint64
	Players            []*Player // ターン順
	TerrainMesh        TerrainMesh
	Explosions         []*Explosion
	Missiles           []*Missile
	LastUpdate         time.Time
	WorldWidth         float64
	WorldHeight        float64
	Gravity            Vector2
	Wind               Vector2
	IsSand             bool
	CurrentPlayerIndex int

	Finished bool
	WinnerID string
}

// CurrentPlayer は手番のプレイヤーを返します。範囲外なら nil です。
func (s *GameState) CurrentPlayer() *Player {
	if s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players) {
		return nil
	}
	return s.Players[s.CurrentPlayerIndex]
}

func (s *GameState) PlayerByID(id string) (*Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// nextAlivePlayerIndex は from の次 (循環) の生存プレイヤーの位置を返します。見つからなければ -1 です。
func (s *GameState) nextAlivePlayerIndex(from int) int {
	n := len(s.Players)
	for k := 1; k <= n; k++ {
		idx := (from + k) % n
		if !s.Players[idx].IsDead() {
			return idx
		}
	}
	return -1
}

func (s *GameState) alivePlayers() []*Player {
	alive := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsDead() {
			alive = append(alive, p)
		}
	}
	return alive
}

func (s *GameState) hasTransients() bool {
	return len(s.Missiles) > 0 || len(s.Explosions) > 0
}

// GameStateSnapshot は観測者へ配信する GameState のディープコピーです。
type GameStateSnapshot struct {
	Frame              uint64           `json:"frame"`
	Players            []PlayerSnapshot `json:"players"`
	TerrainMesh        []Vector2        `json:"terrainMesh"`
	Explosions         []Explosion      `json:"explosions"`
	Missiles           []Missile        `json:"missiles"`
	LastUpdate         int64            `json:"lastUpdate"` // unix ms
	WorldWidth         float64          `json:"worldWidth"`
	WorldHeight        float64          `json:"worldHeight"`
	Gravity            Vector2          `json:"gravity"`
	Wind               Vector2          `json:"wind"`
	IsSand             bool             `json:"isSand"`
	CurrentPlayerIndex int              `json:"currentPlayerIndex"`
	CurrentPlayerID    string           `json:"currentPlayerId"`
	Finished           bool             `json:"finished"`
	WinnerID           string           `json:"winnerId,omitempty"`
}

func (s *GameState) Snapshot() *GameStateSnapshot {
	snap := &GameStateSnapshot{
		Frame:              s.Frame,
		Players:            make([]PlayerSnapshot, 0, len(s.Players)),
		TerrainMesh:        s.TerrainMesh.Clone().Points,
		Explosions:         make([]Explosion, 0, len(s.Explosions)),
		Missiles:           make([]Missile, 0, len(s.Missiles)),
		WorldWidth:         s.WorldWidth,
		WorldHeight:        s.WorldHeight,
		Gravity:            s.Gravity,
		Wind:               s.Wind,
		IsSand:             s.IsSand,
		CurrentPlayerIndex: s.CurrentPlayerIndex,
		Finished:           s.Finished,
		WinnerID:           s.WinnerID,
	}
	if !s.LastUpdate.IsZero() {
		snap.LastUpdate = s.LastUpdate.UnixMilli()
	}
	for _, p := range s.Players {
		snap.Players = append(snap.Players, p.Snapshot())
	}
	for _, e := range s.Explosions {
		snap.Explosions = append(snap.Explosions, *e)
	}
	for _, m := range s.Missiles {
		snap.Missiles = append(snap.Missiles, *m)
	}
	if p := s.CurrentPlayer(); p != nil {
		snap.CurrentPlayerID = p.ID
	}
	return snap
}
