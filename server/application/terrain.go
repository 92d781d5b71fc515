package application

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var ErrInvalidTerrainConfig = errors.New("invalid terrain config")

// TerrainConfig は中点変位法による地形生成のパラメータです。
type TerrainConfig struct {
	WorldWidth  float64
	WorldHeight float64
	MinHeight   float64
	MaxHeight   float64
	Resolution  float64 // 点間隔
	Roughness   float64 // 1パスごとの変位の減衰率
}

// DefaultTerrainConfig は指定サイズのワールドに対する標準の地形パラメータを返します。
func DefaultTerrainConfig(worldWidth, worldHeight float64) TerrainConfig {
	return TerrainConfig{
		WorldWidth:  worldWidth,
		WorldHeight: worldHeight,
		MinHeight:   TerrainMarginY,
		MaxHeight:   worldHeight - TerrainMarginY,
		Resolution:  TerrainResolution,
		Roughness:   TerrainRoughness,
	}
}

func (c TerrainConfig) validate() error {
	switch {
	case c.WorldWidth <= 0 || c.WorldHeight <= 0:
		return fmt.Errorf("%w: world size %vx%v", ErrInvalidTerrainConfig, c.WorldWidth, c.WorldHeight)
	case c.Resolution <= 0:
		return fmt.Errorf("%w: resolution %v", ErrInvalidTerrainConfig, c.Resolution)
	case c.MinHeight > c.MaxHeight:
		return fmt.Errorf("%w: min height %v > max height %v", ErrInvalidTerrainConfig, c.MinHeight, c.MaxHeight)
	case c.Roughness <= 0 || c.Roughness > 1:
		return fmt.Errorf("%w: roughness %v", ErrInvalidTerrainConfig, c.Roughness)
	}
	return nil
}

// TerrainMesh は地表を表す折れ線です。
// Points の末尾2点は塗りつぶし用にポリゴンを閉じる (worldWidth, worldHeight), (0, worldHeight) です。
// 生成後は点の追加・削除・並べ替えを行わず、y座標のみが変化します。
type TerrainMesh struct {
	Points []Vector2 `json:"points"`
}

const closingPoints = 2

// Surface は閉じる点を除いた地表の点列を返します。返り値は Points と記憶域を共有します。
func (m *TerrainMesh) Surface() []Vector2 {
	if len(m.Points) < closingPoints {
		return nil
	}
	return m.Points[:len(m.Points)-closingPoints]
}

func (m *TerrainMesh) Clone() TerrainMesh {
	points := make([]Vector2, len(m.Points))
	copy(points, m.Points)
	return TerrainMesh{Points: points}
}

// GenerateTerrain は中点変位法で地形を生成します。
// 変位は1パスごとに Roughness 倍に減衰し、点数が floor(WorldWidth/Resolution) に達するまで分割を繰り返します。
func GenerateTerrain(rng *rand.Rand, cfg TerrainConfig) (TerrainMesh, error) {
	if err := cfg.validate(); err != nil {
		return TerrainMesh{}, err
	}

	startY := clamp(math.Round(cfg.WorldHeight/2), cfg.MinHeight, cfg.MaxHeight)
	points := []Vector2{V(0, startY), V(cfg.WorldWidth, startY)}
	target := int(math.Floor(cfg.WorldWidth / cfg.Resolution))
	displacement := cfg.WorldHeight

	for len(points) < target {
		next := make([]Vector2, 0, len(points)*2-1)
		for i := 0; i < len(points)-1; i++ {
			p1, p2 := points[i], points[i+1]
			mid := p1.Lerp(p2, 0.5)
			mid.Y += (rng.Float64()*2 - 1) * displacement
			mid.Y = clamp(mid.Y, cfg.MinHeight, cfg.MaxHeight)
			next = append(next, p1, mid)
		}
		next = append(next, points[len(points)-1])
		points = next
		displacement *= cfg.Roughness
	}

	points = append(points, V(cfg.WorldWidth, cfg.WorldHeight), V(0, cfg.WorldHeight))
	return TerrainMesh{Points: points}, nil
}

// FlatTerrain は y が一定の地形を生成します。
func FlatTerrain(worldWidth, worldHeight, y float64, segments int) TerrainMesh {
	if segments < 1 {
		segments = 1
	}
	points := make([]Vector2, 0, segments+1+closingPoints)
	for i := 0; i <= segments; i++ {
		points = append(points, V(worldWidth*float64(i)/float64(segments), y))
	}
	points = append(points, V(worldWidth, worldHeight), V(0, worldHeight))
	return TerrainMesh{Points: points}
}

// SmoothTerrain は隣接点の高低差が maxPeak を超える箇所を1パスだけ均します。
// 変化があった場合 true を返します。
func SmoothTerrain(mesh *TerrainMesh, maxPeak float64) bool {
	surface := mesh.Surface()
	changed := false
	for i := 0; i < len(surface)-1; i++ {
		diff := surface[i+1].Y - surface[i].Y
		if math.Abs(diff) > maxPeak {
			surface[i].Y += diff / 2
			surface[i+1].Y -= diff / 2
			changed = true
		}
	}
	return changed
}

// SettleTerrain は変化がなくなるまで SmoothTerrain を繰り返し、実行したパス数を返します。
func SettleTerrain(mesh *TerrainMesh, maxPeak float64) int {
	passes := 0
	for passes < maxSettlePasses && SmoothTerrain(mesh, maxPeak) {
		passes++
	}
	return passes
}

// segmentLine は線分の傾きと切片を返します。x座標が一致する (垂直な) 線分では ok=false です。
func segmentLine(p1, p2 Vector2) (slope, yIntercept float64, ok bool) {
	dx := p2.X - p1.X
	if dx == 0 {
		return 0, 0, false
	}
	slope = (p2.Y - p1.Y) / dx
	return slope, p1.Y - slope*p1.X, true
}

// SurfaceHeightAt は x における地表のyを返します。地表のx範囲外なら ok=false です。
func (m *TerrainMesh) SurfaceHeightAt(x float64) (float64, bool) {
	surface := m.Surface()
	for i := 0; i < len(surface)-1; i++ {
		p1, p2 := surface[i], surface[i+1]
		if x < p1.X || x > p2.X {
			continue
		}
		slope, yIntercept, ok := segmentLine(p1, p2)
		if !ok {
			continue
		}
		return slope*x + yIntercept, true
	}
	return 0, false
}

// Erode は position を中心とする半径 radius の円の下弧まで地表を押し下げます。
// 地表が worldHeight より下に行くことはありません。
func (m *TerrainMesh) Erode(position Vector2, radius, worldHeight float64) {
	surface := m.Surface()
	for i := range surface {
		point := &surface[i]
		dx := point.X - position.X
		if dx < -radius || dx > radius {
			continue
		}
		yPos := position.Y + math.Sqrt(math.Max(0, radius*radius-dx*dx))
		point.Y = math.Min(worldHeight, math.Max(point.Y, yPos))
	}
}
