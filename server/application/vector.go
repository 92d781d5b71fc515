package application

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"eartheater/utils"
)

// Vector2 は2次元の位置・速度を表す値オブジェクトです。
// y軸は下向きが正です。全ての演算は新しい値を返します。
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func V(x, y float64) Vector2 {
	return Vector2{X: x, Y: y}
}

func (v Vector2) vec() mgl64.Vec2 {
	return mgl64.Vec2{v.X, v.Y}
}

func fromVec(m mgl64.Vec2) Vector2 {
	return Vector2{X: m.X(), Y: m.Y()}
}

func (v Vector2) Add(o Vector2) Vector2 {
	return fromVec(v.vec().Add(o.vec()))
}

func (v Vector2) Sub(o Vector2) Vector2 {
	return fromVec(v.vec().Sub(o.vec()))
}

// Scale はスカラー倍したベクトルを返します。
func (v Vector2) Scale(s float64) Vector2 {
	return fromVec(v.vec().Mul(s))
}

func (v Vector2) DivN(n float64) Vector2 {
	return Vector2{X: v.X / n, Y: v.Y / n}
}

func (v Vector2) Dot(o Vector2) float64 {
	return v.vec().Dot(o.vec())
}

func (v Vector2) Length() float64 {
	return v.vec().Len()
}

func (v Vector2) LengthSquared() float64 {
	return v.vec().LenSqr()
}

func (v Vector2) Distance(o Vector2) float64 {
	return v.Sub(o).Length()
}

func (v Vector2) DistanceSquared(o Vector2) float64 {
	return v.Sub(o).LengthSquared()
}

// Lerp は v と o の間を amount (0..1) で線形補間します。
func (v Vector2) Lerp(o Vector2, amount float64) Vector2 {
	return v.Add(o.Sub(v).Scale(amount))
}

func (v Vector2) IsFinite() bool {
	return utils.FiniteVec(v.X, v.Y)
}

// FromAngle は角度 (ラジアン) と長さからベクトルを生成します。
func FromAngle(angle, length float64) Vector2 {
	return Vector2{X: math.Cos(angle) * length, Y: math.Sin(angle) * length}
}

func clamp(v, min, max float64) float64 {
	return mgl64.Clamp(v, min, max)
}
