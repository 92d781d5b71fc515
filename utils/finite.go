package utils

import (
	"math"
)

// FiniteVec は2成分がともに有限値 (NaN/Inf でない) かを返します。
func FiniteVec(x, y float64) bool {
	return Finite(x) && Finite(y)
}

func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
