package application

// CircleCollidesWithBox は円と軸平行な矩形が交差するかを判定します。
// 円の中心を矩形内にクランプした最近点と中心の距離を半径と比較します。
func CircleCollidesWithBox(center Vector2, radius float64, boxPosition, boxSize Vector2) bool {
	closest := V(
		clamp(center.X, boxPosition.X, boxPosition.X+boxSize.X),
		clamp(center.Y, boxPosition.Y, boxPosition.Y+boxSize.Y),
	)
	return center.Distance(closest) < radius
}

// ClosestPointOnSegment は線分 start-end 上で point に最も近い点を返します。
// 長さ0の線分では start を返します。
func ClosestPointOnSegment(point, start, end Vector2) Vector2 {
	line := end.Sub(start)
	lengthSquared := line.LengthSquared()
	if lengthSquared == 0 {
		return start
	}
	t := clamp(point.Sub(start).Dot(line)/lengthSquared, 0, 1)
	return start.Add(line.Scale(t))
}

// CircleTouchesSegment は円が線分に接触 (距離 <= 半径) しているかを判定します。
func CircleTouchesSegment(center Vector2, radius float64, start, end Vector2) bool {
	closest := ClosestPointOnSegment(center, start, end)
	return center.DistanceSquared(closest) <= radius*radius
}

// IsInsideOrBelowTerrain は position が地表の線分の真下 (地中) にあるかを判定します。
func IsInsideOrBelowTerrain(position Vector2, mesh *TerrainMesh) bool {
	y, ok := mesh.SurfaceHeightAt(position.X)
	return ok && position.Y >= y
}
