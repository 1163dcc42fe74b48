package globe

import "math"

// LODFrequency is how many frames pass between scale passes.
func LODFrequency(total int) int {
	if total > 500 {
		return 6
	}
	return 4
}

// LODScale is the mesh scale for a camera at distance.
func LODScale(total int, d Device, distance float64) float64 {
	base := SizeRangeFor(d).Base
	return CircleSize(total, d) / base * clamp(distance/1000, 0.8, 1.5)
}

// FacingOpacity dims circles on the far side of the globe.
func FacingOpacity(normal, toCamera Vec3) float64 {
	if normal.Dot(toCamera) > 0 {
		return 1.0
	}
	return 0.8
}

// Float is the radial bob of slot index i (0-based) at t seconds.
func Float(i int, t float64) float64 {
	speed := 0.8 + float64(i%3)*0.3
	amplitude := 5 + float64(i%2)*2
	phase := math.Mod(float64(i)*0.1, 2*math.Pi)
	return math.Sin(t*speed+phase) * amplitude
}
