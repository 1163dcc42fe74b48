package globe

import "math"

// Vec3 is a point or direction in globe space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64         { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Normalize returns the unit vector. The zero vector stays zero.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// ClampLen rescales v so its length lies in [lo, hi].
func (v Vec3) ClampLen(lo, hi float64) Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.Scale(clamp(l, lo, hi) / l)
}

// Angle is the angle between v and o in radians.
func (v Vec3) Angle(o Vec3) float64 {
	denom := v.Len() * o.Len()
	if denom == 0 {
		return 0
	}
	return math.Acos(clamp(v.Dot(o)/denom, -1, 1))
}

// RotateXY applies a rotation about Y by ry and then about X by rx, the
// order used for the globe group (Euler XYZ with no Z component).
func (v Vec3) RotateXY(rx, ry float64) Vec3 {
	sy, cy := math.Sincos(ry)
	x := v.X*cy + v.Z*sy
	z := -v.X*sy + v.Z*cy
	sx, cx := math.Sincos(rx)
	return Vec3{X: x, Y: v.Y*cx - z*sx, Z: v.Y*sx + z*cx}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
