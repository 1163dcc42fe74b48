package globe

import "math"

const (
	CameraFOV  = 60.0
	CameraNear = 1.0
	CameraFar  = 5000.0
	ZoomMin    = 200.0
	ZoomMax    = 2000.0
)

// Camera is a perspective camera that always looks at the origin.
type Camera struct {
	Position Vec3
	FOV      float64 // vertical, degrees
	Aspect   float64
	Near     float64
	Far      float64
}

func NewCamera(distance, aspect float64) Camera {
	return Camera{
		Position: Vec3{Z: distance},
		FOV:      CameraFOV,
		Aspect:   aspect,
		Near:     CameraNear,
		Far:      CameraFar,
	}
}

func (c Camera) Distance() float64 {
	return c.Position.Len()
}

// Zoom multiplies the distance by factor, clamped to [ZoomMin, ZoomMax].
func (c *Camera) Zoom(factor float64) {
	c.Position = c.Position.Scale(factor).ClampLen(ZoomMin, ZoomMax)
}

// SetDistance keeps the viewing direction and moves to distance d.
func (c *Camera) SetDistance(d float64) {
	dir := c.Position.Normalize()
	if dir == (Vec3{}) {
		dir = Vec3{Z: 1}
	}
	c.Position = dir.Scale(d)
}

// basis returns forward, right and up for a camera looking at the origin
// with world up +Y.
func (c Camera) basis() (forward, right, up Vec3) {
	forward = c.Position.Scale(-1).Normalize()
	right = forward.Cross(Vec3{Y: 1}).Normalize()
	if right == (Vec3{}) {
		right = Vec3{X: 1}
	}
	up = right.Cross(forward)
	return forward, right, up
}

// Ray is a half-line from Origin along unit Dir.
type Ray struct {
	Origin Vec3
	Dir    Vec3
}

// RayAt returns the ray through normalized device coordinates (x right,
// y up, both in [-1, 1]).
func (c Camera) RayAt(ndcX, ndcY float64) Ray {
	forward, right, up := c.basis()
	tanHalf := math.Tan(c.FOV * math.Pi / 360)
	dir := forward.
		Add(right.Scale(ndcX * tanHalf * c.Aspect)).
		Add(up.Scale(ndcY * tanHalf))
	return Ray{Origin: c.Position, Dir: dir.Normalize()}
}

// Project maps a world point to normalized device coordinates. ok is false
// for points behind the camera or outside the clip range; depth is the
// distance along the view axis.
func (c Camera) Project(p Vec3) (ndcX, ndcY, depth float64, ok bool) {
	forward, right, up := c.basis()
	rel := p.Sub(c.Position)
	depth = rel.Dot(forward)
	if depth < c.Near || depth > c.Far {
		return 0, 0, depth, false
	}
	tanHalf := math.Tan(c.FOV * math.Pi / 360)
	ndcX = rel.Dot(right) / (depth * tanHalf * c.Aspect)
	ndcY = rel.Dot(up) / (depth * tanHalf)
	return ndcX, ndcY, depth, true
}

// Disc is a flat circle facing along Normal.
type Disc struct {
	Slot   int
	Center Vec3
	Normal Vec3
	Radius float64
}

// Intersect returns the ray parameter of the hit, or false on a miss.
// Both faces count.
func (d Disc) Intersect(r Ray) (float64, bool) {
	denom := d.Normal.Dot(r.Dir)
	if math.Abs(denom) < 1e-9 {
		return 0, false
	}
	t := d.Center.Sub(r.Origin).Dot(d.Normal) / denom
	if t <= 0 {
		return 0, false
	}
	hit := r.Origin.Add(r.Dir.Scale(t))
	if hit.Sub(d.Center).Len() > d.Radius {
		return 0, false
	}
	return t, true
}

// Pick returns the slot of the nearest disc hit by r, or 0.
func Pick(r Ray, discs []Disc) int {
	best, bestT := 0, math.Inf(1)
	for _, d := range discs {
		if t, ok := d.Intersect(r); ok && t < bestT {
			best, bestT = d.Slot, t
		}
	}
	return best
}
