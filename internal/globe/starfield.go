package globe

import (
	"math"
	"math/rand/v2"
)

const (
	SkyRadius        = 2000.0
	starClusters     = 12
	clusterStarRatio = 0.55
)

// Star is one background particle.
type Star struct {
	Position Vec3
	R, G, B  float64
	Size     float64
	Cluster  bool
}

// NewStarfield scatters count stars on the sky shell. A share of them is
// grouped around random cluster centers; the rest are uniform. The same
// seed yields the same field.
func NewStarfield(count int, seed uint64) []Star {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	centers := make([]Vec3, starClusters)
	for i := range centers {
		centers[i] = randomDirection(rng)
	}

	clustered := int(math.Floor(float64(count) * clusterStarRatio))
	stars := make([]Star, count)
	for i := range count {
		var dir Vec3
		isCluster := i < clustered
		if isCluster {
			jitter := Vec3{rng.Float64() - 0.5, rng.Float64() - 0.5, rng.Float64() - 0.5}.
				Normalize().
				Scale(0.25 * (0.5 + rng.Float64()))
			dir = centers[i%starClusters].Add(jitter).Normalize()
		} else {
			dir = randomDirection(rng)
		}
		stars[i] = placeStar(rng, dir, isCluster)
	}
	return stars
}

func placeStar(rng *rand.Rand, dir Vec3, isCluster bool) Star {
	hue := 0.06 + rng.Float64()*0.12
	saturation := 0.35 + rng.Float64()*0.35
	lightness := 0.5
	if isCluster {
		lightness = 0.65
	}
	lightness = math.Min(1, lightness+rng.Float64()*0.25)
	r, g, b := hslToRGB(hue, saturation, lightness)

	size := 3 + rng.Float64()*4
	if isCluster {
		size = 5 + rng.Float64()*5
	}
	return Star{Position: dir.Scale(SkyRadius), R: r, G: g, B: b, Size: size, Cluster: isCluster}
}

func randomDirection(rng *rand.Rand) Vec3 {
	theta := 2 * math.Pi * rng.Float64()
	phi := math.Acos(2*rng.Float64() - 1)
	return Vec3{
		X: math.Sin(phi) * math.Cos(theta),
		Y: math.Cos(phi),
		Z: math.Sin(phi) * math.Sin(theta),
	}
}

func hslToRGB(h, s, l float64) (float64, float64, float64) {
	if s == 0 {
		return l, l, l
	}
	q := l * (1 + s)
	if l >= 0.5 {
		q = l + s - l*s
	}
	p := 2*l - q
	return hueToRGB(p, q, h+1.0/3), hueToRGB(p, q, h), hueToRGB(p, q, h-1.0/3)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
