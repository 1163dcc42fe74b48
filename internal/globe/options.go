package globe

import (
	"time"

	"waitlist/api/internal/config"
)

// Options tunes an Engine and the published layout.
type Options struct {
	Total                 int
	Radius                float64
	Colors                []string
	AutoRotateSpeed       float64
	CameraDistanceDesktop float64
	CameraDistanceMobile  float64
	StarCount             int
	StarSeed              uint64
	Width, Height         float64
	PixelRatio            float64
	Now                   func() time.Time
}

func DefaultOptions(total int) Options {
	return Options{
		Total:                 total,
		Radius:                SphereRadius,
		Colors:                DefaultColors,
		AutoRotateSpeed:       0.002,
		CameraDistanceDesktop: 800,
		CameraDistanceMobile:  1200,
		StarCount:             300,
		StarSeed:              1,
		Width:                 1280,
		Height:                800,
		PixelRatio:            1,
		Now:                   time.Now,
	}
}

// WithTuning applies the non-zero fields of a tuning file.
func (o Options) WithTuning(t config.GlobeTuning) Options {
	if t.Radius > 0 {
		o.Radius = t.Radius
	}
	if len(t.Colors) > 0 {
		o.Colors = t.Colors
	}
	if t.AutoRotateSpeed > 0 {
		o.AutoRotateSpeed = t.AutoRotateSpeed
	}
	if t.CameraDistanceDesktop > 0 {
		o.CameraDistanceDesktop = t.CameraDistanceDesktop
	}
	if t.CameraDistanceMobile > 0 {
		o.CameraDistanceMobile = t.CameraDistanceMobile
	}
	if t.StarCount > 0 {
		o.StarCount = t.StarCount
	}
	return o
}

func (o Options) cameraDistance(d Device) float64 {
	if d == Mobile {
		return o.CameraDistanceMobile
	}
	return o.CameraDistanceDesktop
}

// starCount halves the field on small screens.
func (o Options) starCount(d Device) int {
	if d == Mobile {
		return min(o.StarCount, 150)
	}
	return o.StarCount
}
