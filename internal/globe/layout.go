package globe

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

const (
	SphereRadius     = 300.0
	CircleSegments   = 24
	ReferenceEntries = 250
	MobileBreakpoint = 768
)

// Device selects the size and interaction tuning.
type Device string

const (
	Desktop Device = "desktop"
	Mobile  Device = "mobile"
)

// DeviceForWidth classifies a viewport by its CSS pixel width.
func DeviceForWidth(width float64) Device {
	if width < MobileBreakpoint {
		return Mobile
	}
	return Desktop
}

// ParseDevice accepts "mobile" and "desktop"; anything else is desktop.
func ParseDevice(raw string) Device {
	if strings.EqualFold(strings.TrimSpace(raw), string(Mobile)) {
		return Mobile
	}
	return Desktop
}

// SizeRange is the circle radius tuning for one device class.
type SizeRange struct {
	Base, Min, Max float64
}

func SizeRangeFor(d Device) SizeRange {
	if d == Mobile {
		return SizeRange{Base: 18, Min: 12, Max: 26}
	}
	return SizeRange{Base: 24, Min: 12, Max: 35}
}

// CircleSize scales the base radius by sqrt(ReferenceEntries/total) so the
// sphere stays visually full, then clamps to the device range.
func CircleSize(total int, d Device) float64 {
	r := SizeRangeFor(d)
	if total <= 0 {
		return r.Max
	}
	size := r.Base * math.Sqrt(float64(ReferenceEntries)/float64(total))
	return clamp(size, r.Min, r.Max)
}

var goldenRatio = (1 + math.Sqrt(5)) / 2

// FibonacciSphere places count points on a sphere of the given radius along
// a golden-angle spiral.
func FibonacciSphere(count int, radius float64) []Vec3 {
	points := make([]Vec3, count)
	for i := range count {
		theta := 2 * math.Pi * float64(i) / goldenRatio
		phi := math.Acos(1 - 2*(float64(i)+0.5)/float64(count))
		sinPhi, cosPhi := math.Sincos(phi)
		sinTheta, cosTheta := math.Sincos(theta)
		points[i] = Vec3{
			X: radius * sinPhi * cosTheta,
			Y: radius * sinPhi * sinTheta,
			Z: radius * cosPhi,
		}
	}
	return points
}

// Slot is one claimable position. IDs are 1-based.
type Slot struct {
	ID       int
	Color    string
	Position Vec3
}

// GenerateSlots lays out count slots. Slot i sits at spiral point i-1 and
// takes colors[i % len(colors)].
func GenerateSlots(count int, radius float64, colors []string) []Slot {
	if len(colors) == 0 {
		colors = DefaultColors
	}
	points := FibonacciSphere(count, radius)
	slots := make([]Slot, count)
	for i := 1; i <= count; i++ {
		slots[i-1] = Slot{
			ID:       i,
			Color:    colors[i%len(colors)],
			Position: points[i-1],
		}
	}
	return slots
}

var DefaultColors = []string{"#DE6635", "#8B4513", "#A0522D", "#CD853F", "#D2691E", "#B8860B"}

// ParseHexColor reads #RRGGBB.
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func mustColor(s string) color.RGBA {
	c, err := ParseHexColor(s)
	if err != nil {
		return color.RGBA{R: 0xDE, G: 0x66, B: 0x35, A: 0xff}
	}
	return c
}
