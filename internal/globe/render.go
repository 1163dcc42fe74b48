package globe

import (
	"image"
	"image/color"
	"math"
	"sort"

	"golang.org/x/image/draw"
)

var background = color.RGBA{A: 0xff}

// Render rasterizes a snapshot into a width x height image: stars first,
// then slot discs back to front.
func Render(snap Snapshot, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	cam := snap.Camera
	cam.Aspect = float64(width) / float64(height)
	screen := func(ndcX, ndcY float64) (int, int) {
		return int((ndcX + 1) / 2 * float64(width)), int((1 - ndcY) / 2 * float64(height))
	}
	tanHalf := math.Tan(cam.FOV * math.Pi / 360)

	for _, star := range snap.Stars {
		x, y, _, ok := cam.Project(star.Position.RotateXY(snap.StarRotX, snap.StarRotY))
		if !ok {
			continue
		}
		px, py := screen(x, y)
		c := color.RGBA{R: channel(star.R), G: channel(star.G), B: channel(star.B), A: 0xff}
		half := max(1, int(star.Size/4))
		draw.Draw(out, image.Rect(px-half, py-half, px+half, py+half), image.NewUniform(c), image.Point{}, draw.Over)
	}

	type placed struct {
		view  MeshView
		x, y  int
		r     int
		depth float64
	}
	var discs []placed
	for _, m := range snap.Meshes {
		x, y, depth, ok := cam.Project(m.Center)
		if !ok {
			continue
		}
		r := int(m.Radius / (depth * tanHalf) * float64(height) / 2)
		if r < 1 {
			continue
		}
		px, py := screen(x, y)
		discs = append(discs, placed{view: m, x: px, y: py, r: r, depth: depth})
	}
	sort.Slice(discs, func(i, j int) bool { return discs[i].depth > discs[j].depth })

	for _, d := range discs {
		rect := image.Rect(d.x-d.r, d.y-d.r, d.x+d.r, d.y+d.r)
		mask := circleMask{r: rect, a: uint8(math.Round(clamp(d.view.Opacity, 0, 1) * 0xff))}
		var src image.Image = image.NewUniform(d.view.Fill)
		if d.view.Texture != nil {
			scaled := image.NewRGBA(rect)
			draw.ApproxBiLinear.Scale(scaled, rect, d.view.Texture, d.view.Texture.Bounds(), draw.Src, nil)
			src = scaled
		}
		draw.DrawMask(out, rect, src, rect.Min, mask, rect.Min, draw.Over)
	}
	return out
}

func channel(v float64) uint8 {
	return uint8(math.Round(clamp(v, 0, 1) * 0xff))
}
