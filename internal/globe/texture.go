package globe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"waitlist/api/internal/store"
)

const (
	TextureSize        = 128
	DefaultAvatarBase  = "https://api.dicebear.com/7.x"
	maxAvatarBytes     = 4 << 20
	defaultAvatarLimit = 5 * time.Second
)

var errNotImage = errors.New("avatar is not an image reference")

// Textures turns avatar descriptors into circular slot textures.
type Textures struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewTextures(baseURL string, client *http.Client, timeout time.Duration) *Textures {
	if baseURL == "" {
		baseURL = DefaultAvatarBase
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultAvatarLimit
	}
	return &Textures{baseURL: strings.TrimRight(baseURL, "/"), client: client, timeout: timeout}
}

// GeneratedURL is the avatar service URL for a generated avatar. An empty
// seed falls back to the slot id.
func (t *Textures) GeneratedURL(a store.GeneratedAvatar, slot int) string {
	style := strings.TrimSpace(a.Style)
	if style == "" {
		style = store.DefaultAvatarStyle
	}
	seed := strings.TrimSpace(a.Seed)
	if seed == "" {
		seed = strconv.Itoa(slot)
	}
	return fmt.Sprintf("%s/%s/png?seed=%s&size=%d&radius=50",
		t.baseURL, url.PathEscape(style), url.QueryEscape(seed), TextureSize)
}

// Texture renders the slot texture. On any failure it returns the
// placeholder together with the error, so callers always get an image.
func (t *Textures) Texture(ctx context.Context, slot int, fill color.RGBA, name string, avatar store.Avatar) (*image.RGBA, error) {
	src, err := t.load(ctx, slot, avatar)
	if err != nil {
		return Placeholder(fill, glyphFor(name, avatar)), err
	}
	return Circle(src), nil
}

func (t *Textures) load(ctx context.Context, slot int, avatar store.Avatar) (image.Image, error) {
	switch a := avatar.(type) {
	case store.GeneratedAvatar:
		return t.fetch(ctx, t.GeneratedURL(a, slot))
	case store.InlineImage:
		return decodeDataURI(a.DataURI)
	case store.ExternalImage:
		if isHTTPURL(a.URL) {
			return t.fetch(ctx, a.URL)
		}
	}
	return nil, errNotImage
}

func (t *Textures) fetch(ctx context.Context, rawURL string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("avatar request: %w", err)
	}
	req.Header.Set("Accept", "image/png,image/webp,image/jpeg,image/gif")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch avatar: status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return nil, fmt.Errorf("decode avatar: %w", err)
	}
	return img, nil
}

func decodeDataURI(uri string) (image.Image, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("data uri: missing payload")
	}
	var raw []byte
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("data uri: %w", err)
		}
		raw = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("data uri: %w", err)
		}
		raw = []byte(unescaped)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return img, nil
}

// circleMask has alpha a inside the inscribed circle of r.
type circleMask struct {
	r image.Rectangle
	a uint8
}

func (m circleMask) ColorModel() color.Model { return color.AlphaModel }
func (m circleMask) Bounds() image.Rectangle { return m.r }
func (m circleMask) At(x, y int) color.Color {
	cx := float64(m.r.Min.X+m.r.Max.X) / 2
	cy := float64(m.r.Min.Y+m.r.Max.Y) / 2
	radius := float64(m.r.Dx()) / 2
	dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
	if dx*dx+dy*dy <= radius*radius {
		return color.Alpha{A: m.a}
	}
	return color.Alpha{}
}

// Circle scales src into a TextureSize square and clips it to a circle.
func Circle(src image.Image) *image.RGBA {
	bounds := image.Rect(0, 0, TextureSize, TextureSize)
	scaled := image.NewRGBA(bounds)
	draw.CatmullRom.Scale(scaled, bounds, src, src.Bounds(), draw.Src, nil)

	out := image.NewRGBA(bounds)
	draw.DrawMask(out, bounds, scaled, image.Point{}, circleMask{r: bounds, a: 0xff}, image.Point{}, draw.Over)
	return out
}

// Placeholder is a disc of fill with glyph centered on it.
func Placeholder(fill color.RGBA, glyph rune) *image.RGBA {
	bounds := image.Rect(0, 0, TextureSize, TextureSize)
	out := image.NewRGBA(bounds)
	draw.DrawMask(out, bounds, image.NewUniform(fill), image.Point{}, circleMask{r: bounds, a: 0xff}, image.Point{}, draw.Over)

	face := basicfont.Face7x13
	cell := image.NewRGBA(image.Rect(0, 0, face.Advance, face.Height))
	d := &font.Drawer{
		Dst:  cell,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(string(glyph))

	// Scale the 7x13 cell to about 60% of the texture height.
	h := TextureSize * 6 / 10
	w := h * face.Advance / face.Height
	target := image.Rect((TextureSize-w)/2, (TextureSize-h)/2, (TextureSize+w)/2, (TextureSize+h)/2)
	draw.NearestNeighbor.Scale(out, target, cell, cell.Bounds(), draw.Over, nil)
	return out
}

// glyphFor picks the placeholder character: a short text avatar, then the
// first letter of the name, then '?'. basicfont covers ASCII only.
func glyphFor(name string, avatar store.Avatar) rune {
	candidates := []string{}
	if ext, ok := avatar.(store.ExternalImage); ok && !isHTTPURL(ext.URL) {
		candidates = append(candidates, ext.URL)
	}
	candidates = append(candidates, strings.TrimPrefix(strings.TrimSpace(name), "@"))
	for _, c := range candidates {
		for _, r := range c {
			if r < unicode.MaxASCII && unicode.IsPrint(r) && !unicode.IsSpace(r) {
				return unicode.ToUpper(r)
			}
			break
		}
	}
	return '?'
}
