package globe

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitlist/api/internal/store"
)

var (
	red  = color.RGBA{R: 0xff, A: 0xff}
	fill = color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}
)

func assertNearColor(t *testing.T, want, got color.RGBA) {
	t.Helper()
	for _, pair := range [][2]uint8{{want.R, got.R}, {want.G, got.G}, {want.B, got.B}, {want.A, got.A}} {
		assert.InDelta(t, int(pair[0]), int(pair[1]), 2, "want %v got %v", want, got)
	}
}

func redPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.SetRGBA(x, y, red)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestGeneratedURL(t *testing.T) {
	tx := NewTextures("https://avatars.test/7.x/", nil, 0)
	assert.Equal(t,
		"https://avatars.test/7.x/adventurer/png?seed=a+b&size=128&radius=50",
		tx.GeneratedURL(store.GeneratedAvatar{Seed: "a b"}, 7))
	assert.Equal(t,
		"https://avatars.test/7.x/bottts/png?seed=7&size=128&radius=50",
		tx.GeneratedURL(store.GeneratedAvatar{Style: "bottts"}, 7))
}

func TestTextureFetchesGeneratedAvatar(t *testing.T) {
	body := redPNG(t)
	var gotPath, gotSeed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSeed = r.URL.Query().Get("seed")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	tx := NewTextures(srv.URL, srv.Client(), time.Second)
	img, err := tx.Texture(context.Background(), 9, fill, "ada", store.GeneratedAvatar{Style: "adventurer", Seed: "ada"})
	require.NoError(t, err)

	assert.Equal(t, "/adventurer/png", gotPath)
	assert.Equal(t, "ada", gotSeed)
	assert.Equal(t, image.Rect(0, 0, TextureSize, TextureSize), img.Bounds())
	assertNearColor(t, red, img.RGBAAt(TextureSize/2, TextureSize/2))
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).A, "corners are clipped")
}

func TestTexturePlaceholderOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tx := NewTextures(srv.URL, srv.Client(), time.Second)
	img, err := tx.Texture(context.Background(), 1, fill, "ada", store.ExternalImage{URL: srv.URL + "/me.png"})
	require.Error(t, err)
	require.NotNil(t, img)
	assert.Equal(t, fill, img.RGBAAt(TextureSize/2, 5))
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).A)
}

func TestTextureDecodesDataURI(t *testing.T) {
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(redPNG(t))
	tx := NewTextures("", nil, 0)
	img, err := tx.Texture(context.Background(), 1, fill, "ada", store.InlineImage{DataURI: uri})
	require.NoError(t, err)
	assertNearColor(t, red, img.RGBAAt(TextureSize/2, TextureSize/2))

	_, err = tx.Texture(context.Background(), 1, fill, "ada", store.InlineImage{DataURI: "data:image/png;base64,%%%"})
	assert.Error(t, err)
}

func TestTextureTextAvatarUsesPlaceholder(t *testing.T) {
	tx := NewTextures("", nil, 0)
	img, err := tx.Texture(context.Background(), 1, fill, "ada", store.ExternalImage{URL: "Z"})
	assert.ErrorIs(t, err, errNotImage)
	assert.Equal(t, fill, img.RGBAAt(TextureSize/2, 5))
}

func TestGlyphFor(t *testing.T) {
	cases := []struct {
		name   string
		avatar store.Avatar
		want   rune
	}{
		{"ada", nil, 'A'},
		{"@bob", nil, 'B'},
		{"ada", store.ExternalImage{URL: "z"}, 'Z'},
		{"ada", store.ExternalImage{URL: "https://x.test/a.png"}, 'A'},
		{"", nil, '?'},
		{"Émile", nil, '?'},
	}
	for _, tc := range cases {
		assert.Equal(t, string(tc.want), string(glyphFor(tc.name, tc.avatar)), "name=%q", tc.name)
	}
}

func TestResourceTrackerNeverNegative(t *testing.T) {
	tr := NewResourceTracker()
	tr.Acquire(KindTexture)
	tr.Release(KindTexture)
	tr.Release(KindTexture)
	assert.Equal(t, 0, tr.Live(KindTexture))
	acquired, released := tr.Totals()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
}
