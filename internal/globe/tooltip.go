package globe

import (
	"fmt"
	"strings"
	"time"

	"waitlist/api/internal/store"
)

const TooltipLifetime = 3000 * time.Millisecond

// Tooltip is the overlay anchored near the pointer, in screen pixels.
type Tooltip struct {
	Visible bool
	Lines   []string
	X, Y    float64
	hideAt  time.Time
}

func (t *Tooltip) show(lines []string, x, y float64, hideAt time.Time) {
	t.Visible = true
	t.Lines = lines
	t.X, t.Y = x, y
	t.hideAt = hideAt
}

func (t *Tooltip) hide() {
	t.Visible = false
	t.hideAt = time.Time{}
}

func (t *Tooltip) expire(now time.Time) {
	if t.Visible && !t.hideAt.IsZero() && !now.Before(t.hideAt) {
		t.hide()
	}
}

// ClaimedLines is the click tooltip for a claimed slot.
func ClaimedLines(e store.Entry) []string {
	return []string{e.Name, ShortWallet(e.WalletAddress), fmt.Sprintf("Spot #%d", e.ProfileID)}
}

// HoverLines is the hover tooltip. Claimed slots show the handle, flagged
// when the avatar is only a glyph.
func HoverLines(e *store.Entry) []string {
	if e == nil {
		return []string{"Available Spot", "Click to join waitlist"}
	}
	line := Handle(e.Name)
	if !hasImage(e.Avatar) {
		line += " (No PFP)"
	}
	return []string{line}
}

// Handle renders a display name as an @handle.
func Handle(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "@") {
		return name
	}
	if at := strings.Index(name, "@"); at >= 0 {
		return name[at:]
	}
	return "@" + name
}

// ShortWallet elides the middle of addresses longer than 12 characters.
func ShortWallet(wallet string) string {
	if len(wallet) <= 12 {
		return wallet
	}
	return wallet[:6] + "…" + wallet[len(wallet)-4:]
}

func hasImage(a store.Avatar) bool {
	switch v := a.(type) {
	case store.GeneratedAvatar, store.InlineImage:
		return true
	case store.ExternalImage:
		return isHTTPURL(v.URL)
	}
	return false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
