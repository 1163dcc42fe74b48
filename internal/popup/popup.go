// Package popup keeps the claim dialog in step with the page query string
// (join, spot) and decides when to open it for a signed-in caller.
package popup

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	ParamJoin = "join"
	ParamSpot = "spot"

	FieldName   = "name"
	FieldWallet = "walletAddress"
)

const (
	MsgAlreadyJoined        = "You have already joined the waitlist."
	MsgAlreadyJoinedAccount = "You have already joined the waitlist with this Twitter account."
	MsgNoSpots              = "No available spots at the moment."
	MsgNameRequired         = "Name is required"
	MsgSignIn               = "Please sign in with X to continue"
	MsgIdentityConflict     = "You have already joined the waitlist with this Twitter account"
	MsgWalletConflict       = "This wallet address has already been used"
	MsgWalletMismatch       = "You have already joined with a different wallet address. Each Twitter account can only be linked to one wallet address."
	MsgSubmitFailed         = "Failed to join waitlist"
)

// ErrSubmitting is returned by BeginSubmit while a submission is running.
var ErrSubmitting = errors.New("popup: submission already in progress")

// State is the dialog as the page should render it.
type State struct {
	Open          bool              `json:"open"`
	SelectedSlot  int               `json:"selected_slot,omitempty"`
	Error         string            `json:"error,omitempty"`
	AlreadyJoined bool              `json:"already_joined"`
	Submitting    bool              `json:"submitting"`
	FieldErrors   map[string]string `json:"field_errors,omitempty"`
}

// Env is what AutoOpen needs to know about the page.
type Env struct {
	Authenticated bool
	StatusChecked bool
	GlobeVisible  bool
	EntriesLoaded bool
	Claimed       func(slot int) bool
}

// Controller is not safe for concurrent use.
type Controller struct {
	maxSpots int
	state    State
	query    url.Values
}

func New(maxSpots int, query url.Values) *Controller {
	c := &Controller{maxSpots: maxSpots, query: url.Values{}}
	for k, v := range query {
		c.query[k] = append([]string(nil), v...)
	}
	return c
}

func (c *Controller) State() State {
	s := c.state
	if len(s.FieldErrors) > 0 {
		s.FieldErrors = make(map[string]string, len(c.state.FieldErrors))
		for k, v := range c.state.FieldErrors {
			s.FieldErrors[k] = v
		}
	}
	return s
}

// Query is the query string the page should carry.
func (c *Controller) Query() url.Values {
	out := url.Values{}
	for k, v := range c.query {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// SetJoined records the result of the caller's status check.
func (c *Controller) SetJoined(joined bool) {
	c.state.AlreadyJoined = joined
}

// OpenSpot opens the dialog on slot, as a click on an empty slot does.
func (c *Controller) OpenSpot(slot int) bool {
	if c.state.AlreadyJoined {
		c.state.Error = MsgAlreadyJoined
		return false
	}
	c.open(slot)
	return true
}

func (c *Controller) open(slot int) {
	c.state.Open = true
	c.state.SelectedSlot = slot
	c.state.Error = ""
	c.query.Set(ParamJoin, "true")
	if slot > 0 {
		c.query.Set(ParamSpot, strconv.Itoa(slot))
	}
}

func (c *Controller) Close() {
	c.state.Open = false
	c.state.SelectedSlot = 0
	c.state.Error = ""
	c.state.FieldErrors = nil
	c.query.Del(ParamJoin)
	c.query.Del(ParamSpot)
}

// SyncQuery applies a query string change to the dialog.
func (c *Controller) SyncQuery(q url.Values) {
	c.query = url.Values{}
	for k, v := range q {
		c.query[k] = append([]string(nil), v...)
	}
	join := q.Get(ParamJoin) == "true"

	if join && c.state.AlreadyJoined {
		c.Close()
		c.state.Error = MsgAlreadyJoinedAccount
		return
	}
	if join {
		if slot, ok := c.parseSpot(q.Get(ParamSpot)); ok {
			if !c.state.Open || c.state.SelectedSlot != slot {
				c.state.Open = true
				c.state.SelectedSlot = slot
				c.state.Error = ""
			}
		}
		return
	}
	if c.state.Open {
		c.state.Open = false
		c.state.SelectedSlot = 0
		c.state.Error = ""
	}
}

func (c *Controller) parseSpot(raw string) (int, bool) {
	slot, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || slot < 1 || slot > c.maxSpots {
		return 0, false
	}
	return slot, true
}

// AutoOpen opens the first free slot for a signed-in caller who has not
// joined yet. It reports whether the dialog was opened.
func (c *Controller) AutoOpen(env Env) bool {
	if !env.Authenticated || !env.StatusChecked {
		return false
	}
	joinParam := c.query.Get(ParamJoin) == "true"
	if c.state.AlreadyJoined {
		if joinParam {
			c.Close()
			c.state.Error = MsgAlreadyJoinedAccount
		}
		return false
	}
	if c.state.Open || !env.GlobeVisible || !env.EntriesLoaded || joinParam {
		return false
	}
	slot := FirstFree(c.maxSpots, env.Claimed)
	if slot == 0 {
		return false
	}
	c.open(slot)
	return true
}

// JoinButton handles the explicit join button.
func (c *Controller) JoinButton(claimed func(slot int) bool) bool {
	if c.state.AlreadyJoined {
		c.state.Error = MsgAlreadyJoined
		return false
	}
	slot := FirstFree(c.maxSpots, claimed)
	if slot == 0 {
		c.state.Error = MsgNoSpots
		return false
	}
	c.open(slot)
	return true
}

// FirstFree is the lowest unclaimed slot in [1, maxSpots], or 0.
func FirstFree(maxSpots int, claimed func(slot int) bool) int {
	for slot := 1; slot <= maxSpots; slot++ {
		if claimed == nil || !claimed(slot) {
			return slot
		}
	}
	return 0
}
