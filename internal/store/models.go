package store

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	AvatarTypeUpload = "upload"
	AvatarTypeSeed   = "avatar_seed"

	DefaultAvatarStyle = "adventurer"
)

// Avatar is one of ExternalImage, InlineImage or GeneratedAvatar.
type Avatar interface {
	// Ref is the value persisted in the avatar column.
	Ref() string
	avatarType() string
}

type ExternalImage struct {
	URL string
}

type InlineImage struct {
	DataURI string
}

type GeneratedAvatar struct {
	Style string
	Seed  string
}

func (a ExternalImage) Ref() string      { return a.URL }
func (ExternalImage) avatarType() string { return AvatarTypeUpload }

func (a InlineImage) Ref() string      { return a.DataURI }
func (InlineImage) avatarType() string { return AvatarTypeUpload }

func (a GeneratedAvatar) Ref() string      { return a.Seed }
func (GeneratedAvatar) avatarType() string { return AvatarTypeSeed }

// ParseAvatar turns the persisted avatar columns back into a descriptor.
// Unknown types are treated as uploads.
func ParseAvatar(avatar, avatarType string, seed, style *string) Avatar {
	if avatarType == AvatarTypeSeed {
		generated := GeneratedAvatar{Style: DefaultAvatarStyle, Seed: avatar}
		if seed != nil && strings.TrimSpace(*seed) != "" {
			generated.Seed = *seed
		}
		if style != nil && strings.TrimSpace(*style) != "" {
			generated.Style = *style
		}
		return generated
	}
	if strings.HasPrefix(avatar, "data:") {
		return InlineImage{DataURI: avatar}
	}
	return ExternalImage{URL: avatar}
}

// AvatarColumns returns avatar, avatar_type, avatar_seed and avatar_style
// for a descriptor. Seed and style are nil for uploads.
func AvatarColumns(a Avatar) (string, string, *string, *string) {
	if a == nil {
		return "", "", nil, nil
	}
	if generated, ok := a.(GeneratedAvatar); ok {
		seed, style := generated.Seed, generated.Style
		if style == "" {
			style = DefaultAvatarStyle
		}
		return seed, AvatarTypeSeed, &seed, &style
	}
	return a.Ref(), a.avatarType(), nil, nil
}

// Entry is a Claim Record: one claimed slot on the waitlist globe.
type Entry struct {
	ID            string
	Name          string
	WalletAddress string
	Avatar        Avatar
	ProfileID     int
	UserID        string
	CreatedAt     time.Time
}

// NewEntry is the candidate written by a claim.
type NewEntry struct {
	Name          string
	WalletAddress string
	Avatar        Avatar
	ProfileID     int
	UserID        string
}

// Public drops the identity key before an entry leaves the service.
func (e Entry) Public() Entry {
	e.UserID = ""
	return e
}

type entryRow struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WalletAddress string    `json:"wallet_address"`
	Avatar        string    `json:"avatar"`
	AvatarType    string    `json:"avatar_type"`
	AvatarSeed    *string   `json:"avatar_seed"`
	AvatarStyle   *string   `json:"avatar_style"`
	ProfileID     int       `json:"profile_id"`
	UserID        string    `json:"user_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (e Entry) row() entryRow {
	avatar, avatarType, seed, style := AvatarColumns(e.Avatar)
	return entryRow{
		ID:            e.ID,
		Name:          e.Name,
		WalletAddress: e.WalletAddress,
		Avatar:        avatar,
		AvatarType:    avatarType,
		AvatarSeed:    seed,
		AvatarStyle:   style,
		ProfileID:     e.ProfileID,
		UserID:        e.UserID,
		CreatedAt:     e.CreatedAt,
	}
}

func (r entryRow) entry() Entry {
	return Entry{
		ID:            r.ID,
		Name:          r.Name,
		WalletAddress: r.WalletAddress,
		Avatar:        ParseAvatar(r.Avatar, r.AvatarType, r.AvatarSeed, r.AvatarStyle),
		ProfileID:     r.ProfileID,
		UserID:        r.UserID,
		CreatedAt:     r.CreatedAt,
	}
}

// MarshalJSON writes the table row shape.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.row())
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var r entryRow
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*e = r.entry()
	return nil
}

type Profile struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address"`
	Name          string    `json:"name"`
	Image         *string   `json:"image"`
	Email         *string   `json:"email"`
	UserID        *string   `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type NewProfile struct {
	Username      string
	WalletAddress string
	Name          string
	Image         string
	Email         string
	UserID        string
}
