package auth

import "strings"

// Identity is the authenticated caller as reported by the OAuth provider.
type Identity struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	Name           string `json:"name"`
	Username       string `json:"username,omitempty"`
	Email          string `json:"email,omitempty"`
	Image          string `json:"image,omitempty"`
}

// Key is the stable uniqueness key stored as user_id: the email when the
// provider shares one, otherwise provider:id. Empty when neither is known.
func (i Identity) Key() string {
	if email := strings.TrimSpace(i.Email); email != "" {
		return strings.ToLower(email)
	}
	if i.ProviderUserID == "" {
		return ""
	}
	provider := i.Provider
	if provider == "" {
		provider = "twitter"
	}
	return provider + ":" + i.ProviderUserID
}
