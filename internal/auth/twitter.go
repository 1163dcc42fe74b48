package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	twitterAuthURL     = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL    = "https://api.twitter.com/2/oauth2/token"
	twitterUserInfoURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url,username"

	maxUserInfoBytes = 1 << 20
)

// OAuthConfig holds the configuration needed to set up an OAuth2 provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// TwitterProvider runs the OAuth 2.0 authorization code flow with PKCE
// against X (Twitter) and resolves the signed-in user.
type TwitterProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
}

func NewTwitterProvider(cfg OAuthConfig) *TwitterProvider {
	return &TwitterProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"users.read", "tweet.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   twitterAuthURL,
				TokenURL:  twitterTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		userInfoURL: twitterUserInfoURL,
	}
}

// WithEndpoints points the provider at alternate URLs, used by tests.
func (p *TwitterProvider) WithEndpoints(authURL, tokenURL, userInfoURL string) *TwitterProvider {
	p.oauth.Endpoint.AuthURL = authURL
	p.oauth.Endpoint.TokenURL = tokenURL
	p.userInfoURL = userInfoURL
	return p
}

// NewVerifier returns a fresh PKCE code verifier.
func (p *TwitterProvider) NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL is the provider consent URL for state and verifier.
func (p *TwitterProvider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the callback code for a token and loads the user profile.
func (p *TwitterProvider) Exchange(ctx context.Context, code, verifier string) (Identity, error) {
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Identity{}, fmt.Errorf("oauth exchange: %w", err)
	}

	resp, err := p.oauth.Client(ctx, token).Get(p.userInfoURL)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch twitter user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
		return Identity{}, fmt.Errorf("twitter user returned %d: %s", resp.StatusCode, body)
	}

	var info struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
			Email           string `json:"email"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&info); err != nil {
		return Identity{}, fmt.Errorf("decode twitter user: %w", err)
	}
	if info.Data.ID == "" {
		return Identity{}, fmt.Errorf("twitter user has no id")
	}

	return Identity{
		Provider:       "twitter",
		ProviderUserID: info.Data.ID,
		Name:           info.Data.Name,
		Username:       info.Data.Username,
		Email:          info.Data.Email,
		Image:          info.Data.ProfileImageURL,
	}, nil
}
