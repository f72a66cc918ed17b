// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

// ErrExchange wraps failures talking to the provider.
var ErrExchange = errors.New("oauth2 exchange failed")

// Endpoints locate a provider's OAuth2 and user-info services.
type Endpoints struct {
	OAuth2      oauth2.Endpoint
	UserInfoURL string
	EmailsURL   string // GitHub only: fallback for private primary emails
	Scopes      []string
}

// DefaultEndpoints are the public endpoints of the supported providers.
var DefaultEndpoints = map[models.AuthProvider]Endpoints{
	models.ProviderGoogle: {
		OAuth2:      endpoints.Google,
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:      []string{"openid", "email", "profile"},
	},
	models.ProviderGitHub: {
		OAuth2:      endpoints.GitHub,
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		Scopes:      []string{"read:user", "user:email"},
	},
	models.ProviderFacebook: {
		OAuth2:      endpoints.Facebook,
		UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		Scopes:      []string{"email", "public_profile"},
	},
}

// Client runs the authorization-code flow against one provider.
type Client struct {
	provider   models.AuthProvider
	oauth      *oauth2.Config
	endpoints  Endpoints
	httpClient *http.Client
}

// NewClient creates a Client. httpClient may be nil.
func NewClient(provider models.AuthProvider, creds config.OAuthProviderConfig, redirectURL string, ep Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		provider: provider,
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     ep.OAuth2,
			RedirectURL:  redirectURL,
			Scopes:       ep.Scopes,
		},
		endpoints:  ep,
		httpClient: httpClient,
	}
}

// NewClients builds a client for every provider with credentials in cfg.
func NewClients(cfg config.OAuthConfig, baseURL string) map[models.AuthProvider]*Client {
	configured := map[models.AuthProvider]config.OAuthProviderConfig{
		models.ProviderGoogle:   cfg.Google,
		models.ProviderGitHub:   cfg.GitHub,
		models.ProviderFacebook: cfg.Facebook,
	}

	clients := make(map[models.AuthProvider]*Client)
	for provider, creds := range configured {
		if !creds.Enabled() {
			continue
		}
		clients[provider] = NewClient(provider, creds, CallbackURL(baseURL, provider), DefaultEndpoints[provider], nil)
	}
	return clients
}

// CallbackURL is the redirect URI registered with the provider.
func CallbackURL(baseURL string, provider models.AuthProvider) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/auth/oauth2/callback/" + strings.ToLower(string(provider))
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() models.AuthProvider {
	return c.provider
}

// AuthCodeURL returns the consent page URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// FetchAttributes exchanges code for a token and loads the user-info document.
func (c *Client) FetchAttributes(ctx context.Context, code string) (Attributes, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	hc := c.oauth.Client(ctx, tok)

	var attrs Attributes
	if err := getJSON(ctx, hc, c.endpoints.UserInfoURL, &attrs); err != nil {
		return nil, err
	}

	if attrs.String("email") == "" && c.endpoints.EmailsURL != "" {
		email, err := primaryEmail(ctx, hc, c.endpoints.EmailsURL)
		if err != nil {
			return nil, err
		}
		attrs["email"] = email
	}
	return attrs, nil
}

type providerEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func primaryEmail(ctx context.Context, hc *http.Client, url string) (string, error) {
	var emails []providerEmail
	if err := getJSON(ctx, hc, url, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

func getJSON(ctx context.Context, hc *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrExchange, url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrExchange, url, err)
	}
	return nil
}
