// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/socialnet-auth/internal/middleware"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/federation"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/session"
)

// OAuthHandlers runs the authorization code flow against external providers.
type OAuthHandlers struct {
	clients         map[models.AuthProvider]*federation.Client
	state           *federation.StateCodec
	adapter         *federation.Adapter
	sessions        *session.Manager
	successRedirect string
}

// NewOAuth creates a new OAuthHandlers instance. When successRedirect is
// set, the callback redirects there with the token pair in the fragment.
func NewOAuth(clients map[models.AuthProvider]*federation.Client, state *federation.StateCodec,
	adapter *federation.Adapter, sessions *session.Manager, successRedirect string,
) *OAuthHandlers {
	return &OAuthHandlers{
		clients:         clients,
		state:           state,
		adapter:         adapter,
		sessions:        sessions,
		successRedirect: successRedirect,
	}
}

func (h *OAuthHandlers) client(c echo.Context) (*federation.Client, error) {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		return nil, federation.ErrUnsupportedProvider
	}
	client, ok := h.clients[provider]
	if !ok {
		return nil, federation.ErrUnsupportedProvider
	}
	return client, nil
}

// Authorize redirects to the provider's consent page.
func (h *OAuthHandlers) Authorize(c echo.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}

	state, cookie, err := h.state.Issue(client.Provider())
	if err != nil {
		return fmt.Errorf("issue oauth state: %w", err)
	}
	c.SetCookie(cookie)

	return c.Redirect(http.StatusFound, client.AuthCodeURL(state))
}

// Callback completes the flow: it checks the state, exchanges the code,
// resolves the local account and opens a session.
func (h *OAuthHandlers) Callback(c echo.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}

	cookie, _ := c.Cookie(federation.StateCookieName)
	c.SetCookie(h.state.ClearCookie())

	if providerErr := c.QueryParam("error"); providerErr != "" {
		slog.Warn("oauth_denied", "provider", client.Provider(), "error", providerErr)
		return fmt.Errorf("%w: provider returned %s", federation.ErrExchange, providerErr)
	}
	if err := h.state.Verify(cookie, client.Provider(), c.QueryParam("state")); err != nil {
		slog.Warn("oauth_state_rejected", "provider", client.Provider())
		return err
	}

	code := c.QueryParam("code")
	if code == "" {
		return errInvalidRequest(nil)
	}

	ctx := c.Request().Context()
	attrs, err := client.FetchAttributes(ctx, code)
	if err != nil {
		return err
	}
	user, err := h.adapter.Resolve(ctx, client.Provider(), attrs)
	if err != nil {
		return err
	}

	pair, err := h.sessions.Start(ctx, user, middleware.GetDevice(ctx), session.MethodOAuth)
	if err != nil {
		return err
	}

	if h.successRedirect != "" {
		fragment := url.Values{
			"access_token":  {pair.AccessToken},
			"refresh_token": {pair.RefreshToken},
			"token_type":    {pair.TokenType},
			"expires_in":    {strconv.FormatInt(pair.ExpiresIn, 10)},
		}
		return c.Redirect(http.StatusFound, h.successRedirect+"#"+fragment.Encode())
	}
	return c.JSON(http.StatusOK, pair)
}
