package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	stateCookie = "oauth_state"
	nextCookie  = "oauth_next"
	stateMaxAge = 10 * 60
)

// IDTokenVerifier checks the id token returned by the provider.
type IDTokenVerifier interface {
	VerifyIDToken(raw string) (Principal, error)
}

// Exchanger trades an authorization code for tokens.
type Exchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Session runs the authorization-code sign-in flow and keeps the resulting
// id token in an HttpOnly cookie.
type Session struct {
	oauth    Exchanger
	verifier IDTokenVerifier
	secure   bool
	logger   *log.Logger
}

// NewOAuthConfig builds the provider config for an Auth0 tenant.
func NewOAuthConfig(domain, clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://" + domain + "/authorize",
			TokenURL: "https://" + domain + "/oauth/token",
		},
	}
}

func NewSession(oauth Exchanger, verifier IDTokenVerifier, secure bool, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New()
	}
	return &Session{oauth: oauth, verifier: verifier, secure: secure, logger: logger}
}

// Login redirects to the provider with a fresh state.
func (s *Session) Login(c echo.Context) error {
	state := uuid.NewString()
	c.SetCookie(s.cookie(stateCookie, state, stateMaxAge))
	if next := safeNext(c.QueryParam("next")); next != "/" {
		c.SetCookie(s.cookie(nextCookie, next, stateMaxAge))
	}
	return c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state))
}

// Callback finishes sign-in and sets the session cookie.
func (s *Session) Callback(c echo.Context) error {
	cookies := ParseCookies(c.Request().Header.Get("Cookie"))
	state := cookies[stateCookie]
	c.SetCookie(s.cookie(stateCookie, "", -1))
	if state == "" || c.QueryParam("state") != state {
		return c.String(http.StatusBadRequest, "invalid sign-in state")
	}
	if e := c.QueryParam("error"); e != "" {
		s.logger.WithFields(log.Fields{"error": e, "description": c.QueryParam("error_description")}).Warn("sign-in refused by provider")
		return c.String(http.StatusUnauthorized, "sign-in failed")
	}
	code := c.QueryParam("code")
	if code == "" {
		return c.String(http.StatusBadRequest, "missing code")
	}

	tok, err := s.oauth.Exchange(c.Request().Context(), code)
	if err != nil {
		s.logger.WithError(err).Error("code exchange failed")
		return c.String(http.StatusBadGateway, "sign-in failed")
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		s.logger.Error("token response without id_token")
		return c.String(http.StatusBadGateway, "sign-in failed")
	}
	p, err := s.verifier.VerifyIDToken(raw)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.logger.WithField("email", p.Email).Warn("rejected account outside allow-list")
			return c.String(http.StatusForbidden, "This account is not allowed to use the journal.")
		}
		s.logger.WithError(err).Warn("id token rejected")
		return c.String(http.StatusUnauthorized, "sign-in failed")
	}

	maxAge := 0
	if !p.ExpiresAt.IsZero() {
		maxAge = int(time.Until(p.ExpiresAt).Seconds())
		if maxAge <= 0 {
			return c.String(http.StatusUnauthorized, "sign-in failed")
		}
	}
	c.SetCookie(s.cookie(sessionCookie, raw, maxAge))
	s.logger.WithField("sub", p.Subject).Info("signed in")

	next := "/"
	if v, ok := cookies[nextCookie]; ok {
		next = safeNext(v)
		c.SetCookie(s.cookie(nextCookie, "", -1))
	}
	return c.Redirect(http.StatusFound, next)
}

// Logout clears the session cookie.
func (s *Session) Logout(c echo.Context) error {
	c.SetCookie(s.cookie(sessionCookie, "", -1))
	return c.Redirect(http.StatusFound, "/")
}

func (s *Session) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// safeNext only allows local absolute paths as post-login targets.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}
