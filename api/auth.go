package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	sessionCookie       = "access_token"
	clockSkew           = time.Minute
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("account not allowed")
)

// AuthConfig configures token validation.
type AuthConfig struct {
	// Audience is expected on bearer access tokens.
	Audience string
	// ClientID is the audience of id tokens kept in the session cookie.
	// Without it the cookie must carry an access token for Audience.
	ClientID     string
	Issuer       string
	AllowedEmail string
	TestMode     bool
	TestSecret   []byte
	KeyCacheTTL  time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	JWKS *keyfunc.JWKS
	cfg  AuthConfig

	parser   *jwt.Parser
	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. Test mode verifies HS256 tokens signed
// with TestSecret instead of RS256 tokens from the JWKS.
func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) (*Auth, error) {
	if cfg.TestMode && len(cfg.TestSecret) == 0 {
		return nil, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
	}
	if !cfg.TestMode && jwks == nil {
		return nil, errors.New("jwks not configured")
	}
	if cfg.KeyCacheTTL == 0 {
		cfg.KeyCacheTTL = defaultJWKSCacheTTL
	}
	a := &Auth{JWKS: jwks, cfg: cfg}
	if cfg.TestMode {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	}
	return a, nil
}

// PrincipalFromRequest reads the bearer header, falling back to the session
// cookie for browser requests.
func (a *Auth) PrincipalFromRequest(r *http.Request) (Principal, error) {
	token, err := bearerTokenFromHeader(r.Header)
	if err == nil {
		return a.verify(readOnlyString(token), a.cfg.Audience)
	}
	if !errors.Is(err, errMissingAuthorization) {
		return Principal{}, errors.Join(ErrUnauthorized, err)
	}
	raw := sessionTokenFromCookies(r.Header.Get("Cookie"))
	if raw == "" {
		return Principal{}, errors.Join(ErrUnauthorized, errMissingAuthorization)
	}
	return a.verify(raw, a.cookieAudience())
}

// VerifyIDToken checks an id token returned by the sign-in flow.
func (a *Auth) VerifyIDToken(raw string) (Principal, error) {
	return a.verify(raw, a.cookieAudience())
}

func (a *Auth) cookieAudience() string {
	if a.cfg.ClientID != "" {
		return a.cfg.ClientID
	}
	return a.cfg.Audience
}

func (a *Auth) verify(tokenStr, audience string) (Principal, error) {
	claims, err := a.parse(tokenStr, audience)
	if err != nil {
		return Principal{}, errors.Join(ErrUnauthorized, err)
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Principal{}, errors.Join(ErrUnauthorized, errors.New("missing sub"))
	}
	email, _ := claims["email"].(string)
	p := Principal{Subject: sub, Email: email}
	if exp, ok := claims["exp"].(float64); ok {
		p.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	if a.cfg.AllowedEmail != "" && !strings.EqualFold(strings.TrimSpace(email), a.cfg.AllowedEmail) {
		return p, ErrForbidden
	}
	return p, nil
}

func (a *Auth) parse(tokenStr, audience string) (jwt.MapClaims, error) {
	if tokenStr == "" {
		return nil, errBadAuthorization
	}
	var parsedToken *jwt.Token
	var err error
	if a.cfg.TestMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.cfg.TestSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return nil, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	now := time.Now()
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return nil, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false) {
		return nil, errors.New("token used before issued")
	}
	if audience != "" && !claims.VerifyAudience(audience, true) {
		return nil, errors.New("invalid audience")
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, true) {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}
