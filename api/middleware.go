package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	principalKey    = "principal"
	authDurationKey = "auth_duration"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies. Requests
// with invalid gzip payloads are rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// RequireAPISession answers 401 without a valid session and 403 for accounts
// outside the allow-list.
func RequireAPISession(auth Authenticator, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			p, err := auth.PrincipalFromRequest(c.Request())
			c.Set(authDurationKey, time.Since(start))
			if err != nil {
				if errors.Is(err, ErrForbidden) {
					logger.WithField("email", p.Email).Warn("rejected account outside allow-list")
					return c.String(http.StatusForbidden, ErrForbidden.Error())
				}
				return c.String(http.StatusUnauthorized, err.Error())
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// RequirePageSession redirects anonymous browsers to the sign-in flow. When
// signIn is false there is no flow to send them to and they get a 401.
func RequirePageSession(auth Authenticator, signIn bool, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := auth.PrincipalFromRequest(c.Request())
			if err != nil {
				if errors.Is(err, ErrForbidden) {
					logger.WithField("email", p.Email).Warn("rejected account outside allow-list")
					return c.String(http.StatusForbidden, "This account is not allowed to use the journal.")
				}
				if !signIn {
					return c.String(http.StatusUnauthorized, "Sign-in is not configured. Send a bearer token or an access_token cookie.")
				}
				target := "/auth/login?next=" + url.QueryEscape(c.Request().URL.RequestURI())
				return c.Redirect(http.StatusFound, target)
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) Principal {
	p, _ := c.Get(principalKey).(Principal)
	return p
}

func authDurationFrom(c echo.Context) time.Duration {
	d, _ := c.Get(authDurationKey).(time.Duration)
	return d
}
