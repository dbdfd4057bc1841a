package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

// testToken returns an HS256 token accepted by the server in test mode.
func testToken(secret []byte, sub, email, aud, iss string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	if sub == "" {
		return "", errors.New("subject must not be empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if aud != "" {
		claims["aud"] = aud
	}
	if iss != "" {
		claims["iss"] = iss
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func newTokenCmd() *cobra.Command {
	var (
		sub     string
		email   string
		session bool
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a test-mode token for local development",
		Long: `token signs an HS256 token with TEST_JWT_SECRET. The server only accepts
it when AUTH0_TEST_MODE=1. Use --session for a token valid as the
access_token cookie instead of a bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath, nil)
			if err != nil {
				return err
			}
			if !cfg.Auth.TestMode {
				return errors.New("token requires AUTH0_TEST_MODE=1")
			}
			if email == "" {
				email = cfg.Auth.AllowedEmail
			}
			aud := cfg.Auth.Audience
			if session && cfg.Auth.ClientID != "" {
				aud = cfg.Auth.ClientID
			}
			tok, err := testToken([]byte(cfg.Auth.TestSecret), sub, email, aud, cfg.Issuer(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "dev-user", "Subject claim (the task owner)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim; defaults to ALLOWED_EMAIL")
	cmd.Flags().BoolVar(&session, "session", false, "Use the OAuth client id as audience")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
