// Command admintoken mints an admin bearer token signed with JWT_SECRET.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"h2all/internal/auth"
	"h2all/internal/config"
	"h2all/internal/utils"
)

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "admintoken",
		Usage: "mint an admin bearer token for the h2all API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Usage:    "admin email; the token subject is its user key",
				Required: true,
			},
			&cli.Int64Flag{
				Name:  "ttl",
				Usage: "token lifetime in seconds (default JWT_TTL)",
			},
		},
		Writer: out,
		Action: func(c *cli.Context) error {
			email := c.String("email")
			if !utils.IsValidEmail(email) {
				return errors.New("--email must be a valid address")
			}
			cfg, err := config.Load(c.Context)
			if err != nil {
				return err
			}
			// Load fills in a random secret when none is configured; a token
			// signed with it would be useless.
			if os.Getenv("JWT_SECRET") == "" {
				return errors.New("JWT_SECRET must be set")
			}
			token, err := mintToken(cfg, email, c.Int64("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, token)
			return err
		},
	}
}

// mintToken signs an admin token for email. ttl overrides cfg.JWTTTL when positive.
func mintToken(cfg *config.Config, email string, ttl int64) (string, error) {
	if cfg == nil {
		return "", errors.New("missing config")
	}
	lifetime := cfg.JWTTTL
	if ttl > 0 {
		lifetime = ttl
	}
	return auth.Sign(cfg.JWTSecret, utils.UserKeyFromEmail(email), true, lifetime)
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "admintoken:", err)
		os.Exit(1)
	}
}
