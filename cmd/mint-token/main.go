package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tracspend/internal/auth"
	"tracspend/internal/models"

	"golang.org/x/term"
)

const defaultIssuer = "tracspend"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	fs.SetOutput(stderr)

	userID := fs.String("user", "", "Provider user id the token is issued for")
	provider := fs.String("provider", "github", "Identity provider (github or google)")
	name := fs.String("name", "", "Display name (optional)")
	email := fs.String("email", "", "Email address (optional)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	issuer := fs.String("issuer", defaultIssuer, "Token issuer, must match the server's TOKEN_ISSUER")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		fmt.Fprintln(stdout, "Usage: mint-token -user <id> [-provider github|google] [-name <name>] [-email <email>] [-ttl 24h]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	identity := models.Identity{
		ID:       *userID,
		Name:     *name,
		Email:    *email,
		Provider: models.Provider(strings.ToLower(*provider)),
	}
	if !identity.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", *provider)
	}
	if *ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	// Allow overriding the issuer via env var if not explicitly set via flag
	if iss := os.Getenv("TOKEN_ISSUER"); iss != "" && *issuer == defaultIssuer {
		*issuer = iss
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		fmt.Fprint(stderr, "Session secret: ")
		var err error
		secret, err = readSecret(stdin)
		if err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
		fmt.Fprintln(stderr) // Print newline after secret input
	}

	keys, err := auth.DeriveKeys(secret)
	if err != nil {
		return err
	}

	token, expiresAt, err := auth.NewTokenIssuer(keys.Token, *issuer, *ttl).Issue(identity)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(stdout, token)
	fmt.Fprintf(stderr, "Token for %s:%s expires at %s\n", identity.Provider, identity.ID, expiresAt.Format(time.RFC3339))
	return nil
}

func readSecret(stdin io.Reader) (string, error) {
	// Check if stdin is a terminal
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		byteSecret, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(byteSecret), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
