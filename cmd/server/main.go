package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracspend/internal/auth"
	"tracspend/internal/config"
	"tracspend/internal/handlers"
	"tracspend/internal/storage"
)

const (
	// readHeaderTimeout limits how long the server waits for request headers.
	readHeaderTimeout = 5 * time.Second
	// shutdownTimeout limits how long in-flight requests may run on shutdown.
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	h, err := newHandlers(cfg, store)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(h, cfg.StaticDir),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	log.Printf("Server starting on %s (session mode %s)", srv.Addr, cfg.SessionMode)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// newHandlers wires the auth components for cfg around store.
func newHandlers(cfg config.Config, store storage.Store) (*handlers.Handlers, error) {
	keys, err := auth.DeriveKeys(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}

	var providers []auth.Provider
	if cfg.GitHub.Enabled() {
		providers = append(providers, auth.GitHub(cfg.GitHub))
	}
	if cfg.Google.Enabled() {
		providers = append(providers, auth.Google(cfg.Google))
	}
	if len(providers) == 0 {
		log.Printf("No OAuth provider configured, sign-in is disabled")
	}

	httpClient := &http.Client{Timeout: cfg.OAuthHTTPTimeout}
	cookies := auth.NewCookieStore(keys, cfg.SecureCookie)
	tokens := auth.NewTokenIssuer(keys.Token, cfg.TokenIssuer, cfg.TokenTTL)
	sessions, err := auth.NewSessionStrategy(cfg.SessionMode, cookies, tokens)
	if err != nil {
		return nil, err
	}

	return handlers.NewHandlers(handlers.Config{
		Store:      store,
		Auth:       auth.NewAuthenticator(cfg.PublicURL, httpClient, providers...),
		Sessions:   sessions,
		States:     auth.NewStateKeeper(cookies),
		Tokens:     tokens,
		Debug:      cfg.Development(),
		CORSOrigin: cfg.CORSOrigin,
	}), nil
}

// setupRouter registers the API and serves the browser client from staticDir.
func setupRouter(h *handlers.Handlers, staticDir string) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return h.Wrap(mux)
}
