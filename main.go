package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MGallo-Code/obol/internal/auth"
	"github.com/MGallo-Code/obol/internal/billing"
	"github.com/MGallo-Code/obol/internal/config"
	"github.com/MGallo-Code/obol/internal/metrics"
	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/ratelimit"
	"github.com/MGallo-Code/obol/internal/session"
	"github.com/MGallo-Code/obol/internal/store"
	"github.com/MGallo-Code/obol/internal/user"
)

// Embeds the migration files and static pages INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

//go:embed static
var staticDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Connect Postgres and Redis concurrently; either failing aborts startup.
	var (
		ps  *store.PostgresStore
		rdb *redis.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if ps, err = store.NewPostgresStore(gctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to set up postgres store: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if rdb, err = store.NewRedisClient(gctx, cfg.RedisURL, cfg.RedisPassword); err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		return nil
	})
	err := g.Wait()
	// Close whichever side did connect, even when the other failed.
	if ps != nil {
		defer ps.Close()
	}
	if rdb != nil {
		defer rdb.Close()
	}
	if err != nil {
		return err
	}

	// Run database migrations
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	h, err := newHandler(ctx, cfg, ps, rdb)
	if err != nil {
		return err
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h, cfg)}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("obol listening", "addr", ln.Addr().String(), "billing", h.Billing != nil)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	// In-flight requests get 30s to finish before Shutdown gives up.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// newHandler builds the service graph on the shared Postgres store and Redis client.
func newHandler(ctx context.Context, cfg *config.Config, ps *store.PostgresStore, rdb *redis.Client) (*auth.AuthHandler, error) {
	kv := store.NewRedisStore(rdb)
	cache := store.NewCache(rdb)

	guards, err := auth.NewGuards(kv, auth.SessionAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limit guards: %w", err)
	}

	h := &auth.AuthHandler{
		Users:        user.NewService(ps, cache),
		Sessions:     session.NewManager(cache, cfg.SessionTTL, cfg.OAuthStateTTL),
		Limiter:      ratelimit.NewLimiter(kv),
		Guards:       guards,
		Accounts:     ps,
		OAuth:        oauthProviders(ctx, cfg),
		Health:       map[string]auth.HealthChecker{"postgres": ps, "redis": kv},
		CookieDomain: cfg.CookieDomain,
	}

	// Billing stays nil without a Stripe key; its routes then answer 500.
	if cfg.BillingEnabled() {
		h.Billing = billing.NewService(billing.NewStripeClient(cfg.StripeSecretKey), kv, billing.Config{
			PriceID:       cfg.StripePriceID,
			AppURL:        cfg.AppURL,
			WebhookSecret: cfg.StripeWebhookSecret,
		})
	}
	return h, nil
}

// oauthProviders returns the configured providers keyed by name.
// Google needs OIDC discovery at startup; if that fails Google sign-in is disabled, not the server.
func oauthProviders(ctx context.Context, cfg *config.Config) map[string]oauth.Provider {
	providers := map[string]oauth.Provider{}
	if c := cfg.GitHub; c.ClientID != "" {
		providers["github"] = oauth.NewGitHubProvider(c.ClientID, c.ClientSecret, c.RedirectURI)
	}
	if c := cfg.Google; c.ClientID != "" {
		p, err := oauth.NewGoogleProvider(ctx, c.ClientID, c.ClientSecret, c.RedirectURI)
		if err != nil {
			slog.Warn("google oauth disabled", "error", err)
		} else {
			providers["google"] = p
		}
	}
	return providers
}

// allowedOrigins lists the Origin substrings accepted on mutating requests.
func allowedOrigins(cfg *config.Config) []string {
	origins := []string{"localhost"}
	for _, raw := range []string{cfg.AppURL, cfg.CORSOrigin} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			origins = append(origins, u.Host)
		}
	}
	return origins
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(auth.SecurityHeaders)
	r.Use(auth.CORS(cfg.CORSOrigin))
	// Scanners are turned away before they touch sessions or rate-limit counters.
	r.Use(auth.BlockScanners)
	r.Use(auth.SameOriginWrites(allowedOrigins(cfg)...))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		auth.NotFound(w, "Not Found")
	})

	r.Get("/health", h.CheckHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/webhook", h.Webhook)
	r.Route("/api", h.APIRoutes)

	pages, err := fs.Sub(staticDir, "static")
	if err != nil {
		// Only possible if the embed directive changes.
		panic(err)
	}
	r.Get("/", servePage(pages, "index.html"))
	r.With(h.LoadSession, auth.RequireSession).Get("/chat", servePage(pages, "chat.html"))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(pages)))

	return r
}

// servePage serves one embedded HTML file.
func servePage(pages fs.FS, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, pages, name)
	}
}
