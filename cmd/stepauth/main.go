package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stackidm/stepauth/pkg/authflow"
	"github.com/stackidm/stepauth/pkg/config"
	"github.com/stackidm/stepauth/pkg/login"
	loginapi "github.com/stackidm/stepauth/pkg/login/api"
	"github.com/stackidm/stepauth/pkg/ratelimit"
	"github.com/stackidm/stepauth/pkg/redirect"
	"github.com/stackidm/stepauth/pkg/secrets"
	"github.com/stackidm/stepauth/pkg/token"
	"github.com/stackidm/stepauth/pkg/totp"
	"github.com/stackidm/stepauth/pkg/twofa"
	twofaapi "github.com/stackidm/stepauth/pkg/twofa/api"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed loading config", "err", err)
		os.Exit(-1)
	}

	repo, err := buildSecretRepository(cfg.PersistenceConfig)
	if err != nil {
		slog.Error("Failed creating secret repository", "type", cfg.PersistenceConfig.Type, "err", err)
		os.Exit(-1)
	}

	engine := totp.NewEngine()
	twoFaService := twofa.NewService(repo, engine,
		twofa.WithIssuer(cfg.AppConfig.ApplicationName),
		twofa.WithSecretBits(cfg.AppConfig.SecretKeyLength),
	)

	accountStore := login.NewInMemAccountStore()
	seedAccounts(accountStore)
	verifier := login.NewBcryptVerifier(accountStore)

	tempTokenTTL, err := time.ParseDuration(cfg.JwtConfig.TempTokenExpiry)
	if err != nil {
		slog.Error("Invalid TEMP_TOKEN_EXPIRY", "value", cfg.JwtConfig.TempTokenExpiry, "err", err)
		os.Exit(-1)
	}
	tempTokens := token.NewService(cfg.JwtConfig.Secret, tempTokenTTL)

	deps := &authflow.Dependencies{
		Credentials: verifier,
		TwoFactor:   twoFaService,
		TempTokens:  tempTokens,
	}
	requireTwoFA := cfg.AppConfig.RequireTwoFactorAuthentication
	passwordFlow := authflow.BuildPasswordLoginFlow(requireTwoFA, deps)
	otpFlow := authflow.BuildOtpResumeFlow(requireTwoFA, deps)

	loginThrottle := ratelimit.NewMiddleware(ratelimit.DefaultConfig())

	tokenAuth := jwtauth.New("HS256", []byte(cfg.JwtConfig.Secret), nil)
	loginHandle := loginapi.NewHandle(passwordFlow, otpFlow, tokenAuth, loginapi.WithThrottle(loginThrottle))
	twoFaHandle := twofaapi.NewHandle(twoFaService)

	stepUp := redirect.NewMiddleware(cfg.RoutesConfig.Routes())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})

	r.Group(func(r chi.Router) {
		r.Use(loginThrottle.Handler)
		r.Use(stepUp.Handler)
		r.Mount("/login", loginapi.LoginRouter(loginHandle))
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))
		r.Mount("/2fa", twofaapi.TwoFaRouter(twoFaHandle))
	})

	slog.Info("Starting stepauth", "addr", cfg.ServerConfig.Addr(), "persistence", cfg.PersistenceConfig.Type, "require2fa", requireTwoFA)
	if err := http.ListenAndServe(cfg.ServerConfig.Addr(), r); err != nil {
		slog.Error("Server stopped", "err", err)
		os.Exit(-1)
	}
}

func buildSecretRepository(cfg config.PersistenceConfig) (secrets.SecretRepository, error) {
	repoConfig := secrets.RepositoryConfig{DataDir: cfg.DataDir}

	switch cfg.Type {
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.PgURL())
		if err != nil {
			return nil, err
		}
		repoConfig.DB = pool
	case "redis":
		repoConfig.RedisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	return secrets.NewSecretRepository(cfg.Type, repoConfig)
}

// seedAccounts loads demo credentials so the server is usable out of
// the box. Real deployments replace the in-memory store wholesale.
func seedAccounts(store *login.InMemAccountStore) {
	username := envOrDefault("SEED_USERNAME", "admin")
	password := envOrDefault("SEED_PASSWORD", "please-change-me")
	if err := store.AddAccount("acct-"+username, username, password); err != nil {
		slog.Error("Failed seeding account", "username", username, "err", err)
		os.Exit(-1)
	}
	slog.Info("Seeded account", "username", username)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
