package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cc4me/cc4me/internal/config"
	"github.com/cc4me/cc4me/internal/contact"
	"github.com/cc4me/cc4me/internal/disposable"
	"github.com/cc4me/cc4me/internal/group"
	"github.com/cc4me/cc4me/internal/httpapi"
	"github.com/cc4me/cc4me/internal/ratelimit"
	"github.com/cc4me/cc4me/internal/registry"
	"github.com/cc4me/cc4me/internal/store"
	"github.com/cc4me/cc4me/internal/verify"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// consoleSender logs verification codes instead of emailing them; used when no SMTP-equivalent sender is
// configured. The relay never requires a working email provider to boot.
type consoleSender struct{}

func (consoleSender) Send(ctx context.Context, email, code string) error {
	log.Info().Str("email", email).Str("code", code).Msg("Verification code (no email sender configured)")
	return nil
}

// openRateLimitRedis connects to the configured Redis URL, or starts an embedded miniredis instance when no URL is
// set so the relay still boots (and its rate limits still work) without an external dependency.
func openRateLimitRedis(rawURL string) (*redis.Client, error) {
	if rawURL != "" {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse RATE_LIMIT_REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}

	log.Warn().Msg("RATE_LIMIT_REDIS_URL is not set. Using an embedded in-memory Redis; counters will not survive a restart.")
	mr, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("start embedded redis: %w", err)
	}
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().Str("version", version).Str("commit", commit).Str("built", date).
		Str("env", cfg.ServerEnv).Msg("Starting cc4me relay")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	st, err := store.Open(cfg.DBPath, log.Logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.DB.Close()
	log.Info().Str("path", cfg.DBPath).Msg("Database opened")

	rdb, err := openRateLimitRedis(cfg.RateLimitCounterURL)
	if err != nil {
		return fmt.Errorf("connect rate limit counter: %w", err)
	}
	limiterClient := ratelimit.New(rdb)

	blocklist := disposable.NewBlocklist(cfg.DisposableEmailBlocklist)
	verifySvc := verify.New(st, consoleSender{})
	registrySvc := registry.New(st, verifySvc, blocklist)
	contactSvc := contact.New(st, limiterClient, cfg.ContactRequestLimit, cfg.ContactRequestWindow)
	groupSvc := group.New(st)

	srv := httpapi.New(cfg, st, contactSvc, groupSvc, registrySvc, verifySvc, log.Logger)
	app := srv.BuildApp()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Relay listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
