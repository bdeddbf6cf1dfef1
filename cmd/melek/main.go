package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TalelCS/melek/internal/config"
	"github.com/TalelCS/melek/internal/httpapi"
	"github.com/TalelCS/melek/internal/hub"
	"github.com/TalelCS/melek/internal/ledger"
	"github.com/TalelCS/melek/internal/logger"
	"github.com/TalelCS/melek/internal/relay"
	"github.com/TalelCS/melek/internal/store"
	"github.com/TalelCS/melek/internal/store/memory"
	"github.com/TalelCS/melek/internal/store/postgres"
	"github.com/TalelCS/melek/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "melek"

type flags struct {
	envFile string
	port    string
	migrate bool
	hashPIN string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	fs.StringVar(&f.port, "port", "", "listen port, overrides PORT")
	fs.BoolVar(&f.migrate, "migrate", true, "apply database migrations at startup")
	fs.StringVar(&f.hashPIN, "hash-pin", "", "print the bcrypt hash of a PIN for ADMIN_PIN_HASH and exit")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if f.hashPIN != "" {
		hash, err := httpapi.HashPIN(f.hashPIN)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}
	if err := config.LoadEnvFile(f.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", f.envFile, err)
		os.Exit(1)
	}
	cfg := config.Load()
	if f.port != "" {
		cfg.Port = f.port
	}

	log := logger.New(cfg.Env)
	if err := run(cfg, f, log); err != nil {
		log.Fatal().Err(err).Msg("melek stopped")
	}
}

func run(cfg config.Config, f flags, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(serviceName, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, f.migrate, log)
	if err != nil {
		return err
	}
	defer closeStore()

	events := hub.New(log)
	var publisher ledger.Publisher = events
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		rel := relay.New(client, cfg.RedisChannel, events, log)
		publisher = rel
		go func() {
			if err := rel.Run(ctx); err != nil {
				log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	queue := ledger.New(st, ledger.Options{
		DayID:                 cfg.DayID,
		AverageServiceMinutes: cfg.AverageServiceMinutes,
		PhoneDigits:           cfg.PhoneDigits,
		Publisher:             publisher,
	})

	if cfg.AdminPIN == "" && cfg.AdminPINHash == "" {
		return errors.New("ADMIN_PIN or ADMIN_PIN_HASH must be set")
	}
	auth, err := httpapi.NewAuth(httpapi.AuthConfig{
		PIN:     cfg.AdminPIN,
		PINHash: cfg.AdminPINHash,
		Secret:  cfg.AdminTokenSecret,
		TTL:     cfg.AdminSessionTTL,
	})
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}
	if cfg.AdminTokenSecret == "" {
		log.Warn().Msg("ADMIN_TOKEN_SECRET not set, admin sessions end on restart")
	}

	handler := httpapi.NewHandler(queue, httpapi.Options{
		Auth:                   auth,
		Hub:                    events,
		Log:                    log,
		RequestsPerMinute:      cfg.RateLimitPerMinute,
		LoginAttemptsPerMinute: cfg.LoginRateLimitPerMinute,
		CORSOrigin:             cfg.CORSOrigin,
		NoticeLang:             cfg.NoticeLang,
		Ping:                   st.Ping,
	})

	// No WriteTimeout: SockJS streaming transports hold responses open.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler.Routes(), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Str("day_id", queue.DayID()).Msg("melek listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, migrate bool, log zerolog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store, queue state is lost on restart")
		return memory.New(), func() {}, nil
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DB_DSN is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		st := postgres.NewStore(pool, postgres.Options{MaxAttempts: cfg.TxMaxAttempts})
		return st, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
