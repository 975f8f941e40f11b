package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mclinic/mclinic/internal/config"
	"github.com/mclinic/mclinic/internal/domain/identity"
	"github.com/mclinic/mclinic/internal/domain/messaging"
	"github.com/mclinic/mclinic/internal/domain/profile"
	"github.com/mclinic/mclinic/internal/domain/scheduling"
	"github.com/mclinic/mclinic/internal/platform/auth"
	"github.com/mclinic/mclinic/internal/platform/blobstore"
	"github.com/mclinic/mclinic/internal/platform/db"
	"github.com/mclinic/mclinic/internal/platform/events"
	"github.com/mclinic/mclinic/internal/platform/middleware"
	"github.com/mclinic/mclinic/internal/platform/websocket"
	"github.com/mclinic/mclinic/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mclinic-server",
		Short: "Mobile Clinic API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
				}
				if s.AppliedAt != nil {
					appliedAt = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, poolConfig(cfg))
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	deps := serverDeps{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		pingers: map[string]db.Pinger{},
	}

	if cfg.RedisURL != "" {
		broker, err := events.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer broker.Close()
		if err := broker.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe to redis events")
		}
		deps.bus = broker
		deps.revoked = auth.NewRedisRevocationStore(broker.Client())
		deps.pingers["redis"] = broker
		logger.Info().Msg("redis event fan-out enabled")
	} else {
		revoked := auth.NewMemoryRevocationStore()
		defer revoked.Close()
		deps.bus = events.NewBroker()
		deps.revoked = revoked
	}

	switch cfg.BlobBackend {
	case "memory":
		deps.blobs = blobstore.NewInMemoryStore(cfg.MaxUploadBytes)
	default:
		deps.blobs = blobstore.NewPostgresStore(pool, cfg.MaxUploadBytes)
	}

	e, err := newServer(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// serverDeps are the process-wide resources the HTTP server is built from.
type serverDeps struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	bus     events.Bus
	revoked auth.RevocationStore
	blobs   blobstore.Store
	pingers map[string]db.Pinger
}

func newServer(d serverDeps) (*echo.Echo, error) {
	cfg := d.cfg
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(key, cfg.JWTIssuer, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(1<<20, cfg.MaxUploadBytes+(1<<20)))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", db.HealthHandler(d.pool, d.pingers))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	public := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	protected := public.Group("", auth.Middleware(tokens, d.revoked))

	// Services
	identitySvc := identity.NewService(identity.NewAccountRepo(d.pool), tokens, d.revoked, d.bus, d.logger)
	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, d.pool, fn)
	}
	profileSvc := profile.NewService(profile.NewProfileRepo(d.pool), identitySvc, d.blobs, d.bus, inTx, cfg.PublicBaseURL, d.logger)
	messagingSvc := messaging.NewService(messaging.NewConversationRepo(d.pool), messaging.NewMessageRepo(d.pool),
		profileSvc, d.blobs, d.bus, cfg.PublicBaseURL, d.logger)
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepo(d.pool), profileSvc)

	// Routes
	identity.NewHandler(identitySvc).RegisterRoutes(public, protected)
	profile.NewHandler(profileSvc).RegisterRoutes(protected)
	messaging.NewHandler(messagingSvc).RegisterRoutes(protected)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(protected)
	blobstore.NewHandler(d.blobs, messagingSvc.AuthorizeBlob).RegisterRoutes(protected)

	hub := websocket.NewHub(d.logger)
	hub.Handle("auth", identitySvc.Source())
	hub.Handle("user", profileSvc.Source())
	hub.Handle("chat", messagingSvc.Source())
	websocket.NewHandler(hub, cfg.CORSOrigins).CloseOnSignOut(identitySvc).RegisterRoutes(protected)

	return e, nil
}
