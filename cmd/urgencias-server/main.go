package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
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
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/urgencias/internal/config"
	"github.com/ehr/urgencias/internal/domain/bed"
	"github.com/ehr/urgencias/internal/domain/encounter"
	"github.com/ehr/urgencias/internal/domain/notification"
	"github.com/ehr/urgencias/internal/domain/shift"
	"github.com/ehr/urgencias/internal/domain/staff"
	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/auth"
	"github.com/ehr/urgencias/internal/platform/clock"
	"github.com/ehr/urgencias/internal/platform/cron"
	"github.com/ehr/urgencias/internal/platform/db"
	"github.com/ehr/urgencias/internal/platform/fcm"
	"github.com/ehr/urgencias/internal/platform/metrics"
	"github.com/ehr/urgencias/internal/platform/middleware"
	push "github.com/ehr/urgencias/internal/platform/notification"
	"github.com/ehr/urgencias/internal/platform/pubsub"
	"github.com/ehr/urgencias/internal/platform/telemetry"
	"github.com/ehr/urgencias/internal/platform/websocket"
	"github.com/ehr/urgencias/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "urgencias-server",
		Short: "Emergency department API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(bedsCmd())

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

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openPool loads the config and connects; commands share it.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "", "Read migrations from this directory instead of the embedded set")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)
			count, err := db.NewMigrator(pool, migrationFiles(dir), cfg.DBSchema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir), cfg.DBSchema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", cfg.DBSchema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			reverted, err := db.NewMigrator(pool, migrationFiles(dir), cfg.DBSchema).Down(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if reverted == 0 {
				fmt.Println("Nothing to roll back.")
				return nil
			}
			fmt.Printf("Rolled back migration %d.\n", reverted)
			return nil
		},
	})

	return cmd
}

func bedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beds",
		Short: "Manage the bed registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create the default bed layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env)
			svc := bed.NewService(bed.NewRepo(pool), db.NewTxRunner(pool), nil, clock.Real(), audit.Nop{}, logger)
			created, err := svc.SeedDefaults(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d bed(s).\n", created)
			return nil
		},
	})
	return cmd
}

// newRouter builds the echo instance with the global middleware chain and
// the unauthenticated endpoints.
func newRouter(cfg *config.Config, logger zerolog.Logger, collector *metrics.Collector, tp trace.TracerProvider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware(tp))
	e.Use(collector.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

type waitAlerter interface {
	AlertOverdueWaits(ctx context.Context) (int, error)
}

type inboxPurger interface {
	PurgeRead(ctx context.Context, retention time.Duration) (int, error)
}

func maintenanceJobs(cfg *config.Config, waits waitAlerter, inbox inboxPurger, logger zerolog.Logger) []cron.Job {
	retention := time.Duration(cfg.NotificationRetentionDays) * 24 * time.Hour
	return []cron.Job{
		{
			Name:     "wait_alerts",
			Schedule: cfg.WaitAlertSchedule,
			Timeout:  30 * time.Second,
			Run: func(ctx context.Context) error {
				n, err := waits.AlertOverdueWaits(ctx)
				if n > 0 {
					logger.Info().Int("alerted", n).Msg("overdue waits alerted")
				}
				return err
			},
		},
		{
			Name:     "notification_purge",
			Schedule: cfg.NotificationPurgeSchedule,
			Timeout:  5 * time.Minute,
			Run: func(ctx context.Context) error {
				n, err := inbox.PurgeRead(ctx, retention)
				if err == nil {
					logger.Info().Int("deleted", n).Dur("retention", retention).Msg("read notifications purged")
				}
				return err
			},
		},
	}
}

// pushTransports lists the delivery paths. With Redis configured, sockets
// are reached through the relay so every instance delivers to its own
// clients; otherwise the local hub is used directly.
func pushTransports(hub *websocket.Hub, relay *pubsub.Relay, pusher *fcm.Pusher) []push.Named {
	var out []push.Named
	if relay != nil {
		out = append(out, push.Named{Name: "redis", Transport: relay})
	} else {
		out = append(out, push.Named{Name: "websocket", Transport: hub})
	}
	if pusher != nil {
		out = append(out, push.Named{Name: "fcm", Transport: pusher})
	}
	return out
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()
	hours, err := shift.ParseHours(cfg.ShiftMorningStart, cfg.ShiftMorningEnd, cfg.ShiftNightStart, cfg.ShiftNightEnd, cfg.ShiftDoubleStart, loc)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid shift hours")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "urgencias",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	tx := db.NewTxRunner(pool)
	clk := clock.Real()
	collector := metrics.NewCollector("urgencias")

	auditStore := audit.NewRepo(pool)
	sink := audit.NewAsyncSink(auditStore, cfg.AuditBufferSize, logger)

	// Push transports
	hub := websocket.NewHub(logger)
	var relay *pubsub.Relay
	if cfg.RedisURL != "" {
		client, err := pubsub.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		relay = pubsub.NewRelay(client, pubsub.DefaultChannel, hub, logger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("push relay stopped")
			}
		}()
	}
	devices := notification.NewDeviceRepo(pool)
	var pusher *fcm.Pusher
	if cfg.FirebaseCredentialsFile != "" {
		client, err := fcm.NewMessagingClient(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init firebase messaging")
		}
		pusher = fcm.NewPusher(client, devices, logger)
	}
	transport := push.NewMulti(logger, collector, pushTransports(hub, relay, pusher)...)

	// Domain services
	staffSvc := staff.NewService(staff.NewRepo(pool), sink)
	shiftSvc := shift.NewService(shift.NewRepo(pool), tx, hours, clk, staffSvc, sink, logger)

	notifRepo := notification.NewRepo(pool)
	dispatcher := notification.NewDispatcher(notifRepo, staffSvc, shiftSvc, transport, clk, cfg.PushTimeout, logger)
	dispatcher.SetMetrics(collector)
	inboxSvc := notification.NewService(notifRepo, devices, clk)
	inboxSvc.SetMetrics(collector)

	bedSvc := bed.NewService(bed.NewRepo(pool), tx, nil, clk, sink, logger)
	bedSvc.SetBroadcaster(hub)
	bedSvc.SetMetrics(collector)

	encSvc := encounter.NewService(encounter.NewRepo(pool), tx, bedSvc, dispatcher, clk, sink, logger)
	encSvc.SetLocation(loc)
	encSvc.SetBroadcaster(hub)
	encSvc.SetMetrics(collector)
	bedSvc.SetEncounterGate(encSvc)

	// HTTP
	e := newRouter(cfg, logger, collector, tp)
	e.GET("/health/db", db.HealthHandler(pool, cfg.DBSchema))

	apiV1 := e.Group("/api/v1", authMiddleware(cfg), middleware.Audit(logger))
	staff.NewHandler(staffSvc).RegisterRoutes(apiV1)
	shift.NewHandler(shiftSvc).RegisterRoutes(apiV1)
	bed.NewHandler(bedSvc).RegisterRoutes(apiV1)
	encounter.NewHandler(encSvc).RegisterRoutes(apiV1)
	notification.NewHandler(inboxSvc).RegisterRoutes(apiV1)
	audit.NewHandler(auditStore).RegisterRoutes(apiV1)
	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// Maintenance jobs
	jobs := cron.New(logger, loc)
	for _, job := range maintenanceJobs(cfg, encSvc, inboxSvc, logger) {
		if err := jobs.Add(job); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule job")
		}
	}
	jobs.Start()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("cron shutdown failed")
	}
	if err := sink.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("audit flush failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
