package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ertriage/ertriage/internal/config"
	"github.com/ertriage/ertriage/internal/domain/alert"
	"github.com/ertriage/ertriage/internal/domain/encounter"
	"github.com/ertriage/ertriage/internal/domain/event"
	"github.com/ertriage/ertriage/internal/domain/message"
	"github.com/ertriage/ertriage/internal/platform/auth"
	"github.com/ertriage/ertriage/internal/platform/cache"
	"github.com/ertriage/ertriage/internal/platform/db"
	"github.com/ertriage/ertriage/internal/platform/middleware"
	"github.com/ertriage/ertriage/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "er-server",
		Short: "ER triage pipeline API server",
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
		Short: "Start the triage API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
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
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Scaffold a new migration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("read migrations directory: %w", err)
			}
			next := 1
			for _, entry := range entries {
				parts := strings.SplitN(entry.Name(), "_", 2)
				if v, err := strconv.Atoi(parts[0]); err == nil && v >= next {
					next = v + 1
				}
			}

			path := filepath.Join(dir, fmt.Sprintf("%03d_%s.sql", next, name))
			if err := os.WriteFile(path, []byte("-- "+name+"\n"), 0o644); err != nil {
				return err
			}
			fmt.Printf("Created %s\n", path)
			return nil
		},
	}
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	createCmd.Flags().String("name", "", "Migration name (snake_case)")
	cmd.AddCommand(createCmd)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var sink io.Writer = os.Stdout
	if cfg.IsDev() {
		sink = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		sink = zerolog.MultiLevelWriter(sink, rotating)
	}
	return zerolog.New(sink).With().Timestamp().Logger()
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	logger := newLogger(cfg)

	// Database
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	runner := db.NewRunner(pool)

	// Broadcast hub
	hub := websocket.NewHub(logger)

	// Event outbox and dispatcher
	eventRepo := event.NewRepo(pool)
	outbox := event.NewOutbox(eventRepo, logger)
	dispatcher := event.NewDispatcher(eventRepo, hub, logger, event.DispatcherConfig{
		Workers:        cfg.DispatchWorkers,
		QueueSize:      cfg.DispatchQueueSize,
		MaxAttempts:    cfg.DispatchMaxAttempts,
		BaseBackoff:    cfg.DispatchBaseBackoff,
		AttemptTimeout: event.DefaultDispatcherConfig().AttemptTimeout,
		SweepInterval:  cfg.SweepInterval,
		GracePeriod:    cfg.SweepGracePeriod,
		SweepLimit:     cfg.SweepLimit,
	})
	dispatcher.Start(ctx)

	// Location ping cache
	pings := cache.New(cfg.LocationCacheSize, cfg.LocationCacheTTL)
	go pings.Start(ctx)

	// Alert rule table
	ruleCfg := alert.DefaultRuleConfig()
	ruleCfg.ReassessOverdue = cfg.ReassessOverdue()

	// Domain services
	encRepo := encounter.NewRepo(pool)
	encSvc := encounter.NewService(encRepo, eventRepo, outbox, dispatcher, runner, pings, logger)

	alertRepo := alert.NewRepo(pool)
	alertSvc := alert.NewService(alertRepo, encRepo, outbox, dispatcher, runner, ruleCfg, logger)

	msgRepo := message.NewRepo(pool)
	msgSvc := message.NewService(msgRepo, encRepo, alertSvc, outbox, dispatcher, runner, logger)

	// Rule evaluator covers the time-based rules on a timer
	evaluator := alert.NewEvaluator(encRepo, alertSvc, ruleCfg, cfg.RuleEvalInterval, logger)
	go evaluator.Start(ctx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORS())

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// API group with auth
	api := e.Group("/api/v1")
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(cfg.DevHospital()))
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	encounter.NewHandler(encSvc).RegisterRoutes(api)
	alert.NewHandler(alertSvc).RegisterRoutes(api)
	message.NewHandler(msgSvc).RegisterRoutes(api)
	websocket.NewHandler(hub).RegisterRoutes(api)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown: stop accepting requests, then stop the background
	// workers and let in-flight dispatches drain.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	dispatcher.Wait()
	logger.Info().Msg("stopped")
	return nil
}
