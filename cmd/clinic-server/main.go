package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic appointment reminder server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(appointmentCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logLevel(cmd *cobra.Command) string {
	lvl, _ := cmd.Flags().GetString("log-level")
	return lvl
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the push endpoint and the reminder dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), logLevel(cmd))
		},
	}
}

// chain applies mws so that the first one runs first.
func chain(mws ...echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSigningKey)}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newServer builds the HTTP surface: /health and the authenticated /ws upgrade.
func newServer(cfg *config.Config, logger zerolog.Logger, hub *websocket.Hub, health map[string]db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Authorization", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(health))

	wsHandler := websocket.NewHandler(hub, cfg.CORSOrigins)
	wsHandler.RegisterRoutes(e.Group(""), chain(
		authMiddleware(cfg),
		middleware.RateLimit(middleware.DefaultConnectLimit()),
	))
	return e
}

func runServer(parent context.Context, level string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, level)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	hub := websocket.NewHub(logger)
	dispatcher := a.dispatcher(hub)

	// Rebuild index entries lost to Redis restarts or post-commit failures.
	go func() {
		stats, err := a.reindexer.Sweep(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("startup reindex sweep failed")
			return
		}
		logger.Info().Int("scanned", stats.Scanned).Int("indexed", stats.Indexed).
			Int("failed", stats.Failed).Msg("startup reindex sweep finished")
	}()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx)
	}()

	e := newServer(a.cfg, logger, hub, a.healthDeps())
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	<-dispatchDone
	logger.Info().Msg("server stopped")
	return nil
}
