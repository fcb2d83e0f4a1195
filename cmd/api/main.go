package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ehr/internal/config"
	"github.com/ehr/ehr/internal/domain/immunization"
	"github.com/ehr/ehr/internal/platform/auth"
	"github.com/ehr/ehr/internal/platform/db"
	"github.com/ehr/ehr/internal/platform/fhir"
	"github.com/ehr/ehr/internal/platform/middleware"
	"github.com/ehr/ehr/internal/platform/refcache"

	"github.com/redis/go-redis/v9"
)

// allowedMethods is the method set this API ever routes, echoed on the
// Allow header of a 405 response (spec.md §6).
var allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// fhirErrorHandler overrides echo's default error handler so that unknown
// paths and disallowed methods return a FHIR OperationOutcome body rather
// than echo's plain-text default (spec.md §6, grounded on
// backend/src/not_found_handler.py's ALLOWED_METHODS/404/405 shaping).
func fhirErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		var outcome *fhir.OperationOutcome
		switch code {
		case http.StatusNotFound:
			outcome = fhir.ErrorOutcome("unknown path: " + c.Request().URL.Path)
		case http.StatusMethodNotAllowed:
			c.Response().Header().Set(echo.HeaderAllow, strings.Join(allowedMethods, ", "))
			outcome = fhir.ErrorOutcome("method not allowed: " + c.Request().Method)
		default:
			outcome = fhir.ErrorOutcome(err.Error())
		}

		if writeErr := c.JSON(code, outcome); writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "ehr-api",
		Short: "Immunisation FHIR CRUD API server",
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
		Short: "Start the CRUD API server (C7)",
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
			applied, err := migrator.Up(ctx, "public")
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migrations\n", applied)
			return nil
		},
	}
	upCmd.Flags().String("dir", "migrations", "Migrations directory")
	cmd.AddCommand(upCmd)
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()
	cache := refcache.NewRedisCache(redisClient)

	store := immunization.NewStorePG(pool)
	svc := immunization.NewService(store, cache)
	handler := immunization.NewHandler(svc)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = fhirErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "5M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	e.Use(db.ConnMiddleware(pool))

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/_ping", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/_status", db.HealthHandler(pool))

	fhirGroup := e.Group("/fhir")
	handler.RegisterRoutes(fhirGroup)

	addr := ":" + cfg.Port
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("CRUD API server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down")
	return e.Shutdown(shutdownCtx)
}
