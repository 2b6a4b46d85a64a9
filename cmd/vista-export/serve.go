package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/synthetichealth/vistaexport/internal/config"
	"github.com/synthetichealth/vistaexport/internal/domain/cohort"
	"github.com/synthetichealth/vistaexport/internal/platform/auth"
	"github.com/synthetichealth/vistaexport/internal/platform/blobstore"
	"github.com/synthetichealth/vistaexport/internal/platform/db"
	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
	"github.com/synthetichealth/vistaexport/internal/platform/middleware"
	"github.com/synthetichealth/vistaexport/internal/platform/telemetry"
	"github.com/synthetichealth/vistaexport/internal/platform/vista"
)

type server struct {
	echo    *echo.Echo
	pool    *pgxpool.Pool
	metrics *telemetry.Metrics
}

func (s *server) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// newServer wires the HTTP surface. The source database and the S3 bucket
// are optional; without S3 archives are kept in memory in development.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	srv := &server{metrics: telemetry.NewMetrics(telemetry.Config{
		ServiceName:    "vista-export",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	srv.echo = e

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(srv.metrics.MetricsMiddleware())

	// Auth middleware
	switch {
	case cfg.AuthSigningKey != "":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	case cfg.IsDev():
		logger.Warn().Msg("no AUTH_SIGNING_KEY, every request is treated as admin")
		e.Use(auth.DevAuthMiddleware())
	default:
		return nil, errors.New("AUTH_SIGNING_KEY is required outside development")
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", srv.metrics.PrometheusHandler())

	var loader vista.Loader
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, err
		}
		srv.pool = pool
		svc := cohort.NewService(cohort.NewRepo(pool))
		loader = func(ctx context.Context, limit int) ([]*cohort.Patient, error) {
			var patients []*cohort.Patient
			err := db.Snapshot(ctx, pool, func(ctx context.Context) error {
				var err error
				patients, err = svc.Load(ctx, limit)
				return err
			})
			return patients, err
		}
		e.GET("/health/db", db.HealthHandler(pool))
		logger.Info().Str("schema", cfg.DBSchema).Msg("source database configured")
	} else {
		e.GET("/health/db", db.HealthHandler(nil))
	}

	var archiver *blobstore.Archiver
	switch {
	case cfg.S3Bucket != "":
		store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			srv.Close()
			return nil, err
		}
		archiver = blobstore.NewArchiver(store, cfg.S3Prefix)
	case cfg.IsDev():
		archiver = blobstore.NewArchiver(blobstore.NewMemoryStore(), cfg.S3Prefix)
	}

	apiV1 := e.Group("/api/v1")
	vista.NewHandler(vista.HandlerConfig{
		Mode:      mode,
		IENOffset: fileman.IEN(cfg.IENOffset),
		Archiver:  archiver,
		Loader:    loader,
		Metrics:   srv.metrics,
		Logger:    logger,
	}).RegisterRoutes(apiV1)
	if archiver != nil {
		archives := apiV1.Group("", auth.RequireRole(auth.RoleExporter, auth.RoleViewer))
		blobstore.NewArchiveHandler(archiver).RegisterRoutes(archives)
	}
	return srv, nil
}
