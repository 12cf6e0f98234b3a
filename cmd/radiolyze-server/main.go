package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radiolyze/radiolyze/internal/config"
	"github.com/radiolyze/radiolyze/internal/domain/appointment"
	"github.com/radiolyze/radiolyze/internal/domain/notification"
	"github.com/radiolyze/radiolyze/internal/domain/patient"
	"github.com/radiolyze/radiolyze/internal/domain/prescription"
	"github.com/radiolyze/radiolyze/internal/domain/xraycase"
	"github.com/radiolyze/radiolyze/internal/platform/auth"
	"github.com/radiolyze/radiolyze/internal/platform/blobstore"
	"github.com/radiolyze/radiolyze/internal/platform/classifier"
	"github.com/radiolyze/radiolyze/internal/platform/db"
	"github.com/radiolyze/radiolyze/internal/platform/middleware"
	"github.com/radiolyze/radiolyze/internal/platform/reportgen"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "radiolyze-server",
		Short: "X-ray case lifecycle API server",
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
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Repositories.
	patientRepo := patient.NewRepoPG(pool)
	caseRepo := xraycase.NewRepoPG(pool)
	appointmentRepo := appointment.NewRepoPG(pool)
	notificationRepo := notification.NewRepoPG(pool)
	prescriptionRepo := prescription.NewRepoPG(pool)

	// Platform collaborators.
	blobs := blobstore.NewMemoryStore(cfg.BlobBaseURL)
	classifierClient := classifier.New(classifier.Config{
		BaseURL: cfg.ClassifierURL,
		Timeout: cfg.ClassifierTimeout(),
	})
	reportClient := reportgen.New(reportgen.Config{
		BaseURL: cfg.ReportServiceURL,
		Timeout: cfg.ReportTimeout(),
	})

	// Services.
	fanout := notification.NewFanout(notificationRepo, log)
	reconciler := patient.NewReconciler(patientRepo, log)
	patientSvc := patient.NewService(patientRepo)
	notificationSvc := notification.NewService(notificationRepo)
	prescriptionSvc := prescription.NewService(prescriptionRepo)
	appointmentSvc := appointment.NewService(appointmentRepo, patientRepo, reconciler, fanout, log)
	caseSvc := xraycase.NewService(xraycase.ServiceDeps{
		Cases:         caseRepo,
		Patients:      patientRepo,
		Reconciler:    reconciler,
		Blobs:         blobs,
		Classifier:    classifierClient,
		Reports:       reportClient,
		Prescriptions: prescriptionSvc,
		Appointments:  appointmentSvc,
		Thresholds: xraycase.Thresholds{
			PrimaryConfidence: cfg.PrimaryConfidenceThreshold,
			SecondaryFinding:  cfg.SecondaryFindingThreshold,
		},
		Fanout: fanout,
		Log:    log,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(log))
	e.Use(middleware.Recovery(log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/health", func(c echo.Context) error {
		if err := db.Healthy(c.Request().Context(), pool); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	blobstore.NewHandler(blobs).RegisterRoutes(e)

	api := e.Group("/api", auth.Middleware([]byte(cfg.AuthSecret)))
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	xraycase.NewHandler(caseSvc).RegisterRoutes(api)
	appointment.NewHandler(appointmentSvc).RegisterRoutes(api)
	notification.NewHandler(notificationSvc).RegisterRoutes(api)
	prescription.NewHandler(prescriptionSvc).RegisterRoutes(api)

	// Graceful shutdown on SIGINT/SIGTERM.
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(":" + cfg.Port)
	}()
	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
