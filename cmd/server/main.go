package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/plcsweep/internal/api"
	"github.com/RMahshie/plcsweep/internal/config"
	"github.com/RMahshie/plcsweep/internal/events"
	"github.com/RMahshie/plcsweep/internal/instrument"
	"github.com/RMahshie/plcsweep/internal/plc"
	"github.com/RMahshie/plcsweep/internal/processing"
	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/internal/repository/memory"
	"github.com/RMahshie/plcsweep/internal/repository/postgres"
	"github.com/RMahshie/plcsweep/internal/storage"
	"github.com/RMahshie/plcsweep/internal/sweep"
	"github.com/RMahshie/plcsweep/pkg/models"
)

func main() {
	// Configure zerolog for structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	level, err := zerolog.ParseLevel(config.GetStringOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	repo, db := openRepository(ctx, cfg)
	if db != nil {
		defer db.Close()
	}

	archive := openArchive(ctx, cfg)

	bench, err := instrument.OpenBench(instrument.BenchConfig{
		Mode:           cfg.Bench.Mode,
		Transport:      cfg.Bench.Transport,
		Port:           cfg.Bench.Port,
		LaserGPIB:      cfg.Bench.LaserGPIB,
		MeterGPIB:      cfg.Bench.MeterGPIB,
		LaserAddress:   cfg.Bench.LaserAddress,
		MeterAddresses: cfg.Bench.MeterAddresses,
		Timeout:        cfg.Bench.IOTimeout,
		ITU:            cfg.Bench.ITU,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open instruments")
	}

	dataset, err := plc.New(cfg.Bench.MaxChannel, cfg.Bench.ITU)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create dataset")
	}

	hub := events.NewHub(100)
	sweepCfg := sweep.DefaultConfig()
	sweepCfg.Start = cfg.Sweep.Start
	sweepCfg.Step = cfg.Sweep.Step
	sweepCfg.End = cfg.Sweep.End
	sweepCfg.Power = cfg.Sweep.OpticalPower
	sweepCfg.SettleDelay = cfg.Sweep.SettleDelay
	sweepCfg.DiscardReads = cfg.Sweep.DiscardReads
	sweepCfg.DiscardInterval = cfg.Sweep.DiscardInterval

	meters := make([]sweep.SourceMeter, len(bench.Meters))
	for i, m := range bench.Meters {
		meters[i] = m
	}
	coordinator, err := sweep.NewCoordinator(sweepCfg, bench.Laser, meters, dataset,
		events.MultiReporter{hub, events.LogReporter{}})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sweep coordinator")
	}

	opts := []processing.Option{processing.WithFixture(bench.Insert)}
	if archive != nil {
		opts = append(opts, processing.WithArchive(archive))
	}
	service := processing.NewMeasurementService(coordinator, repo, hub, opts...)

	router := newRouter(cfg.Server.AllowedOrigins, repo, archive, service, hub)
	srv := newServer(":"+cfg.Server.Port, router)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("bench", cfg.Bench.Mode).Msg("Starting PLC sweep server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	if err := shutdown(srv, service, bench, 30*time.Second); err != nil {
		log.Error().Err(err).Msg("Unclean shutdown")
	}
	log.Info().Msg("Server exited")
}

// newRouter builds the chi router with the middleware chain, the health check
// and every API route
func newRouter(allowedOrigins []string, repo repository.RunRepository, archive storage.ArchiveStore, service processing.MeasurementService, hub *events.Hub) http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(zerologLogger())
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	humaConfig := huma.DefaultConfig("PLC Sweep API", "1.0.0")
	humaConfig.DocsPath = "/api/docs"
	humaAPI := humachi.New(router, humaConfig)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service",
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		resp := &models.HealthResponse{}
		resp.Body.Status = "healthy"
		resp.Body.Version = "1.0.0"
		resp.Body.Time = time.Now()
		return resp, nil
	})

	api.RegisterRoutes(humaAPI, repo, archive, service, hub)
	return router
}

// newServer returns a server whose request contexts are canceled when
// Shutdown starts, so open event streams end instead of holding it up.
func newServer(addr string, handler http.Handler) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// shutdown stops the sweep first so its cleanup still has the instruments,
// drains HTTP, and closes the bench only once no sweep is running. Each stage
// gets its own timeout.
func shutdown(srv *http.Server, service processing.MeasurementService, bench io.Closer, timeout time.Duration) error {
	sweepCtx, cancelSweep := context.WithTimeout(context.Background(), timeout)
	defer cancelSweep()
	sweepErr := service.Shutdown(sweepCtx)
	if sweepErr != nil {
		log.Error().Err(sweepErr).Msg("Sweep did not stop in time, leaving instruments open")
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), timeout)
	defer cancelHTTP()
	httpErr := srv.Shutdown(httpCtx)
	if httpErr != nil {
		log.Error().Err(httpErr).Msg("Server forced to shutdown")
	}

	if sweepErr != nil {
		return errors.Join(sweepErr, httpErr)
	}
	closeErr := bench.Close()
	if closeErr != nil {
		log.Error().Err(closeErr).Msg("Failed to close instruments")
	}
	return errors.Join(httpErr, closeErr)
}

// openRepository connects to PostgreSQL when DATABASE_URL is set and falls
// back to memory otherwise
func openRepository(ctx context.Context, cfg *config.Config) (repository.RunRepository, *sql.DB) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("DATABASE_URL not set, sweep runs are kept in memory")
		return memory.NewRunRepository(), nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}
	log.Info().Msg("Connected to PostgreSQL")
	return postgres.NewPostgresRunRepository(db), db
}

// openArchive returns the configured archive store, or nil when archiving is off
func openArchive(ctx context.Context, cfg *config.Config) storage.ArchiveStore {
	var (
		store storage.ArchiveStore
		err   error
	)
	switch cfg.Archive.Backend {
	case "s3":
		store, err = storage.NewS3Store(storage.S3Config{
			Bucket:    cfg.AWS.S3Bucket,
			Endpoint:  cfg.AWS.S3Endpoint,
			Region:    cfg.AWS.Region,
			AccessKey: cfg.AWS.AccessKeyID,
			SecretKey: cfg.AWS.SecretAccessKey,
		})
	case "minio":
		store, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.AWS.S3Endpoint,
			Bucket:    cfg.AWS.S3Bucket,
			AccessKey: cfg.AWS.AccessKeyID,
			SecretKey: cfg.AWS.SecretAccessKey,
			Region:    cfg.AWS.Region,
		})
	default:
		log.Info().Msg("Archiving disabled")
		return nil
	}
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Archive.Backend).Msg("Failed to create archive store")
	}
	log.Info().Str("backend", cfg.Archive.Backend).Str("bucket", cfg.AWS.S3Bucket).Msg("Archiving enabled")
	return store
}

// zerologLogger returns a Chi middleware that logs HTTP requests using zerolog
func zerologLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_ip", r.RemoteAddr).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Msg("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
