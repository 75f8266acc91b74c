package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/whiskr/whiskr/internal/config"
	"github.com/whiskr/whiskr/internal/domain/assistant"
	"github.com/whiskr/whiskr/internal/domain/billing"
	"github.com/whiskr/whiskr/internal/domain/clinic"
	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/domain/documents"
	"github.com/whiskr/whiskr/internal/domain/identity"
	"github.com/whiskr/whiskr/internal/domain/message"
	"github.com/whiskr/whiskr/internal/domain/notify"
	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/domain/recording"
	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/blobstore"
	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/internal/platform/middleware"
	"github.com/whiskr/whiskr/internal/platform/realtime"
	"github.com/whiskr/whiskr/internal/platform/reporting"
	"github.com/whiskr/whiskr/internal/platform/sandbox"
	"github.com/whiskr/whiskr/internal/platform/telemetry"
	"github.com/whiskr/whiskr/internal/platform/transcribe"
	"github.com/whiskr/whiskr/internal/platform/webhook"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "whiskr-server",
		Short: "Whiskr veterinary clinic API server",
	}

	rootCmd.AddCommand(serveCmd(), migrateCmd(), clinicCmd(), seedCmd())

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
		Short: "Manage database migrations",
	}

	var dir string

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to the shared schema and every clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()
			return migrateUp(ctx, pool, dir)
		},
	}
	upCmd.Flags().StringVar(&dir, "dir", "./migrations", "migrations directory")

	var statusSchema string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status for a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			sub := "clinic"
			if statusSchema == "shared" {
				sub = "shared"
			}
			migrator := db.NewMigrator(pool, filepath.Join(dir, sub))
			statuses, err := migrator.Status(ctx, statusSchema)
			if err != nil {
				return err
			}
			fmt.Printf("%-8s %-40s %s\n", "VERSION", "NAME", "APPLIED")
			for _, s := range statuses {
				applied := "pending"
				if s.Applied {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-8d %-40s %s\n", s.Version, s.Name, applied)
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&dir, "dir", "./migrations", "migrations directory")
	statusCmd.Flags().StringVar(&statusSchema, "schema", "shared", "target schema")

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

// migrateUp brings the shared schema up to date, then every clinic schema
// registered in shared.clinics.
func migrateUp(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS shared"); err != nil {
		return fmt.Errorf("create shared schema: %w", err)
	}

	shared := db.NewMigrator(pool, filepath.Join(dir, "shared"))
	n, err := shared.Up(ctx, "shared")
	if err != nil {
		return fmt.Errorf("shared: %w", err)
	}
	fmt.Printf("shared: applied %d migration(s)\n", n)

	schemas, err := clinicSchemas(ctx, pool)
	if err != nil {
		return err
	}
	clinicMig := db.NewMigrator(pool, filepath.Join(dir, "clinic"))
	for _, schema := range schemas {
		n, err := clinicMig.Up(ctx, schema)
		if err != nil {
			return fmt.Errorf("%s: %w", schema, err)
		}
		fmt.Printf("%s: applied %d migration(s)\n", schema, n)
	}
	return nil
}

func clinicSchemas(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT schema_name FROM shared.clinics ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list clinic schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	var name, slug, dir string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic and provision its schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			svc := clinic.NewService(clinic.NewRepo(pool), cfg.TrialPeriod, cfg.DefaultDeviceLimit)
			svc.SetProvisioner(func(ctx context.Context, schema string) error {
				return db.CreateClinicSchema(ctx, pool, schema, filepath.Join(dir, "clinic"))
			})

			cl := &clinic.Clinic{Name: name, Slug: slug}
			if err := svc.CreateClinic(ctx, cl); err != nil {
				return err
			}
			fmt.Printf("created clinic %s (%s), schema %s\n", cl.Name, cl.ID, cl.SchemaName)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "clinic name")
	createCmd.Flags().StringVar(&slug, "slug", "", "URL slug (derived from name when empty)")
	createCmd.Flags().StringVar(&dir, "dir", "./migrations", "migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	var (
		clinicName string
		password   string
		patients   int
		consults   int
		messages   int
		seed       int64
		dir        string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo clinic filled with generated records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			if err := migrateUp(ctx, pool, dir); err != nil {
				return err
			}

			logger := newLogger(cfg.Env)
			issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)

			clinicSvc := clinic.NewService(clinic.NewRepo(pool), cfg.TrialPeriod, cfg.DefaultDeviceLimit)
			clinicSvc.SetProvisioner(func(ctx context.Context, schema string) error {
				return db.CreateClinicSchema(ctx, pool, schema, filepath.Join(dir, "clinic"))
			})
			identitySvc := identity.NewService(identity.NewRepo(pool), clinicSvc, issuer, cfg.RefreshTokenTTL)
			patientSvc := patient.NewService(patient.NewRepo(pool))
			consultSvc := consult.NewService(consult.NewRepo(pool), patientSvc, blobstore.NewMemory(), disabledAI{})
			billingSvc := billing.NewService(billing.NewRepoPG(pool), patientSvc, billing.ManualProvider{})
			messageSvc := message.NewService(message.NewRepo(pool))

			seeder := sandbox.NewSeeder(sandbox.SeedConfig{
				ClinicName:            clinicName,
				Password:              password,
				Patients:              patients,
				MaxConsultsPerPatient: consults,
				Messages:              messages,
				Seed:                  seed,
			}, sandbox.Services{
				Accounts: identitySvc,
				Clinics:  clinicSvc,
				Patients: patientSvc,
				Consults: consultSvc,
				Invoices: billingSvc,
				Messages: messageSvc,
			}, sandbox.PoolScope(pool), logger)

			res, err := seeder.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("seeded clinic %q (%s)\n", res.ClinicName, res.ClinicID)
			for _, u := range res.Users {
				fmt.Printf("  %-12s %s / %s\n", u.Role, u.Email, u.Password)
			}
			fmt.Printf("  %d patients, %d consults (%d finalized, %d transcripts), %d invoices (%d paid), %d messages in %s\n",
				res.Patients, res.Consults, res.Finalized, res.Transcripts,
				res.Invoices, res.Payments, res.Messages, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	def := sandbox.DefaultSeedConfig()
	cmd.Flags().StringVar(&clinicName, "clinic", def.ClinicName, "demo clinic name")
	cmd.Flags().StringVar(&password, "password", def.Password, "password for the demo accounts")
	cmd.Flags().IntVar(&patients, "patients", def.Patients, "number of patients")
	cmd.Flags().IntVar(&consults, "consults", def.MaxConsultsPerPatient, "max consults per patient")
	cmd.Flags().IntVar(&messages, "messages", def.Messages, "messages posted to the team pool")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed, 0 uses the clock")
	cmd.Flags().StringVar(&dir, "dir", "./migrations", "migrations directory")
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// newBlobStore picks the blob backend from config. S3 settings are validated
// at startup so a misconfigured bucket fails fast instead of on first upload.
func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		client, err := blobstore.NewS3Client(ctx, blobstore.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3(client, cfg.S3Bucket, ""), nil
	default:
		return blobstore.NewMemory(), nil
	}
}

// samplePoolStats copies connection pool stats into the metrics gauges until
// done closes.
func samplePoolStats(pool *pgxpool.Pool, rec *telemetry.HealthMetricsRecorder, interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			st := pool.Stat()
			rec.SetDBPoolActive(int64(st.AcquiredConns()))
			rec.SetDBPoolIdle(int64(st.IdleConns()))
		}
	}
}

// disabledAI stands in for the Gemini client when no API key is configured.
// Every call reports the generator unavailable, so AI endpoints return 502
// while the rest of the API stays usable.
type disabledAI struct{}

func (disabledAI) Generate(ctx context.Context, req ai.Request) (*ai.Result, error) {
	return nil, fmt.Errorf("%w: GEMINI_API_KEY is not configured", ai.ErrUnavailable)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var gen ai.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModels, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init gemini client")
		}
		gen = gemini
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set, AI endpoints will report unavailable")
		gen = disabledAI{}
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init blob storage")
	}
	if cfg.StorageBackend != "s3" {
		logger.Warn().Msg("using in-memory blob storage, blobs will not survive restarts")
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	resolver := db.NewSchemaResolver(pool)
	hub := realtime.NewHub(logger)

	// Change events fan out to WebSocket subscribers and registered webhooks.
	hooks := webhook.NewDispatcher(webhook.NewMemoryStore(), logger)
	defer hooks.Close()
	events := realtime.Fanout(hub, hooks)

	tele := telemetry.NewProvider("whiskr", version, cfg.Env)
	statsDone := make(chan struct{})
	go samplePoolStats(pool, tele.HealthMetrics(), 15*time.Second, statsDone)
	defer close(statsDone)

	clinicSvc := clinic.NewService(clinic.NewRepo(pool), cfg.TrialPeriod, cfg.DefaultDeviceLimit)
	clinicSvc.SetProvisioner(func(ctx context.Context, schema string) error {
		return db.CreateClinicSchema(ctx, pool, schema, "./migrations/clinic")
	})
	clinicSvc.OnDeleted(resolver.Invalidate)

	identitySvc := identity.NewService(identity.NewRepo(pool), clinicSvc, issuer, cfg.RefreshTokenTTL)
	patientSvc := patient.NewService(patient.NewRepo(pool))

	notifySvc := notify.NewService(notify.NewRepoPG(pool))
	notifySvc.SetPublisher(events)

	consultSvc := consult.NewService(consult.NewRepo(pool), patientSvc, blobs, gen)
	consultSvc.SetPublisher(events)
	consultSvc.SetNotifier(notifySvc)

	store := recording.NewStore(cfg.RecordingSessionTTL)
	defer store.Shutdown()
	recordingSvc := recording.NewService(store, consultSvc, blobs, transcribe.NewGemini(gen))
	recordingSvc.SetMinBytes(int64(cfg.MinRecordingBytes))

	assistantSvc := assistant.NewService(assistant.NewRepo(pool), consultSvc, patientSvc, gen)

	messageSvc := message.NewService(message.NewRepo(pool))
	messageSvc.SetPublisher(events)
	messageSvc.SetNotifier(notifySvc)

	billingSvc := billing.NewService(billing.NewRepoPG(pool), patientSvc, billing.ManualProvider{})
	billingSvc.SetPublisher(events)

	documentsSvc := documents.NewService(documents.NewRepoPG(pool), patientSvc, blobs, gen)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Metrics sit outside Recovery so a panic turned into a 500 still
	// closes out the active-request gauge.
	e.Use(tele.MetricsMiddleware())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, "X-Request-ID", "X-Clinic-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tele.PrometheusHandler())

	rateCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateCfg.RequestsPerSecond <= 0 {
		rateCfg = middleware.DefaultRateLimitConfig()
	}

	opCounter := middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		tele.RecordOperation(entry.Resource, entry.Action)
		return nil
	})

	api := e.Group("/api", middleware.RateLimit(rateCfg), auth.Middleware(issuer))
	clinicAPI := api.Group("", db.ClinicMiddleware(pool, resolver), middleware.Audit(logger, opCounter))
	gate := clinic.RequireActiveSubscription(clinicSvc)

	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterRoutes(api)
	identityHandler.RegisterClinicRoutes(clinicAPI)

	clinicHandler := clinic.NewHandler(clinicSvc)
	clinicHandler.SetUserLookup(identitySvc.LookupUserByEmail)
	clinicHandler.RegisterRoutes(api, clinicAPI)

	patient.NewHandler(patientSvc).RegisterRoutes(clinicAPI)
	consult.NewHandler(consultSvc).RegisterRoutes(clinicAPI, gate)
	recording.NewHandler(recordingSvc).RegisterRoutes(clinicAPI)
	assistant.NewHandler(assistantSvc).RegisterRoutes(clinicAPI, gate)
	message.NewHandler(messageSvc).RegisterRoutes(clinicAPI)
	billing.NewHandler(billingSvc).RegisterRoutes(clinicAPI)
	documents.NewHandler(documentsSvc).RegisterRoutes(clinicAPI, gate)
	notify.NewHandler(notifySvc).RegisterRoutes(clinicAPI)
	webhook.NewHandler(hooks).RegisterRoutes(clinicAPI)
	reporting.NewHandler(pool).RegisterRoutes(clinicAPI)

	realtime.NewHandler(hub, issuer).RegisterRoutes(e)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
