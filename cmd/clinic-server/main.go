package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/config"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/domain/scheduling"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/auth"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/db"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/jobs"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/middleware"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/notification"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/validation"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Dental clinic appointment scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())
	rootCmd.AddCommand(availabilityCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
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
		Short: "Apply pending migrations to a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}

			schema := db.SchemaFor(clinic)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := newMigrator(pool, dir).Up(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}

			schema := db.SchemaFor(clinic)
			statuses, err := newMigrator(pool, dir).Status(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating clinic schema: %s\n", db.SchemaFor(name))
			if err := db.CreateClinicSchema(cmd.Context(), pool, name, newMigrator(pool, "")); err != nil {
				return err
			}
			fmt.Println("Clinic created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (alphanumeric)")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List clinics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			clinics, err := db.ListClinics(cmd.Context(), pool)
			if err != nil {
				return err
			}
			for _, c := range clinics {
				fmt.Println(c)
			}
			return nil
		},
	}
	cmd.AddCommand(listCmd)

	return cmd
}

func availabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print a dentist's free slots for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			rawDentist, _ := cmd.Flags().GetString("dentist")
			rawDate, _ := cmd.Flags().GetString("date")
			rawService, _ := cmd.Flags().GetString("service")

			dentistID, err := uuid.Parse(rawDentist)
			if err != nil {
				return fmt.Errorf("--dentist must be a UUID: %w", err)
			}
			date, err := scheduling.ParseDate(rawDate)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			var serviceID uuid.UUID
			if rawService != "" {
				if serviceID, err = uuid.Parse(rawService); err != nil {
					return fmt.Errorf("--service must be a UUID: %w", err)
				}
			}

			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			ctx, release, err := db.WithClinic(cmd.Context(), pool, clinic)
			if err != nil {
				return err
			}
			defer release()

			svc := newSchedulingService(pool, cfg, loc)
			av, err := svc.QueryAvailability(ctx, dentistID, date, serviceID)
			if err != nil {
				return err
			}
			printAvailability(cmd, av, loc)
			return nil
		},
	}
	cmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	cmd.Flags().String("dentist", "", "Dentist id")
	cmd.Flags().String("date", "", "Civil date, YYYY-MM-DD")
	cmd.Flags().String("service", "", "Service id; its duration becomes the slot width")
	_ = cmd.MarkFlagRequired("dentist")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func printAvailability(cmd *cobra.Command, av *scheduling.Availability, loc *time.Location) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Dentist %s on %s (%d min slots, %s)\n", av.DentistID, av.Date, av.SlotMinutes, loc)
	if av.Reason != scheduling.ReasonNone {
		fmt.Fprintf(out, "No slots: %s\n", av.Reason)
		return
	}
	if len(av.Slots) == 0 {
		fmt.Fprintln(out, "No free slots.")
		return
	}
	for _, s := range av.Slots {
		iv := s.Interval().In(loc)
		fmt.Fprintf(out, "  %s - %s\n", iv.Start.Format("15:04"), iv.End.Format("15:04"))
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return err
	}

	// Logger
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: requests without a token are treated as admin")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid clinic timezone")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Notifications
	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to message broker")
	}
	defer closePublisher()
	notifyMgr := notification.NewNotificationManager(publisher, notification.NewTemplateEngine(), 1000)
	dispatcher := notification.NewDispatcher(notifyMgr, logger, 256)
	dispatcher.Start()
	notifier := newEventNotifier(dispatcher, loc, logger)

	// Scheduling
	svc := newSchedulingService(pool, cfg, loc, scheduling.WithNotifier(notifier))

	// Background jobs
	runner := jobs.NewRunner(logger, jobs.WithLocker(db.NewAdvisoryLocker(pool)))
	span, err := jobs.TickSpan(cfg.ReminderCron)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REMINDER_CRON")
	}
	reminders := scheduling.NewReminderJob(scheduling.NewAppointmentRepoPG(pool), notifier, cfg.ReminderLookahead, span, time.Now)
	if err := runner.Add("appointment-reminders", cfg.ReminderCron, forEachClinic(pool, logger, reminders.Run)); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule reminders")
	}
	if err := runner.Add("notification-retry", "@every 10m", func(ctx context.Context) error {
		if n := dispatcher.RetryFailed(ctx); n > 0 {
			logger.Info().Int("count", n).Msg("failed notifications re-sent")
		}
		return nil
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule notification retries")
	}
	runner.Start()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"},
	}))

	// Health checks run before auth and clinic resolution.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// API group
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTSecret == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}
	apiV1.Use(db.ClinicMiddleware(pool, cfg.DefaultClinic))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}, logger))

	scheduling.NewHandler(svc).RegisterRoutes(apiV1)

	notifyGroup := apiV1.Group("", auth.RequireRole(auth.RoleAdmin))
	notification.NewNotificationHandler(notifyMgr).RegisterRoutes(notifyGroup)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	runner.Stop()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notification queue not drained")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// connect loads config and opens a pool for one-shot CLI commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newMigrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir != "" {
		return db.NewMigrator(pool, os.DirFS(dir))
	}
	return db.NewMigrator(pool, db.EmbeddedMigrations())
}

func newSchedulingService(pool *pgxpool.Pool, cfg *config.Config, loc *time.Location, opts ...scheduling.Option) *scheduling.Service {
	opts = append([]scheduling.Option{
		scheduling.WithClock(time.Now),
		scheduling.WithSlotMinutes(cfg.SlotWidthMinutes),
		scheduling.WithTransactor(db.NewTxManager(pool)),
	}, opts...)
	return scheduling.NewService(
		scheduling.NewDentistRepoPG(pool),
		scheduling.NewServiceRepoPG(pool),
		scheduling.NewClientRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		loc,
		opts...,
	)
}

// newPublisher publishes to RabbitMQ when AMQP_URL is set and to the log
// otherwise.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (notification.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		logger.Info().Msg("AMQP_URL not set, notifications are written to the log")
		return notification.NewLogPublisher(logger), func() {}, nil
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := notification.NewAMQPPublisher(conn, cfg.NotificationQueue)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger.Info().Str("queue", cfg.NotificationQueue).Msg("publishing notifications to RabbitMQ")
	return pub, func() {
		pub.Close()
		conn.Close()
	}, nil
}

// forEachClinic runs fn once per clinic schema. A failing clinic is logged
// and does not stop the sweep.
func forEachClinic(pool *pgxpool.Pool, logger zerolog.Logger, fn func(ctx context.Context) (int, error)) jobs.Func {
	return func(ctx context.Context) error {
		clinics, err := db.ListClinics(ctx, pool)
		if err != nil {
			return err
		}
		failed := 0
		for _, clinic := range clinics {
			cctx, release, err := db.WithClinic(ctx, pool, clinic)
			if err != nil {
				logger.Error().Err(err).Str("clinic_id", clinic).Msg("clinic unavailable")
				failed++
				continue
			}
			n, err := fn(cctx)
			release()
			if err != nil {
				logger.Error().Err(err).Str("clinic_id", clinic).Msg("clinic sweep failed")
				failed++
				continue
			}
			if n > 0 {
				logger.Info().Str("clinic_id", clinic).Int("count", n).Msg("clinic sweep done")
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d clinics failed", failed, len(clinics))
		}
		return nil
	}
}
