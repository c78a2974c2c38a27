package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/api/handlers"
	"github.com/dvloznov/finance-companion/internal/api/middleware"
	"github.com/dvloznov/finance-companion/internal/cache"
	"github.com/dvloznov/finance-companion/internal/config"
	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/gcs"
	infraBQ "github.com/dvloznov/finance-companion/internal/infra/bigquery"
	"github.com/dvloznov/finance-companion/internal/insights"
	"github.com/dvloznov/finance-companion/internal/jobs"
	"github.com/dvloznov/finance-companion/internal/jobs/inmemory"
	"github.com/dvloznov/finance-companion/internal/logger"
	"github.com/dvloznov/finance-companion/internal/notifications"
	"github.com/dvloznov/finance-companion/internal/notify"
	"github.com/dvloznov/finance-companion/internal/notify/email"
	"github.com/dvloznov/finance-companion/internal/notify/local"
	"github.com/dvloznov/finance-companion/internal/repository"
	"github.com/dvloznov/finance-companion/internal/scheduler"
)

func main() {
	// Parse command-line flags
	var (
		port    = flag.String("port", "", "HTTP server port (overrides PORT)")
		envFile = flag.String("env", config.DefaultEnvFile, "Optional .env file")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}

	log := logger.NewWithLevel(cfg.LogLevel)
	if cfg.DocstoreProjectID == "" {
		log.Warn().Msg("No DOCSTORE_PROJECT_ID configured - every query will fail with a configuration error")
	}

	ctx := context.Background()
	policy, _ := cfg.Policy()
	prefs, _ := cfg.Preferences()

	// Query client: document store behind the local cache
	store := docstore.NewClient(docstore.Config{
		BaseURL:   cfg.DocstoreBaseURL,
		ProjectID: cfg.DocstoreProjectID,
		Database:  cfg.DocstoreDatabase,
		APIKey:    cfg.DocstoreAPIKey,
	}, docstore.WithLogger(logger.Component(log, "docstore")))

	localCache := cache.New()

	var snapshots *gcs.SnapshotStore
	if cfg.SnapshotEnabled() {
		snapshots, err = gcs.NewSnapshotStore(ctx, cfg.GCSBucket, cfg.SnapshotObject, cfg.GoogleOptions()...)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create snapshot store")
		}
		defer snapshots.Close()

		n, err := localCache.Restore(ctx, snapshots)
		if err != nil {
			log.Warn().Err(err).Str("uri", snapshots.URI()).Msg("Failed to restore cache snapshot")
		} else {
			log.Info().Int("entries", n).Str("uri", snapshots.URI()).Msg("Cache restored")
		}
	}

	repo := repository.New(store, localCache,
		repository.WithLogger(logger.Component(log, "repository")),
		repository.WithMaxAge(cfg.CacheMaxAge),
		repository.WithBackoff(cfg.RateLimitBackoff),
	)

	// Delivery jobs: every fired reminder is logged and, when SMTP is
	// configured, mailed.
	jobStore := inmemory.NewStore(inmemory.WithMaxJobs(cfg.DeliveryHistory))
	jobQueue := inmemory.NewQueue(100, jobStore)

	deliverers := []func(ctx context.Context, job *jobs.DeliveryJob) error{logDelivery(log)}
	if cfg.Email().Enabled() {
		deliverers = append(deliverers, email.NewSender(cfg.Email(), logger.Component(log, "email")).Deliver)
	} else {
		log.Info().Msg("SMTP not configured - reminders are delivered to the log only")
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.FanOut(deliverers...)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start delivery workers")
	}

	notifier := local.New(
		local.WithLogger(logger.Component(log, "notifier")),
		local.WithSink(func(ctx context.Context, d notify.Delivered) error {
			return jobQueue.PublishDelivery(ctx, jobs.NewDeliveryJob(d))
		}),
	)
	notifier.Start()

	// Notification pipeline
	analyzer := notifications.NewAnalyzer(prefs)
	feed := notifications.NewFeed(notifier)
	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger.Component(log, "scheduler")),
		scheduler.WithFeed(feed),
		scheduler.WithPolicy(policy),
	}

	var history handlers.NotificationHistory
	if cfg.AuditEnabled() {
		auditLog, err := infraBQ.NewNotificationLog(ctx, cfg.BQProjectID, cfg.BQDataset, cfg.GoogleOptions()...)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create notification log")
		}
		defer auditLog.Close()
		schedOpts = append(schedOpts, scheduler.WithAudit(auditLog))
		history = auditLog
	}

	if cfg.SummariesEnabled() {
		model, err := insights.NewGeminiModel(ctx, cfg.GeminiModel)
		if err != nil {
			log.Warn().Err(err).Msg("Monthly summaries disabled")
		} else {
			schedOpts = append(schedOpts, scheduler.WithSummarizer(insights.NewSummarizer(repo, model,
				insights.WithCurrency(prefs.Currency),
				insights.WithLogger(logger.Component(log, "insights")),
			)))
		}
	}

	sched := scheduler.New(repo, analyzer, notifier, schedOpts...)
	if err := sched.Start(workerCtx, cfg.Identity(), policy); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Initialize handlers
	router := newRouter(
		handlers.NewDataHandler(repo, cfg.Identity(), log),
		handlers.NewNotificationsHandler(feed, sched, history, cfg.Identity(), log),
		handlers.NewDeliveriesHandler(jobStore, log),
	)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(cfg.APIKey)(router),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("periodicity", string(policy.Periodicity)).
			Str("intensity", string(policy.Intensity)).
			Msg("Starting reminder daemon")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping scheduler")
	}

	if err := notifier.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping notifier")
	}

	// Stop job queue and wait for in-flight deliveries
	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	if snapshots != nil {
		n, err := localCache.Snapshot(shutdownCtx, snapshots)
		if err != nil {
			log.Error().Err(err).Msg("Failed to write cache snapshot")
		} else {
			log.Info().Int("entries", n).Str("uri", snapshots.URI()).Msg("Cache snapshot written")
		}
	}

	log.Info().Msg("Daemon exited")
}

// logDelivery records every fired reminder in the log.
func logDelivery(log zerolog.Logger) func(ctx context.Context, job *jobs.DeliveryJob) error {
	return func(ctx context.Context, job *jobs.DeliveryJob) error {
		log.Info().
			Str("job_id", job.JobID).
			Str("request_id", job.RequestID).
			Str("title", job.Title).
			Str("body", job.Body).
			Time("fired_at", job.FiredAt).
			Msg("Reminder delivered")
		return nil
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func newRouter(data *handlers.DataHandler, notes *handlers.NotificationsHandler, deliveries *handlers.DeliveriesHandler) *http.ServeMux {
	mux := http.NewServeMux()

	// Data endpoints
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			data.ListTransactions(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/goals", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			data.ListGoals(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			data.ListCategories(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	// Notification endpoints
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			notes.ListNotifications(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/notifications/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			notes.ClearNotifications(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/notifications/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			notes.CheckNow(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/notifications/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			notes.History(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/schedule", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			notes.GetSchedule(w, r)
		case http.MethodPut:
			notes.UpdateSchedule(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	// Delivery job endpoints
	mux.HandleFunc("/api/deliveries", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			deliveries.ListDeliveries(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/deliveries/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/deliveries/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Delivery ID is required")
				return
			}
			deliveries.GetDelivery(w, r, jobID)
		} else {
			methodNotAllowed(w)
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}
