package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"harkness_helper/internal/app"
	"harkness_helper/internal/domain/provider"
	"harkness_helper/internal/domain/schedule"
	"harkness_helper/internal/infra/canvas"
	"harkness_helper/internal/infra/config"
	idb "harkness_helper/internal/infra/database"
	"harkness_helper/internal/infra/elevenlabs"
	"harkness_helper/internal/infra/gemini"
	"harkness_helper/internal/infra/httpapi"
	"harkness_helper/internal/infra/logger"
	"harkness_helper/internal/infra/mailer"
	"harkness_helper/internal/infra/memory"
	"harkness_helper/internal/infra/metrics"
	"harkness_helper/internal/infra/prompts"
	"harkness_helper/internal/infra/runstate"
	"harkness_helper/internal/infra/scheduler"
	"harkness_helper/internal/infra/spreadsheet"
	"harkness_helper/internal/infra/storage"
	"harkness_helper/internal/infra/telegram"
)

const (
	inboxFolder      = "inbox"
	processingFolder = "processing"
)

type promptSeeder interface {
	SeedPrompts(ctx context.Context, prompts map[string]string) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"backend":     cfg.StoreBackend,
		"admin_id":    cfg.AdminTelegramID,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open record store")
	}
	defer closeStore()

	library, err := prompts.NewLibrary(store)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not load prompt library")
	}
	if seeder, ok := store.(promptSeeder); ok {
		if err := seeder.SeedPrompts(ctx, library.Defaults()); err != nil {
			mainLogger.WithError(err).Warn("Could not seed default prompts")
		}
	}

	files, err := storage.NewFolderStore(map[string]string{
		inboxFolder:      cfg.InboxDir,
		processingFolder: cfg.ProcessingDir,
	}, storage.NewSigner(cfg.SigningSecret), cfg.PublicBaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not prepare recording folders")
	}

	recorder := metrics.NewRecorder()
	opts := []app.Option{app.WithMetrics(recorder)}

	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = newBot(cfg.TelegramToken, logger.Component("telebot"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		opts = append(opts, app.WithNotifier(telegram.NewNotifier(bot, cfg.AdminTelegramID)))
	}

	transcriber, generator, lms, mail := newProviders(cfg)
	base := logrus.NewEntry(logger.Log)

	pipeline := app.NewPipelineService(store, files, transcriber, generator, library, app.PipelineConfig{
		InboxFolder:       inboxFolder,
		ProcessingFolder:  processingFolder,
		LargeFileBytes:    cfg.LargeFileBytes,
		SignedURLTTL:      cfg.SignedURLTTL,
		TranscribeTimeout: cfg.TranscribeTimeout,
		PassBudget:        cfg.PassBudget,
	}, base, opts...)
	feedback := app.NewFeedbackService(store, generator, library, cfg.FeedbackDelay, cfg.PassBudget, base, opts...)
	distribution := app.NewDistributionService(store, mail, lms, cfg.PassBudget, base, opts...)
	rosterSvc := app.NewRosterService(store, lms, base, opts...)
	review := app.NewReviewService(store, base, opts...)

	state, err := newRunState(ctx, cfg.RedisURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect run state store")
	}
	cron := scheduler.NewCronTrigger(base)
	cron.Start()
	trigger := app.NewTriggerService(pipeline, cron, state, cfg.TickInterval, cfg.RunCeiling, base, opts...)
	if resumed, err := trigger.Resume(ctx); err != nil {
		mainLogger.WithError(err).Error("Could not resume processing window")
	} else if resumed {
		mainLogger.Info("Resumed processing window from before restart")
	}

	if bot != nil {
		telegram.RegisterAdminHandlers(ctx, bot, &telegram.Commands{
			Gate:         app.NewAdminGate(cfg.AdminTelegramID),
			Trigger:      trigger,
			Pipeline:     pipeline,
			Feedback:     feedback,
			Distribution: distribution,
			Roster:       rosterSvc,
			Logger:       logger.Component("telegram"),
		})
		go bot.Start()
		mainLogger.Info("Telegram bot started")
	}

	router := httpapi.NewRouter(&httpapi.Handler{
		Trigger:      trigger,
		Pipeline:     pipeline,
		Feedback:     feedback,
		Distribution: distribution,
		Roster:       rosterSvc,
		Review:       review,
		Audio:        files,
		Metrics:      recorder.Handler(),
	}, base)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	mainLogger.Info("Shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if bot != nil {
		bot.Stop()
	}
	cron.Stop(shutdownCtx)
	mainLogger.Info("Application shut down gracefully")
}

func openStore(ctx context.Context, cfg *config.AppConfig) (app.Store, func(), error) {
	log := logger.Component("store")
	switch cfg.StoreBackend {
	case config.BackendXLSX:
		s, err := spreadsheet.Open(ctx, cfg.WorkbookPath, logrus.NewEntry(logger.Log))
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.WorkbookPath).Info("Workbook store opened")
		return s, func() {}, nil
	case config.BackendMemory:
		log.Warn("Using in-memory store; records are lost on exit")
		return memory.NewStore(), func() {}, nil
	default:
		db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := idb.RunMigrations(db, log); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		s := idb.NewStore(db)
		if err := s.SeedSettings(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("Database connection established")
		return s, func() { db.Close() }, nil
	}
}

// newProviders builds the external collaborators. Absent credentials leave
// the interface nil so the services report themselves as not configured.
func newProviders(cfg *config.AppConfig) (provider.Transcriber, provider.Generator, provider.LMS, provider.Mailer) {
	base := logrus.NewEntry(logger.Log)

	var transcriber provider.Transcriber
	if c := elevenlabs.NewClient(cfg.ElevenLabsURL, cfg.ElevenLabsAPIKey, cfg.TranscribeTimeout, base); c != nil {
		transcriber = c
	}
	var generator provider.Generator
	if c := gemini.NewClient(cfg.GeminiURL, cfg.GeminiAPIKey, 2*time.Minute, base); c != nil {
		generator = c
	}
	var lms provider.LMS
	if c := canvas.NewClient(cfg.CanvasBaseURL, cfg.CanvasToken, 30*time.Second, base); c != nil {
		lms = c
	}
	var mail provider.Mailer
	if m := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom, base); m != nil {
		mail = m
	}
	return transcriber, generator, lms, mail
}

func newRunState(ctx context.Context, redisURL string) (schedule.RunState, error) {
	if redisURL == "" {
		return runstate.NewMemory(), nil
	}
	client, err := runstate.Connect(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return runstate.NewRedis(client, ""), nil
}

func newBot(token string, log *logrus.Entry) (*telebot.Bot, error) {
	return telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := log.WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	})
}
