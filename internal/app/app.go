package app

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"

	"github.com/raulgabino/panwhat-sub000/internal/analysis"
	"github.com/raulgabino/panwhat-sub000/internal/config"
	"github.com/raulgabino/panwhat-sub000/internal/export"
	"github.com/raulgabino/panwhat-sub000/internal/httpapi"
	"github.com/raulgabino/panwhat-sub000/internal/httpx"
	"github.com/raulgabino/panwhat-sub000/internal/integrations/llm"
	slackbot "github.com/raulgabino/panwhat-sub000/internal/integrations/slack"
	"github.com/raulgabino/panwhat-sub000/internal/jobs"
	"github.com/raulgabino/panwhat-sub000/internal/metrics"
	"github.com/raulgabino/panwhat-sub000/internal/storage/sqlite"
	"github.com/raulgabino/panwhat-sub000/internal/transcript"
)

const shutdownTimeout = 10 * time.Second

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Bakery=%s LLMProvider=%s LLMModel=%s LLMTimeout=%s LLMMaxConcurrent=%d AnalysisWorkers=%d JobWorkers=%d JobQueueSize=%d Timezone=%s HTTPAddr=%s Slack=%t ReanalysisSchedule=%q ExternalHTTPTimeout=%s",
		cfg.BakeryName,
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.LLMTimeout(),
		cfg.LLMMaxConcurrent,
		cfg.AnalysisWorkers,
		cfg.JobWorkers,
		cfg.JobQueueSize,
		cfg.Timezone,
		cfg.HTTPAddr,
		cfg.SlackConfigured(),
		cfg.ReanalysisSchedule,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	if err := os.MkdirAll(cfg.ReportOutputDir, 0755); err != nil {
		log.Fatalf("Failed to create report output dir %s: %v", cfg.ReportOutputDir, err)
	}
	log.Printf("Report output dir: %s", cfg.ReportOutputDir)

	tuning, err := analysis.LoadTuning(cfg.TuningPath)
	if err != nil {
		log.Fatalf("Failed to load tuning: %v", err)
	}

	opts := analysis.Options{
		BakeryName:    cfg.BakeryName,
		Workers:       cfg.AnalysisWorkers,
		EnrichTimeout: cfg.LLMTimeout(),
		OnProfile:     metrics.ObserveProfile,
	}
	if enricher := llm.New(cfg); enricher != nil {
		opts.Remote = enricher
		log.Printf("Profile enrichment enabled provider=%s model=%s", enricher.Provider(), enricher.Model())
	} else {
		log.Println("Profile enrichment disabled, using local profiles only")
	}
	analyzer, err := analysis.New(tuning, opts)
	if err != nil {
		log.Fatalf("Failed to build analyzer: %v", err)
	}

	now := func() time.Time { return transcript.WallClock(time.Now().In(cfg.Location)) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := jobs.NewQueue(db, analyzer, jobs.Options{
		Workers:   cfg.JobWorkers,
		QueueSize: cfg.JobQueueSize,
		Now:       now,
	})
	queue.OnComplete(export.SummaryWriter{OutputDir: cfg.ReportOutputDir, BakeryName: cfg.BakeryName}.JobCompleted)

	var bot *slackbot.Bot
	var api *slack.Client
	if cfg.SlackConfigured() {
		api = slack.New(
			cfg.SlackBotToken,
			slack.OptionAppLevelToken(cfg.SlackAppToken),
		)
		bot = slackbot.NewBot(cfg, db, api, queue)
		queue.OnComplete(bot.Notifier().JobCompleted)
	}

	queue.Start(ctx)
	jobs.StartReanalysisScheduler(ctx, cfg, queue)

	if bot != nil {
		go func() {
			log.Println("Starting Slack bot...")
			if err := bot.Run(ctx, api); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Slack bot error: %v", err)
			}
		}()
	}

	server := httpapi.NewApp(httpapi.Deps{DB: db, Queue: queue, Analyzer: analyzer, Now: now})
	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
	}()

	log.Printf("Starting panwhat HTTP API on %s", cfg.HTTPAddr)
	if err := server.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
	stop()
	queue.Wait()
	log.Println("Stopped")
}
