package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"SeriesHarvester/internal/collector"
	"SeriesHarvester/internal/config"
	"SeriesHarvester/internal/logger"
	"SeriesHarvester/internal/notifier"
	"SeriesHarvester/internal/pipeline"
	"SeriesHarvester/internal/recorder"
	"SeriesHarvester/internal/scheduler"
	"SeriesHarvester/internal/transport"
)

func main() {
	if err := run(); err != nil {
		logger.GetLogger().WithError(err).Error("SeriesHarvester failed")
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config file")
	once := flag.Bool("once", false, "run a single harvest and exit, ignoring the schedule")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	l := logger.GetLogger()
	if err := l.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	log := l.WithComponent("main")
	log.WithField("config", cfgPath).Info("SeriesHarvester starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := buildRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			log.WithError(err).Warn("close recorders")
		}
	}()

	client := transport.NewClient(transport.Options{
		Timeout:           cfg.HTTP.Timeout,
		UserAgent:         cfg.HTTP.UserAgent,
		Proxy:             cfg.HTTP.Proxy,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Retry: transport.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Base:        cfg.Retry.Base,
			Factor:      cfg.Retry.Factor,
			Jitter:      cfg.Retry.Jitter,
		},
	})
	col := collector.NewCollector(client, collector.NewSGSProvider(cfg.Provider.BaseURL), cfg.Provider.MaxSpanYears)

	catalog := make(pipeline.Catalog, 0, len(cfg.Series))
	for _, s := range cfg.Series {
		catalog = append(catalog, pipeline.Series{Name: s.Name, Code: s.Code.String()})
	}
	runner := pipeline.NewRunner(col, rec, catalog)
	if tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.HTTP.Proxy); tn != nil {
		runner.Notifier = tn
		log.Info("telegram notifications enabled")
	}

	job := func(ctx context.Context) {
		span, err := cfg.Span(time.Now())
		if err != nil {
			log.WithError(err).Error("resolve run span")
			return
		}
		runner.Run(ctx, span)
	}

	if *once || cfg.Schedule.Cron == "" {
		job(ctx)
		log.Info("SeriesHarvester finished")
		return nil
	}

	sched := scheduler.NewScheduler(ctx, job)
	if err := sched.Register(cfg.Schedule.Cron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Schedule.RunOnStart {
		log.Info("run_on_start enabled, executing harvest now")
		sched.RunAsync()
	}

	log.Info("SeriesHarvester is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping...")
	return nil
}

func buildRecorder(ctx context.Context, cfg *config.Config) (recorder.Recorder, error) {
	var recs recorder.Multi

	if len(cfg.Output.Formats) > 0 {
		if cfg.Output.BucketURL == "" {
			if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
				return nil, fmt.Errorf("create output dir: %w", err)
			}
		}
		bucketURL, err := cfg.Output.ResolveBucketURL()
		if err != nil {
			return nil, err
		}
		br, err := recorder.NewBlobRecorder(ctx, bucketURL, cfg.Output.Formats)
		if err != nil {
			return nil, fmt.Errorf("init blob recorder: %w", err)
		}
		recs = append(recs, br)
	}

	if cfg.Database.Driver != "none" {
		sr, err := recorder.NewSQLRecorder(cfg.Database)
		if err != nil {
			recs.Close()
			return nil, fmt.Errorf("init %s recorder: %w", cfg.Database.Driver, err)
		}
		recs = append(recs, sr)
	}

	if len(recs) == 0 {
		return recorder.NewNoopRecorder(), nil
	}
	return recs, nil
}
