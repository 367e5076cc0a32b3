package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/audiomem/internal/admin"
	"github.com/xiy/audiomem/internal/config"
	"github.com/xiy/audiomem/internal/gateway"
	"github.com/xiy/audiomem/internal/insight"
	"github.com/xiy/audiomem/internal/memory"
	"github.com/xiy/audiomem/internal/notify"
	"github.com/xiy/audiomem/internal/pipeline"
	"github.com/xiy/audiomem/internal/sched"
	"github.com/xiy/audiomem/internal/store"
	"github.com/xiy/audiomem/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	switch sub {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "insights":
		if err := runInsights(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "admin":
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Println("audiomemd v0.1.0")
	default:
		usage()
		os.Exit(2)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "config/audiomemd.yaml", "Path to config file")
	sweepEvery := fs.Duration("sweep-interval", 10*time.Minute, "How often to run the background insight sweep")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportCaller: false, Prefix: cfg.ServerName})
	setLogLevel(logger, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	gw := gateway.New(cfg.Gateway)
	svc := memory.NewService(st, gw, logger)
	pipe := pipeline.New(svc, gw, st, cfg.Pipeline, logger)

	// Streaming transcriptions are broadcast only; this subscriber is what
	// turns them into persisted records.
	pipe.Subscribe(func(ev types.Event) {
		if ev.Type != types.EventTranscription {
			return
		}
		tr := gateway.Transcription{Text: ev.Text, DurationSeconds: ev.Duration}
		if _, err := svc.CreateFromTranscription(ctx, tr, ev.Metadata); err != nil {
			logger.Error("persist streaming transcription", "err", err)
		}
	})

	pipe.Start()
	logger.Info("pipeline serving", "driver", cfg.Storage.Driver)

	go sched.Start(ctx, logger, *sweepEvery, &insightSweeper{
		st:       st,
		engine:   insight.NewEngine(cfg.Insights),
		notifier: notify.New(cfg.Notify),
		logger:   logger,
	})

	// Each stdin line is offered to the pipeline as a text memory.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if !pipe.EnqueueMemory(line, nil) {
				logger.Warn("memory dropped, queue full")
			}
		}
	}()

	<-ctx.Done()
	pipe.Stop(cfg.Pipeline.StopTimeout())
	logger.Info("pipeline stopped")
	return nil
}

func runInsights(args []string) error {
	fs := flag.NewFlagSet("insights", flag.ContinueOnError)
	configPath := fs.String("config", "config/audiomemd.yaml", "Path to config file")
	days := fs.Int("days", 7, "How many days of records to analyze")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := log.New(os.Stderr)
	setLogLevel(logger, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now().UTC()
	batch, err := st.Search(ctx, store.SearchFilter{
		From:  now.Add(-time.Duration(*days) * 24 * time.Hour),
		Limit: 10000,
	})
	if err != nil {
		return err
	}
	recentDay, err := st.Search(ctx, store.SearchFilter{From: now.Add(-24 * time.Hour), Limit: 1000})
	if err != nil {
		return err
	}
	recentWeek, err := st.Search(ctx, store.SearchFilter{From: now.Add(-7 * 24 * time.Hour), Limit: 1000})
	if err != nil {
		return err
	}

	insights := insight.NewEngine(cfg.Insights).Generate(batch)
	if len(insights) == 0 {
		fmt.Printf("no insights from %d records\n", len(batch))
		return nil
	}
	for _, in := range insights {
		fmt.Printf("[%s/%s] %.2f  %s\n", in.Kind, in.Importance, in.Confidence, in.Message)
	}

	notifications := notify.New(cfg.Notify).Generate(insights, recentDay, recentWeek)
	for _, note := range notifications {
		fmt.Printf("notify [%s/%s] %s: %s\n", note.Type, note.Priority, note.Title, note.Message)
	}
	return nil
}

func runAdmin(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	configPath := fs.String("config", "config/audiomemd.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := log.New(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	return admin.Run(ctx, st)
}

// insightSweeper is the serve-mode background pass: regenerate insights
// over the recent window and log the notifications that survive filtering.
type insightSweeper struct {
	st       store.Store
	engine   *insight.Engine
	notifier *notify.Notifier
	logger   *log.Logger
}

func (s *insightSweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	batch, err := s.st.Search(ctx, store.SearchFilter{From: now.Add(-7 * 24 * time.Hour), Limit: 10000})
	if err != nil {
		return 0, err
	}
	recentDay, err := s.st.Search(ctx, store.SearchFilter{From: now.Add(-24 * time.Hour), Limit: 1000})
	if err != nil {
		return 0, err
	}

	insights := s.engine.Generate(batch)
	notifications := s.notifier.Generate(insights, recentDay, batch)
	for _, note := range notifications {
		s.logger.Info("notification", "type", note.Type, "priority", note.Priority, "title", note.Title)
	}
	return len(notifications), nil
}

// openStore picks the storage backend from config.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return store.OpenPostgres(ctx, cfg.Storage.PostgresURL, cfg.Gateway.EmbeddingDims, logger)
	default:
		return store.OpenSQLite(ctx, cfg.Storage.DBPath, logger)
	}
}

func setLogLevel(logger *log.Logger, level string) {
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
}

func usage() {
	fmt.Print(`audiomemd

Usage:
  audiomemd serve [--config path]
  audiomemd insights [--config path] [--days n]
  audiomemd admin [--config path]
  audiomemd version
`)
}
