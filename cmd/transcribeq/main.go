package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transcribeq/transcribeq/internal/api"
	"github.com/transcribeq/transcribeq/internal/archive"
	"github.com/transcribeq/transcribeq/internal/config"
	"github.com/transcribeq/transcribeq/internal/queue"
	"github.com/transcribeq/transcribeq/internal/runner"
	"github.com/transcribeq/transcribeq/internal/storage"
	"github.com/transcribeq/transcribeq/internal/throttle"
	"github.com/transcribeq/transcribeq/internal/upload"
	"github.com/transcribeq/transcribeq/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	files, err := storage.New(cfg.MediaDir)
	if err != nil {
		return err
	}

	transcripts, err := archive.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer transcripts.Close()

	checkTools(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := queue.New(queue.Config{
		Runner:  newWhisper(cfg),
		Exists:  files.Exists,
		Resolve: files.Path,
		Timeout: cfg.JobTimeout,
	})
	notifier := webhook.NewNotifier(ctx)
	sched.OnTerminal(transcripts.Record)
	sched.OnTerminal(notifier.Notify)

	tracker := upload.NewTracker()
	pipeline := upload.NewPipeline(upload.PipelineConfig{
		Tracker: tracker,
		Files:   files,
		Extractor: &runner.FFmpeg{
			Path:      cfg.FFmpegPath,
			Timeout:   cfg.ExtractTimeout,
			KeepVideo: cfg.KeepVideo,
		},
		Jobs:    sched,
		IsVideo: storage.IsVideo,
	})

	sched.Start(ctx)
	pipeline.Start(ctx)
	sched.StartCleanup(ctx, cfg.CleanupInterval, cfg.JobTTL)
	tracker.StartCleanup(ctx, cfg.CleanupInterval, cfg.JobTTL)

	mux := http.NewServeMux()
	h := api.NewHandler(api.Deps{
		Scheduler: sched,
		Tracker:   tracker,
		Pipeline:  pipeline,
		Files:     files,
		Archive:   transcripts,
	}, cfg)
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging,
		api.RateLimit(ctx, cfg.RateLimitRPS),
	)

	// No read/write timeouts: uploads and event streams are long-lived.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("transcribeq listening", "addr", cfg.ListenAddr, "media_dir", cfg.MediaDir)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	stop()
	pipeline.Wait()
	sched.Wait()
	notifier.Wait()
	return err
}

// newWhisper builds the transcription runner. Progress lines are logged at
// debug level, at most once per second per process.
func newWhisper(cfg *config.Config) *runner.Whisper {
	type progress struct {
		file    string
		percent int
	}
	logProgress := throttle.New(time.Second, func(p progress) {
		slog.Debug("transcription progress", "file", filepath.Base(p.file), "percent", p.percent)
	})
	return &runner.Whisper{
		Path:     cfg.WhisperPath,
		Model:    cfg.WhisperModel,
		Language: cfg.WhisperLanguage,
		OnProgress: func(filePath string, percent int) {
			logProgress.Push(progress{file: filePath, percent: percent})
		},
	}
}
