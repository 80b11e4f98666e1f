package main

import (
	"log/slog"
	"os"
	"os/exec"

	"github.com/transcribeq/transcribeq/internal/config"
)

// checkTools looks up the external programs the server shells out to.
// Missing tools are logged, never fatal: jobs that need them fail on their own.
func checkTools(cfg *config.Config) {
	for _, tool := range []struct{ name, path string }{
		{"whisper", cfg.WhisperPath},
		{"ffmpeg", cfg.FFmpegPath},
	} {
		resolved, err := exec.LookPath(tool.path)
		if err != nil {
			slog.Warn("preflight: binary not found", "tool", tool.name, "path", tool.path)
			continue
		}
		slog.Info("preflight: binary found", "tool", tool.name, "path", resolved)
	}

	if cfg.WhisperModel == "" {
		return
	}
	if _, err := os.Stat(cfg.WhisperModel); err != nil {
		slog.Warn("preflight: whisper model not readable", "model", cfg.WhisperModel, "error", err)
	}
}
