package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExtractTimeout bounds one extraction when FFmpeg.Timeout is zero.
const DefaultExtractTimeout = 60 * time.Minute

// FFmpeg extracts a 16 kHz mono WAV track from a video, the input format
// whisper expects.
type FFmpeg struct {
	Path    string
	Timeout time.Duration
	// KeepVideo leaves the source video in place after a successful extraction.
	KeepVideo bool
}

// Extract writes <video base name>.wav next to videoPath, or <base>-N.wav when
// that name is taken. Existing files are never overwritten.
func (f *FFmpeg) Extract(ctx context.Context, videoPath string) (string, string, error) {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	audioName, audioPath := freeAudioName(videoPath)

	cmd := exec.CommandContext(ctx, bin,
		"-n", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1",
		audioPath,
	)
	cmd.Env = childEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(audioPath)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", "", fmt.Errorf("video processing timed out after %s", timeout)
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", extractError(err, stderr.String())
	}

	if !f.KeepVideo {
		if err := os.Remove(videoPath); err != nil {
			slog.Warn("ffmpeg: remove source video", "file", videoPath, "error", err)
		}
	}
	return audioPath, audioName, nil
}

func freeAudioName(videoPath string) (name, path string) {
	dir := filepath.Dir(videoPath)
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	name = base + ".wav"
	for i := 1; ; i++ {
		path = filepath.Join(dir, name)
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			return name, path
		}
		name = fmt.Sprintf("%s-%d.wav", base, i)
	}
}

func extractError(err error, stderr string) error {
	switch {
	case strings.Contains(stderr, "does not contain any stream"):
		return errors.New("the uploaded video does not contain an audio track")
	case strings.Contains(stderr, "Invalid data found"):
		return errors.New("the video file appears to be corrupted and cannot be processed")
	}
	return fmt.Errorf("ffmpeg exited: %w: %s", err, lastLines(stderr, 5))
}
