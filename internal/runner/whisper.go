package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Whisper runs the whisper.cpp command line tool on one audio file and
// returns the plain-text transcript.
type Whisper struct {
	Path  string
	Model string
	// Language is passed as -l when set; whisper auto-detects otherwise.
	Language string
	// OnProgress receives the percentage whisper reports on stderr.
	OnProgress func(filePath string, percent int)
}

var progressRe = regexp.MustCompile(`progress\s*=\s*(\d+)%`)

// Run implements queue.Runner.
func (w *Whisper) Run(ctx context.Context, filePath string) (string, error) {
	if w.Path == "" {
		return "", errors.New("whisper: binary path not configured")
	}
	outDir, err := os.MkdirTemp("", "transcribeq-whisper-*")
	if err != nil {
		return "", fmt.Errorf("whisper: temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outBase := filepath.Join(outDir, "transcript")

	args := []string{"-f", filePath, "-otxt", "-of", outBase, "-np", "-pp"}
	if w.Model != "" {
		args = append(args, "-m", w.Model)
	}
	if w.Language != "" {
		args = append(args, "-l", w.Language)
	}

	cmd := exec.CommandContext(ctx, w.Path, args...)
	cmd.Env = childEnv()
	cmd.Stdout = io.Discard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start whisper: %w", err)
	}

	var tail bytes.Buffer
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if m := progressRe.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil && w.OnProgress != nil {
				w.OnProgress(filePath, pct)
			}
			continue
		}
		tail.WriteString(line)
		tail.WriteByte('\n')
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("whisper exited: %w: %s", err, lastLines(tail.String(), 5))
	}

	data, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return "", fmt.Errorf("whisper produced no transcript: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
