// Package stage names the phases an upload passes through on its way to a
// transcript. The server-side status tracker reports them and the client-side
// progress machine consumes them.
package stage

import (
	"fmt"
	"math"
	"strings"
)

type Stage string

const (
	Idle         Stage = "IDLE"
	Uploading    Stage = "UPLOADING"
	Extracting   Stage = "EXTRACTING"
	Transcribing Stage = "TRANSCRIBING"
	Complete     Stage = "COMPLETE"
	Error        Stage = "ERROR"
	Cancelled    Stage = "CANCELLED"
)

// Parse accepts a stage name in any case.
func Parse(s string) (Stage, error) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case Idle, Uploading, Extracting, Transcribing, Complete, Error, Cancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// IsTerminal reports whether no further transitions follow in this session.
func (s Stage) IsTerminal() bool {
	return s == Complete || s == Error || s == Cancelled
}

// Cancelable reports whether the user may still abort: only while bytes are
// in flight. Extraction and transcription cannot be interrupted.
func (s Stage) Cancelable() bool {
	return s == Uploading
}

// Determinate reports whether the stage has a measurable percentage.
func (s Stage) Determinate() bool {
	return s == Uploading
}

// Rank orders the pipeline stages. Terminal stages share the highest rank.
func (s Stage) Rank() int {
	switch s {
	case Idle:
		return 0
	case Uploading:
		return 1
	case Extracting:
		return 2
	case Transcribing:
		return 3
	case Complete, Error, Cancelled:
		return 4
	}
	return -1
}

// Name is the label shown to users.
func (s Stage) Name() string {
	switch s {
	case Uploading:
		return "Uploading"
	case Extracting:
		return "Extracting Audio"
	case Transcribing:
		return "Transcribing"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	case Cancelled:
		return "Cancelled"
	}
	return ""
}

// DefaultMessage is the status line used when a transition carries none.
func (s Stage) DefaultMessage(fileName string) string {
	switch s {
	case Uploading:
		return fmt.Sprintf("Uploading %s...", fileName)
	case Extracting:
		return "Extracting audio from video..."
	case Transcribing:
		return "Transcribing audio with Whisper..."
	case Complete:
		return "Upload and processing complete!"
	case Error:
		return "Upload failed"
	case Cancelled:
		return "Upload cancelled"
	}
	return ""
}

// FormatBytes renders n with binary units, one decimal place.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const k = 1024
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(k)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.1f %s", float64(n)/math.Pow(k, float64(i)), sizes[i])
}

// FormatDuration renders a remaining-time estimate given in seconds.
func FormatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", int(math.Round(seconds)))
	}
	minutes := int(seconds / 60)
	rest := int(math.Round(math.Mod(seconds, 60)))
	if rest == 60 {
		minutes++
		rest = 0
	}
	if minutes < 60 {
		if rest > 0 {
			return fmt.Sprintf("%dm %ds", minutes, rest)
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := minutes / 60
	minutes %= 60
	if minutes > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%d hours", hours)
}
