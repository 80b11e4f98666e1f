// Package runner wraps the external programs that do the heavy lifting:
// whisper.cpp for transcription and ffmpeg for audio extraction.
package runner

import (
	"os"
	"strings"
)

// childEnv retourne os.Environ() sans les variables de configuration du serveur.
func childEnv() []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		if !strings.HasPrefix(kv, "TRANSCRIBEQ_") {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// lastLines returns at most n trailing non-empty lines of s, for error messages.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
