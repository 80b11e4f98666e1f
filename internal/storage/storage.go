// Package storage keeps uploaded media and extracted audio in a single flat
// directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/transcribeq/transcribeq/internal/job"
)

var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".ogg": true, ".flac": true, ".m4a": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avi": true,
}

// IsAudio reports whether name has a transcribable audio extension.
func IsAudio(name string) bool {
	return audioExts[strings.ToLower(filepath.Ext(name))]
}

// IsVideo reports whether name needs audio extraction first.
func IsVideo(name string) bool {
	return videoExts[strings.ToLower(filepath.Ext(name))]
}

// File describes a stored audio file.
type File struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

type Dir struct {
	root string
}

// New opens root, creating it if needed.
func New(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("storage: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string { return d.root }

// Sanitize reduces a client-supplied name to a safe base name.
func Sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('_')
		}
	}
	return strings.TrimLeft(sb.String(), ".")
}

// Save writes r under the sanitized name and returns that name. The file
// appears atomically; an existing file of the same name is replaced.
func (d *Dir) Save(name string, r io.Reader) (string, error) {
	clean := Sanitize(name)
	if clean == "" {
		return "", fmt.Errorf("%w: invalid file name %q", job.ErrValidation, name)
	}
	if !IsAudio(clean) && !IsVideo(clean) {
		return "", fmt.Errorf("%w: unsupported file type %q", job.ErrValidation, filepath.Ext(clean))
	}

	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: write %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close %s: %w", clean, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.root, clean)); err != nil {
		return "", fmt.Errorf("storage: rename %s: %w", clean, err)
	}
	return clean, nil
}

// Path returns the absolute location of a stored name.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, Sanitize(name))
}

// Exists reports whether name is a stored regular file. Names that do not
// survive sanitizing unchanged never exist.
func (d *Dir) Exists(name string) bool {
	if name == "" || Sanitize(name) != name {
		return false
	}
	fi, err := os.Stat(filepath.Join(d.root, name))
	return err == nil && fi.Mode().IsRegular()
}

// List returns the stored audio files, newest first.
func (d *Dir) List() ([]File, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", d.root, err)
	}
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsAudio(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime().UTC()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Name < files[j].Name
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}
