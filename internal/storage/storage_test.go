package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/transcribeq/transcribeq/internal/job"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"talk.wav", "talk.wav"},
		{"my talk.mp3", "my_talk.mp3"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\rec.m4a`, "rec.m4a"},
		{".hidden.wav", "hidden.wav"},
		{"émission.ogg", "mission.ogg"},
		{"..", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveAndExists(t *testing.T) {
	t.Parallel()
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	name, err := d.Save("../my talk.wav", strings.NewReader("RIFF"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if name != "my_talk.wav" {
		t.Errorf("name = %q", name)
	}
	if !d.Exists(name) {
		t.Error("Exists = false after Save")
	}
	if d.Exists("../my_talk.wav") {
		t.Error("Exists accepted a traversal name")
	}
	data, err := os.ReadFile(d.Path(name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "RIFF" {
		t.Errorf("content = %q", data)
	}

	entries, _ := os.ReadDir(d.Root())
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the saved file", len(entries))
	}
}

func TestSaveRejects(t *testing.T) {
	t.Parallel()
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, name := range []string{"..", "notes.txt", "noext"} {
		if _, err := d.Save(name, strings.NewReader("x")); !errors.Is(err, job.ErrValidation) {
			t.Errorf("Save(%q) err = %v, want ErrValidation", name, err)
		}
	}
}

func TestListAudioOnlyNewestFirst(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	d, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"old.wav", "clip.mp4", "new.flac", "readme.txt"} {
		p := filepath.Join(root, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "dir.wav"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := d.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List returned %d files, want 2: %+v", len(files), files)
	}
	if files[0].Name != "new.flac" || files[1].Name != "old.wav" {
		t.Errorf("order = %s, %s", files[0].Name, files[1].Name)
	}
}

func TestIsVideo(t *testing.T) {
	t.Parallel()
	if !IsVideo("A.MP4") || IsVideo("a.wav") {
		t.Error("IsVideo misclassified")
	}
	if !IsAudio("a.M4A") || IsAudio("a.mp4") {
		t.Error("IsAudio misclassified")
	}
}
