package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/transcribeq/transcribeq/internal/client"
)

const defaultServer = "http://localhost:8080"

type rootOptions struct {
	server  string
	timeout time.Duration
	verbose bool
	json    bool
}

// app is what every subcommand needs once flags are parsed.
type app struct {
	api  *client.Client
	out  io.Writer
	opts *rootOptions
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	a := &app{out: stdout, opts: opts}

	cmd := &cobra.Command{
		Use:           "transcribectl",
		Short:         "Upload media to a transcribeq server and follow transcription jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

			if opts.server == "" {
				return errors.New("--server must not be empty")
			}
			// The upload command streams for as long as the file takes, so the
			// timeout only applies per request through contexts.
			a.api = client.New(opts.server, &http.Client{})
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	bindRootFlags(cmd.PersistentFlags(), opts)

	cmd.AddGroup(&cobra.Group{ID: "media", Title: "Media Commands"})
	cmd.AddGroup(&cobra.Group{ID: "jobs", Title: "Job Commands"})

	cmd.AddCommand(newUploadCommand(a))
	cmd.AddCommand(newFilesCommand(a))
	cmd.AddCommand(newTranscriptCommand(a))
	cmd.AddCommand(newSubmitCommand(a))
	cmd.AddCommand(newJobsCommand(a))
	cmd.AddCommand(newJobCommand(a))
	cmd.AddCommand(newCancelCommand(a))
	cmd.AddCommand(newProcessCommand(a))
	cmd.AddCommand(newStatusCommand(a))
	cmd.AddCommand(newHealthCommand(a))
	return cmd
}

func bindRootFlags(fs *pflag.FlagSet, opts *rootOptions) {
	server := os.Getenv("TRANSCRIBEQ_SERVER")
	if server == "" {
		server = defaultServer
	}
	fs.StringVarP(&opts.server, "server", "s", server, "Server base URL (env TRANSCRIBEQ_SERVER)")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for each API request, uploads excluded")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	fs.BoolVar(&opts.json, "json", false, "Print raw JSON instead of tables")
}
