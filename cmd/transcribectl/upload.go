package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/transcribeq/transcribeq/internal/client"
	"github.com/transcribeq/transcribeq/internal/job"
	"github.com/transcribeq/transcribeq/internal/poller"
	"github.com/transcribeq/transcribeq/internal/progress"
	"github.com/transcribeq/transcribeq/internal/stage"
	"github.com/transcribeq/transcribeq/internal/upload"
)

var errCancelled = errors.New("upload cancelled")

// uploadAPI is the part of the client an upload session talks to.
type uploadAPI interface {
	Upload(ctx context.Context, uploadID, fileName string, body io.Reader, transcribe bool, onProgress func(sent int64)) (client.UploadResult, error)
	UploadStatus(ctx context.Context, uploadID string) (upload.Status, error)
	DeleteUploadStatus(ctx context.Context, uploadID string) error
	Job(ctx context.Context, id string) (job.Job, error)
}

// uploadSession sends one file and follows it through extraction and
// transcription, mirroring everything into machine.
type uploadSession struct {
	api          uploadAPI
	machine      *progress.Machine
	interval     time.Duration
	fetchTimeout time.Duration // per status request
	newID        func() string
}

type outcome struct {
	State      progress.State
	FileName   string
	JobID      string
	Transcript string
}

func (s *uploadSession) Run(ctx context.Context, path string, transcribe bool) (outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return outcome{}, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return outcome{}, err
	}
	if !fi.Mode().IsRegular() {
		return outcome{}, fmt.Errorf("%s is not a regular file", path)
	}

	uploadID := s.newID()
	name := filepath.Base(path)
	size := fi.Size()
	upCtx, err := s.machine.Begin(ctx, name, size, uploadID)
	if err != nil {
		return outcome{}, err
	}

	res, err := s.api.Upload(upCtx, uploadID, name, f, transcribe, func(sent int64) {
		s.machine.Progress(sent, size)
	})
	if err != nil {
		if s.machine.State().Stage == stage.Cancelled {
			return outcome{State: s.machine.State()}, errCancelled
		}
		if ctx.Err() != nil {
			s.machine.Cancel() //nolint:errcheck
			return outcome{State: s.machine.State()}, errCancelled
		}
		s.machine.Fail(err) //nolint:errcheck
		return outcome{State: s.machine.State()}, err
	}
	s.machine.Flush()
	slog.Debug("upload stored", "upload_id", uploadID, "file", res.FileName)

	defer s.clearStatus(uploadID)

	var last upload.Status
	p := poller.New(poller.FetcherFunc(s.fetchStatus), poller.Config{
		Interval: s.interval,
		OnStatus: func(st upload.Status) {
			last = st
			if st.Stage.IsTerminal() || st.Stage == stage.Idle {
				return
			}
			if err := s.machine.Advance(st.Stage, st.Message); err != nil {
				slog.Debug("upload: stage not applied", "upload_id", uploadID, "stage", st.Stage, "error", err)
			}
		},
		OnComplete: func(upload.Status) {
			s.machine.Complete() //nolint:errcheck
		},
		OnError: func(st upload.Status) {
			s.machine.Fail(errors.New(st.Error)) //nolint:errcheck
		},
	})
	p.Start(ctx, uploadID)
	p.Wait()

	out := outcome{State: s.machine.State(), FileName: res.FileName, JobID: last.JobID}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if out.State.Stage == stage.Error {
		return out, errors.New(out.State.Error)
	}
	if transcribe && out.JobID != "" {
		j, err := s.api.Job(ctx, out.JobID)
		if err != nil {
			return out, fmt.Errorf("fetch transcript: %w", err)
		}
		out.Transcript = j.Transcription
	}
	return out, nil
}

func (s *uploadSession) fetchStatus(ctx context.Context, uploadID string) (upload.Status, error) {
	if s.fetchTimeout <= 0 {
		return s.api.UploadStatus(ctx, uploadID)
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	return s.api.UploadStatus(ctx, uploadID)
}

// clearStatus removes the server-side record once the client has seen the end.
func (s *uploadSession) clearStatus(uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.api.DeleteUploadStatus(ctx, uploadID); err != nil {
		slog.Debug("upload: clear status", "upload_id", uploadID, "error", err)
	}
}

func newUploadCommand(a *app) *cobra.Command {
	var (
		transcribe bool
		plain      bool
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:     "upload FILE",
		Short:   "Upload an audio or video file and wait for its transcript",
		GroupID: "media",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine := progress.New(progress.Options{})
			defer machine.Close()

			sess := &uploadSession{
				api:          a.api,
				machine:      machine,
				interval:     interval,
				fetchTimeout: a.opts.timeout,
				newID:        uuid.NewString,
			}

			var (
				res outcome
				err error
			)
			if !plain && isTerminal(a.out) {
				res, err = runInteractive(cmd.Context(), sess, args[0], transcribe, a.out)
			} else {
				machine.OnChange(newPlainPrinter(cmd.ErrOrStderr()).print)
				res, err = sess.Run(cmd.Context(), args[0], transcribe)
			}
			if err != nil {
				return err
			}

			if a.opts.json {
				return a.printJSON(map[string]any{
					"fileName":      res.FileName,
					"jobId":         res.JobID,
					"transcription": res.Transcript,
				})
			}
			if res.Transcript != "" {
				fmt.Fprintln(a.out, res.Transcript)
				return nil
			}
			fmt.Fprintf(a.out, "stored as %s\n", res.FileName)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&transcribe, "transcribe", "t", true, "Queue a transcription once the file is stored")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress lines instead of the interactive view")
	cmd.Flags().DurationVar(&interval, "poll-interval", poller.DefaultInterval, "Delay between server status checks")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
