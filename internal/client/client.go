// Package client is a typed HTTP client for the transcribeq API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/transcribeq/transcribeq/internal/archive"
	"github.com/transcribeq/transcribeq/internal/job"
	"github.com/transcribeq/transcribeq/internal/storage"
	"github.com/transcribeq/transcribeq/internal/upload"
)

// APIError is a non-2xx response. It unwraps to the matching job sentinel so
// callers can use errors.Is(err, job.ErrNotFound).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return job.ErrValidation
	case http.StatusNotFound:
		return job.ErrNotFound
	case http.StatusConflict:
		return job.ErrConflict
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL. A nil hc uses
// http.DefaultClient.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Submit queues a transcription of an already stored file.
func (c *Client) Submit(ctx context.Context, req job.SubmitRequest) (job.Job, error) {
	var j job.Job
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", nil, req, &j)
	return j, err
}

func (c *Client) Job(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, nil, &j)
	return j, err
}

func (c *Client) Jobs(ctx context.Context) ([]job.Job, job.Stats, error) {
	var out struct {
		Jobs  []job.Job `json:"jobs"`
		Stats job.Stats `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs", nil, nil, &out)
	return out.Jobs, out.Stats, err
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, nil, nil)
}

// Process triggers a dispatch tick and returns the processing job, if any.
func (c *Client) Process(ctx context.Context) (*job.Job, job.Stats, error) {
	var out struct {
		Processing bool      `json:"processing"`
		Job        *job.Job  `json:"job"`
		Stats      job.Stats `json:"stats"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/queue/process", nil, nil, &out); err != nil {
		return nil, job.Stats{}, err
	}
	return out.Job, out.Stats, nil
}

// UploadStatus implements poller.Fetcher.
func (c *Client) UploadStatus(ctx context.Context, uploadID string) (upload.Status, error) {
	var st upload.Status
	err := c.do(ctx, http.MethodGet, uploadPath(uploadID), nil, nil, &st)
	return st, err
}

func (c *Client) SetUploadStatus(ctx context.Context, uploadID string, st upload.Status) error {
	return c.do(ctx, http.MethodPut, uploadPath(uploadID), nil, st, nil)
}

func (c *Client) DeleteUploadStatus(ctx context.Context, uploadID string) error {
	return c.do(ctx, http.MethodDelete, uploadPath(uploadID), nil, nil, nil)
}

// UploadResult is the server's acknowledgement of a stored upload.
type UploadResult struct {
	UploadID   string `json:"uploadId"`
	FileName   string `json:"fileName"`
	Transcribe bool   `json:"transcribe"`
}

// Upload streams body as a multipart form. onProgress, when set, receives the
// number of file bytes handed to the transport so far.
func (c *Client) Upload(ctx context.Context, uploadID, fileName string, body io.Reader, transcribe bool, onProgress func(sent int64)) (UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, uploadID, fileName, body, transcribe, onProgress))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/uploads", pr)
	if err != nil {
		pr.Close()
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	err = c.send(req, &out)
	pr.Close()
	return out, err
}

func writeForm(mw *multipart.Writer, uploadID, fileName string, body io.Reader, transcribe bool, onProgress func(int64)) error {
	// Text fields go first: the server reads them before the file part.
	if err := mw.WriteField("uploadId", uploadID); err != nil {
		return err
	}
	if err := mw.WriteField("transcribe", strconv.FormatBool(transcribe)); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if onProgress != nil {
		body = &countingReader{r: body, fn: onProgress}
	}
	if _, err := io.Copy(fw, body); err != nil {
		return err
	}
	return mw.Close()
}

type countingReader struct {
	r  io.Reader
	n  int64
	fn func(int64)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		cr.fn(cr.n)
	}
	return n, err
}

func (c *Client) Files(ctx context.Context) ([]storage.File, error) {
	var out struct {
		Files []storage.File `json:"files"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/files", nil, nil, &out)
	return out.Files, err
}

func (c *Client) Transcript(ctx context.Context, fileName string) (archive.Transcript, error) {
	var tr archive.Transcript
	err := c.do(ctx, http.MethodGet, "/api/v1/transcripts/"+url.PathEscape(fileName), nil, nil, &tr)
	return tr, err
}

// TranscriptPage is one page of archived transcripts, without their text.
type TranscriptPage struct {
	Transcripts []archive.Transcript `json:"transcripts"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

func (c *Client) Transcripts(ctx context.Context, limit, offset int) (TranscriptPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	var page TranscriptPage
	err := c.do(ctx, http.MethodGet, "/api/v1/transcripts", params, nil, &page)
	return page, err
}

// Health is the server's health report.
type Health struct {
	Status  string    `json:"status"`
	Queue   job.Stats `json:"queue"`
	Uploads int       `json:"uploads"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, &h)
	return h, err
}

func uploadPath(id string) string {
	return "/api/v1/uploads/" + url.PathEscape(id) + "/status"
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b := &bytes.Buffer{}
		if err := json.NewEncoder(b).Encode(in); err != nil {
			return err
		}
		body = b
	}

	u := c.baseURL + path
	if len(params) != 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if out == nil || res.StatusCode == http.StatusNoContent {
			return nil
		}
		return json.NewDecoder(res.Body).Decode(out)
	}

	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
		if e.Error == "" {
			e.Error = http.StatusText(res.StatusCode)
		}
	}
	return &APIError{StatusCode: res.StatusCode, Message: e.Error}
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
