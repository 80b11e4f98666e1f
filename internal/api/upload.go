package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
)

const maxFieldBytes = 1024

// Upload handles POST /api/v1/uploads, a multipart form with uploadId, file
// and an optional transcribe flag. Text fields must precede the file part.
// The file is stored before the response; extraction and transcription
// continue in the background and are reported through the upload status.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads not configured")
		return
	}
	if h.cfg != nil && h.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.UploadMaxBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	var uploadID string
	transcribe := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "missing file part")
			return
		}
		if err != nil {
			writeBodyError(w, err)
			return
		}

		switch part.FormName() {
		case "uploadId":
			uploadID, err = readField(part)
		case "transcribe":
			var v string
			if v, err = readField(part); err == nil && v != "" {
				if transcribe, err = strconv.ParseBool(v); err != nil {
					err = errors.New("transcribe must be a boolean")
				}
			}
		case "file":
			stored, err := h.pipeline.Accept(uploadID, part.FileName(), part, transcribe)
			part.Close()
			if err != nil {
				if isTooLarge(err) {
					writeBodyError(w, err)
					return
				}
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"uploadId":   uploadID,
				"fileName":   stored,
				"transcribe": transcribe,
			})
			return
		}
		part.Close()
		if err != nil {
			writeBodyError(w, err)
			return
		}
	}
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFieldBytes {
		return "", errors.New("form field too long")
	}
	return string(b), nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeBodyError(w http.ResponseWriter, err error) {
	if isTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
