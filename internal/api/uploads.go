package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/ragdesk/internal/store"
	"github.com/MikeSquared-Agency/ragdesk/internal/uploadq"
)

const maxUploadBytes = 64 << 20

// EnqueueRequest queues a file already on this machine.
type EnqueueRequest struct {
	Path        string `json:"path" validate:"required"`
	ProcessMode string `json:"process_mode,omitempty" validate:"omitempty,oneof=full text_only ocr_only true false"`
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.deps.Queue.Items()})
}

// enqueue handles POST /api/v1/queue. It takes either a multipart upload
// (fields file, process_mode or the legacy process_images) or a JSON body
// naming a local path. With ?wait=1 it answers once the queue drains.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var (
		f    uploadq.File
		mode uploadq.Mode
		err  error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		f, mode, err = fileFromJSON(r)
	} else {
		f, mode, err = fileFromForm(w, r)
	}
	if err != nil {
		writeValidation(w, err)
		return
	}

	it, err := s.deps.Queue.Enqueue(f, mode)
	if err != nil {
		if errors.Is(err, uploadq.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := s.deps.Queue.Wait(r.Context()); err != nil {
			writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("wait for queue: %v", err))
			return
		}
		if latest, ok := s.deps.Queue.Item(it.ID); ok {
			it = latest
		}
		writeJSON(w, http.StatusOK, it)
		return
	}
	writeJSON(w, http.StatusAccepted, it)
}

func fileFromJSON(r *http.Request) (uploadq.File, uploadq.Mode, error) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return uploadq.File{}, "", fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validateRequest(req); err != nil {
		return uploadq.File{}, "", err
	}
	f, err := uploadq.FileFromPath(req.Path)
	if err != nil {
		return uploadq.File{}, "", err
	}
	return f, uploadq.ParseMode(req.ProcessMode), nil
}

func fileFromForm(w http.ResponseWriter, r *http.Request) (uploadq.File, uploadq.Mode, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return uploadq.File{}, "", fmt.Errorf("invalid upload: %w", err)
	}
	src, header, err := r.FormFile("file")
	if err != nil {
		return uploadq.File{}, "", fmt.Errorf("file is required: %w", err)
	}
	defer src.Close()

	// The queue may start this job long after the request is gone.
	data, err := io.ReadAll(src)
	if err != nil {
		return uploadq.File{}, "", fmt.Errorf("read upload: %w", err)
	}

	mode := r.FormValue("process_mode")
	if mode == "" {
		mode = r.FormValue("process_images")
	}
	f := uploadq.FileFromBytes(header.Filename, header.Header.Get("Content-Type"), data)
	return f, uploadq.ParseMode(mode), nil
}

func (s *Server) uploadHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "upload history is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.deps.History.RecentUploads(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []store.UploadRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": rows, "count": len(rows)})
}
