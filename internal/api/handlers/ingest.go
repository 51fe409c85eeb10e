package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vektor-ai/vektor/internal/api"
	"github.com/vektor-ai/vektor/internal/domain"
	"github.com/vektor-ai/vektor/internal/progress"
)

type IngestService interface {
	Submit(ctx context.Context, files []domain.UploadFile, namespace string) (string, error)
}

type ProgressSource interface {
	Subscribe(uploadID string) (<-chan progress.Event, func(), error)
}

type IngestHandler struct {
	svc    IngestService
	source ProgressSource
}

func NewIngestHandler(svc IngestService, source ProgressSource) *IngestHandler {
	return &IngestHandler{svc: svc, source: source}
}

type IngestResponse struct {
	UploadID string `json:"upload_id"`
}

type ProgressEventResponse struct {
	Phase       string   `json:"phase"`
	Percent     int      `json:"percent"`
	State       string   `json:"state"`
	Error       string   `json:"error,omitempty"`
	FailedFiles []string `json:"failed_files,omitempty"`
}

// Ingest accepts a multipart batch of files and starts asynchronous ingestion.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	namespace := r.FormValue("namespace")

	var files []domain.UploadFile
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				api.Error(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", header.Filename))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				api.Error(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", header.Filename))
				return
			}
			files = append(files, domain.UploadFile{Filename: header.Filename, Data: data})
		}
	}

	uploadID, err := h.svc.Submit(r.Context(), files, namespace)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, IngestResponse{UploadID: uploadID})
}

// Progress streams upload progress as server-sent events until the job
// reaches a terminal state or the client disconnects.
func (h *IngestHandler) Progress(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	events, cancel, err := h.source.Subscribe(uploadID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, ev progress.Event) error {
	payload, err := json.Marshal(ProgressEventResponse{
		Phase:       string(ev.Phase),
		Percent:     ev.Percent,
		State:       string(ev.State),
		Error:       ev.Error,
		FailedFiles: ev.FailedFiles,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
