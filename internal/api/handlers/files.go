package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vektor-ai/vektor/internal/api"
	"github.com/vektor-ai/vektor/internal/domain"
)

type FileIndex interface {
	ListSources(ctx context.Context, namespace string) ([]domain.SourceInfo, error)
	DeleteBySource(ctx context.Context, namespace, filename string) (int, error)
}

// FileArchive removes the archived raw copy of a deleted source file.
type FileArchive interface {
	Delete(ctx context.Context, namespace, filename string) error
}

type FilesHandler struct {
	idx     FileIndex
	archive FileArchive
}

// NewFilesHandler creates a files handler. A nil archive disables raw-copy
// cleanup on delete.
func NewFilesHandler(idx FileIndex, archive FileArchive) *FilesHandler {
	return &FilesHandler{idx: idx, archive: archive}
}

type SourceFileResponse struct {
	Filename     string `json:"filename"`
	Namespace    string `json:"namespace"`
	PassageCount int    `json:"passage_count"`
	ByteSize     int64  `json:"byte_size"`
	FileID       string `json:"file_id"`
}

type DeleteFileResponse struct {
	DeletedCount int `json:"deleted_count"`
}

// List returns every indexed source file, optionally scoped to a namespace.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")

	sources, err := h.idx.ListSources(r.Context(), namespace)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]SourceFileResponse, 0, len(sources))
	for _, s := range sources {
		resp = append(resp, SourceFileResponse{
			Filename:     s.Filename,
			Namespace:    s.Namespace,
			PassageCount: s.PassageCount,
			ByteSize:     s.ByteSize,
			FileID:       s.FileID,
		})
	}

	api.Success(w, http.StatusOK, resp)
}

// Delete removes every passage of one source file. Deleting an unknown file
// is not an error; the response reports zero deletions.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}

	deleted, err := h.idx.DeleteBySource(r.Context(), namespace, filename)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if h.archive != nil && deleted > 0 {
		// The index is the source of truth; a stale archive copy is harmless.
		if err := h.archive.Delete(r.Context(), namespace, filename); err != nil {
			log.Printf("failed to delete archived %s/%s: %v", namespace, filename, err)
		}
	}

	api.Success(w, http.StatusOK, DeleteFileResponse{DeletedCount: deleted})
}
