package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/service"
	"github.com/shouni/psychedelic-image-kit/pkg/store"
	"github.com/shouni/psychedelic-image-kit/pkg/worker"
)

// Submitter は変換依頼を受け付けます。*service.Processor が満たします。
type Submitter interface {
	Submit(ctx context.Context, req service.Request) (service.Ticket, error)
}

// Handlers は JSON API のハンドラ群です。
type Handlers struct {
	processor Submitter
	store     store.Store
	maxUpload int64
	logger    *slog.Logger
}

func (h *Handlers) process(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload is too large")
			return
		}
		WriteError(w, http.StatusBadRequest, "expected a multipart form with a photo")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "photo is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read photo")
		return
	}

	// 省略時は nil のまま渡し、既定の回数に任せる
	var iterations *int
	if v := r.FormValue("iterations"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "iterations must be an integer")
			return
		}
		iterations = &n
	}

	ticket, err := h.processor.Submit(r.Context(), service.Request{
		UserID:     UserID(r.Context()),
		Image:      data,
		Iterations: iterations,
	})
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}
	WriteSuccess(w, http.StatusAccepted, ticket)
}

func (h *Handlers) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var decErr *domain.DecodeError
	switch {
	case errors.As(err, &decErr):
		WriteError(w, http.StatusBadRequest, "uploaded file is not a supported image")
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolStopped):
		WriteError(w, http.StatusServiceUnavailable, "server is busy, please retry later")
	case errors.Is(err, service.ErrUserRequired):
		WriteError(w, http.StatusUnauthorized, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "submit failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to start processing")
	}
}

type imageSummary struct {
	domain.ProcessedImage
	URL string `json:"url"`
}

func (h *Handlers) listImages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.store.ListByUser(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list images failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to list images")
		return
	}

	out := make([]imageSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, imageSummary{ProcessedImage: rec, URL: "/api/images/" + rec.ID})
	}
	WriteSuccess(w, http.StatusOK, out)
}

func (h *Handlers) getImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.store.Get(r.Context(), UserID(r.Context()), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "image not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get image failed", "id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to load image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.ImageData)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.ImageData)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
