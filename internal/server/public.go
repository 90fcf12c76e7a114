package server

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"github.com/franckalain/chocobrew/internal/database"
	"github.com/franckalain/chocobrew/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type batchPage struct {
	Batch     *models.BatchRecord
	LookupURL string
}

type errorPage struct {
	Status  int
	Message string
}

func batchID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, database.ErrNotFound
	}
	return id, nil
}

func (s *Server) lookupByID(r *http.Request) (*models.BatchRecord, error) {
	id, err := batchID(r)
	if err != nil {
		return nil, err
	}
	return s.batches.GetByID(r.Context(), id)
}

func (s *Server) handlePublicBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.lookupByID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(b))
}

func (s *Server) handlePublicBatchByCode(w http.ResponseWriter, r *http.Request) {
	b, err := s.batches.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(b))
}

// handleBatchPage renders the page a scanned QR code lands on.
func (s *Server) handleBatchPage(w http.ResponseWriter, r *http.Request) {
	b, err := s.lookupByID(r)
	if err != nil {
		status, resp := errorStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("Batch page failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		s.render(w, status, "error.html", errorPage{Status: status, Message: resp.Error})
		return
	}
	s.render(w, http.StatusOK, "batch.html", batchPage{Batch: b, LookupURL: s.batches.LookupURL(b.ID)})
}

func (s *Server) handleBatchQR(w http.ResponseWriter, r *http.Request) {
	b, err := s.lookupByID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !b.HasLookupImage() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "lookup image is " + b.PayloadStatus})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(b.LookupImage)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("Error rendering template", zap.String("template", name), zap.Error(err))
	}
}
