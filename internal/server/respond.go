package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/franckalain/chocobrew/internal/auth"
	"github.com/franckalain/chocobrew/internal/database"
	"github.com/franckalain/chocobrew/internal/quality"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

var errBadBody = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps an error to its HTTP status and client-facing message.
func errorStatus(err error) (int, errorResponse) {
	var (
		verr     *quality.ValidationError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field}
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, errorResponse{Error: "request body is too large"}
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized"}
	case errors.Is(err, database.ErrDuplicateCode):
		return http.StatusConflict, errorResponse{Error: "batch code already exists, choose another", Field: "code"}
	case errors.Is(err, database.ErrDuplicateUsername):
		return http.StatusConflict, errorResponse{Error: "username already taken", Field: "username"}
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found"}
	case errors.Is(err, database.ErrUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "storage is unavailable, try again later"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func isAPIRequest(r *http.Request) bool {
	return r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/")
}

// notFound answers API callers with JSON and browsers with the error page.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	if isAPIRequest(r) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	s.render(w, http.StatusNotFound, "error.html", errorPage{Status: http.StatusNotFound, Message: "page not found"})
}

// recoverer turns a handler panic into a 500 in the same format as notFound.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}

			s.log.Error("Handler panicked",
				zap.String("path", r.URL.Path),
				zap.Any("panic", rvr),
				zap.Stack("stack"),
			)
			if isAPIRequest(r) {
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
				return
			}
			s.render(w, http.StatusInternalServerError, "error.html", errorPage{
				Status:  http.StatusInternalServerError,
				Message: "something went wrong, try again later",
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// staticFiles serves the static directory, with missing files going to
// notFound instead of the file server's plain-text 404.
func (s *Server) staticFiles() http.Handler {
	root := http.Dir(s.staticDir)
	files := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, err := root.Open(path.Clean("/" + r.URL.Path))
		if errors.Is(err, fs.ErrNotExist) {
			s.notFound(w, r)
			return
		}
		if err == nil {
			f.Close()
		}
		files.ServeHTTP(w, r)
	})
}
