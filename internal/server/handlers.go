package server

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/franckalain/chocobrew/internal/batch"
	"github.com/franckalain/chocobrew/internal/models"
	"github.com/franckalain/chocobrew/internal/quality"
)

type contextKey string

const ownerContextKey contextKey = "owner_id"

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type batchResponse struct {
	*models.BatchRecord
	LookupURL string `json:"lookup_url"`
	QRURL     string `json:"qr_url,omitempty"`
}

func (s *Server) toResponse(b *models.BatchRecord) batchResponse {
	resp := batchResponse{BatchRecord: b, LookupURL: s.batches.LookupURL(b.ID)}
	if b.HasLookupImage() {
		resp.QRURL = resp.LookupURL + "/qr.png"
	}
	return resp
}

// OwnerFromContext returns the authenticated account id set by requireOwner.
func OwnerFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ownerContextKey).(int64)
	return id, ok
}

func (s *Server) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.sessionToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "login required"})
			return
		}
		ownerID, err := s.auth.Authenticate(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ownerContextKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(r, &creds); err != nil {
		s.writeError(w, r, err)
		return
	}

	account, err := s.auth.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(r, &creds); err != nil {
		s.writeError(w, r, err)
		return
	}

	account, token, err := s.auth.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(s.auth.TTL()),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"token":   token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := OwnerFromContext(r.Context())

	sub, err := decodeSubmission(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.batches.Create(r.Context(), sub, ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toResponse(record))
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := OwnerFromContext(r.Context())

	records, err := s.batches.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]batchResponse, 0, len(records))
	for _, b := range records {
		items = append(items, s.toResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if _, ok := err.(*http.MaxBytesError); ok {
			return err
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// decodeSubmission reads a batch from a form post or a flat JSON object with
// the same field names.
func decodeSubmission(r *http.Request) (batch.Submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var get func(string) string
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && err != http.ErrNotMultipart {
			if _, ok := err.(*http.MaxBytesError); ok {
				return batch.Submission{}, err
			}
			return batch.Submission{}, fmt.Errorf("%w: %v", errBadBody, err)
		}
		get = r.PostFormValue
	default:
		fields := map[string]any{}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			if _, ok := err.(*http.MaxBytesError); ok {
				return batch.Submission{}, err
			}
			return batch.Submission{}, fmt.Errorf("%w: %v", errBadBody, err)
		}
		get = func(key string) string {
			switch v := fields[key].(type) {
			case nil:
				return ""
			case string:
				return v
			case json.Number:
				return v.String()
			default:
				return fmt.Sprint(v)
			}
		}
	}

	sub := batch.Submission{
		Code:            get(batch.FieldCode),
		ElaborationDate: get(batch.FieldElaborationDate),
		Measurements:    make(map[string]string, len(quality.FeatureNames)),
	}
	for _, name := range quality.FeatureNames {
		sub.Measurements[name] = get(name)
	}
	return sub, nil
}
