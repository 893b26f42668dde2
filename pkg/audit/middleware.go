package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/projectdocs/docstore/pkg/authz"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware records an Event for every mutating request after the handler
// completes. Recording is best-effort and never changes the response.
func Middleware(store *Store, cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil || !isAudited(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now().UTC()
			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			ctx, named := withTarget(r.Context())
			next.ServeHTTP(capture, r.WithContext(ctx))

			statusCode := capture.statusCode
			outcome := outcomeFromStatus(statusCode)
			if outcome == "denied" && !cfg.LogDenied {
				return
			}

			actor := "anonymous"
			if id, ok := authz.IdentityFromContext(ctx); ok {
				actor = id.User
			}
			requestID := middleware.GetReqID(ctx)
			project, document := pathTarget(r.URL.Path)
			if named.project != "" {
				project = named.project
			}
			if named.document != "" {
				document = named.document
			}

			event := &Event{
				ID:         uuid.NewString(),
				RequestID:  requestID,
				Actor:      actor,
				Method:     r.Method,
				Path:       r.URL.Path,
				Project:    project,
				Document:   document,
				Action:     actionFor(r.Method, r.URL.Path),
				StatusCode: statusCode,
				Outcome:    outcome,
				CreatedAt:  startTime,
				Metadata: datatypes.JSONMap{
					"duration":     time.Since(startTime).String(),
					"content_type": r.Header.Get("Content-Type"),
				},
			}

			if err := store.Append(ctx, event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}
