package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/projectdocs/docstore/pkg/accounts"
	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/docstore"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

// statusFor maps an error kind to its HTTP status. Unauthorized is 403
// when the caller has an identity and 401 otherwise.
func statusFor(kind docstore.ErrorKind, authenticated bool) int {
	switch kind {
	case docstore.KindUnauthorized:
		if authenticated {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case docstore.KindNotFound:
		return http.StatusNotFound
	case docstore.KindConflict:
		return http.StatusConflict
	case docstore.KindValidation, docstore.KindBadRequest:
		return http.StatusBadRequest
	case docstore.KindPreconditionFailed:
		return http.StatusPreconditionRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeStoreError writes err as a classified error response. Unclassified
// errors are logged and reported as 500 without detail.
func writeStoreError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, accounts.ErrUserExists):
		writeError(w, http.StatusConflict, string(docstore.KindConflict), err.Error())
		return
	case errors.Is(err, accounts.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, string(docstore.KindUnauthorized), err.Error())
		return
	case errors.Is(err, accounts.ErrUserNotFound):
		writeError(w, http.StatusNotFound, string(docstore.KindNotFound), err.Error())
		return
	}

	var invalid *authz.InvalidPermissionError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, string(docstore.KindBadRequest), err.Error())
		return
	}

	var e *docstore.Error
	if errors.As(err, &e) {
		_, authenticated := authz.IdentityFromContext(r.Context())
		writeError(w, statusFor(e.Kind, authenticated), string(e.Kind), e.Message)
		return
	}

	logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
}
