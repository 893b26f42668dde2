package audit

import (
	"context"
	"net/http"
	"strings"
)

// pathTarget extracts the project and document named by a request path.
// Paths look like /projects/{p}, /projects/{p}/documents/{d}/... or
// /projects/{p}/imports/{name}.
func pathTarget(path string) (project, document string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "projects" {
		return "", ""
	}
	project = parts[1]
	if len(parts) >= 4 && parts[2] == "documents" {
		document = parts[3]
	}
	return project, document
}

// actionFor names what a mutating request does.
func actionFor(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	for _, p := range parts {
		if colonIdx := strings.Index(p, ":"); colonIdx > 0 {
			return p[colonIdx+1:]
		}
	}

	for i, p := range parts {
		switch p {
		case "permissions":
			if method == http.MethodDelete {
				return "revoke"
			}
			return "grant"
		case "last":
			if i >= 3 && parts[i-2] == "documents" {
				return "write-path"
			}
		case "register", "token":
			return p
		}
	}

	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut:
		return "update"
	case http.MethodPatch:
		return "patch"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isAudited returns true if the request should be recorded. Mutating
// requests are audited; reads and health probes are not.
func isAudited(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return true
	}
	return false
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "denied"
	default:
		return "failure"
	}
}

type targetKey struct{}

// target holds a resource named outside the request path.
type target struct {
	project  string
	document string
}

func withTarget(ctx context.Context) (context.Context, *target) {
	t := &target{}
	return context.WithValue(ctx, targetKey{}, t), t
}

// SetTarget attributes the audited request to project and document when
// the handler learns them from the body rather than the path. Empty
// values leave the path-derived target in place. It is a no-op outside
// the audit middleware.
func SetTarget(ctx context.Context, project, document string) {
	t, ok := ctx.Value(targetKey{}).(*target)
	if !ok {
		return
	}
	if project != "" {
		t.project = project
	}
	if document != "" {
		t.document = document
	}
}
