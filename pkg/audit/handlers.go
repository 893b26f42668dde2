package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ListEventsHandler handles GET /audit/events
// Query params: actor, project, document, outcome, pageSize, pageToken
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			Actor:    q.Get("actor"),
			Project:  q.Get("project"),
			Document: q.Get("document"),
			Outcome:  q.Get("outcome"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := q.Get("pageToken")
		if pageToken != "" {
			if _, _, err := parsePageToken(pageToken); err != nil {
				writeError(w, http.StatusBadRequest, "invalid pageToken")
				return
			}
		}

		events, nextToken, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        events,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": "BadRequest", "message": message})
}
