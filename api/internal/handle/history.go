package handle

import (
	"net/http"
	"strconv"

	"leafscan/api/internal/auth"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/store"
)

type historyResponse struct {
	Success bool           `json:"success"`
	History []store.Record `json:"history"`
}

// History handles GET /api/history for the signed-in user.
func (h *Handle) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, &types.ConfigError{Provider: "history", Key: "DATABASE_URL"}, "History", nil)
		return
	}
	limit := store.MaxListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, &types.ValidationError{Message: "limit must be a positive integer."}, "History", nil)
			return
		}
		limit = min(n, store.MaxListLimit)
	}

	recs, err := h.history.ListByUser(r.Context(), auth.UserIDFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, err, "History", nil)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, History: recs})
}
