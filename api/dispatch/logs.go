package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/freight/core/dispatch/logging"
	"github.com/kilianp07/freight/core/model"
)

// NewLogHandler returns an HTTP handler exposing optimization pass records
// via GET /api/dispatch/logs. Supported filters are start and end (RFC3339),
// driver_id, trigger and status.
// Requests must include an Authorization header with "Bearer <token>" when token is non-empty.
func NewLogHandler(store logging.LogStore, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if store == nil {
			http.Error(w, "plan log disabled", http.StatusNotFound)
			return
		}
		params := r.URL.Query()
		q := logging.LogQuery{
			DriverID: params.Get("driver_id"),
			Status:   params.Get("status"),
		}
		var err error
		if q.Start, err = parseTime(params.Get("start")); err != nil {
			http.Error(w, "invalid start", http.StatusBadRequest)
			return
		}
		if q.End, err = parseTime(params.Get("end")); err != nil {
			http.Error(w, "invalid end", http.StatusBadRequest)
			return
		}
		if s := params.Get("trigger"); s != "" {
			if q.Trigger, err = model.ParseTrigger(s); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []logging.LogRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
