package httpapi

import (
	"context"
	"net/http"
	"time"

	"cdr-analytics/internal/metrics"
)

func HealthHandler(db Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func MetricsHandler() http.Handler {
	return metrics.Handler()
}
