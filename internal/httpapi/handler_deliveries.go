package httpapi

import (
	"fmt"
	"net/http"

	"cdr-analytics/internal/models"
)

const maxReconcileBatch = 500

type deliveryStatsResponse struct {
	models.DeliveryStatistics
	SuccessRate float64 `json:"successRate"`
}

// DeliveryStatsHandler aggregates the delivery audit over a date range.
func DeliveryStatsHandler(audits AuditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := parseRange(r.URL.Query(), "start", "end")
		if err != nil {
			writeError(w, r, err)
			return
		}

		stats, err := audits.Statistics(r.Context(), rng)
		if err != nil {
			writeError(w, r, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, deliveryStatsResponse{DeliveryStatistics: stats, SuccessRate: stats.SuccessRate()})
	}
}

// ReconcileHandler asks the channel for the final outcome of the oldest
// pending deliveries. Nothing is re-sent.
func ReconcileHandler(audits AuditReader, deliveries Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseInt(r.URL.Query(), "limit", maxReconcileBatch)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if limit < 1 || limit > maxReconcileBatch {
			writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", models.ErrInvalidArgument, maxReconcileBatch))
			return
		}

		pending, err := audits.Pending(r.Context(), limit)
		if err != nil {
			writeError(w, r, storeError(err))
			return
		}

		tokens := make([]string, 0, len(pending))
		for _, a := range pending {
			if a.Token != "" {
				tokens = append(tokens, a.Token)
			}
		}

		_, stats := deliveries.ReconcileEach(r.Context(), tokens)
		writeJSON(w, http.StatusOK, deliveryStatsResponse{DeliveryStatistics: stats, SuccessRate: stats.SuccessRate()})
	}
}
