package httpapi

import (
	"net/http"

	"cdr-analytics/internal/aggregate"
	"cdr-analytics/internal/models"
	"cdr-analytics/internal/report"
)

func AnsweredRateHandler(stats report.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng, err := parseRange(q, "start", "end")
		if err != nil {
			writeError(w, r, err)
			return
		}
		g, err := aggregate.ParseGranularity(q.Get("granularity"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		points, err := stats.AnsweredCallRate(r.Context(), rng, g)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if points == nil {
			points = []models.AnsweredCallRatePoint{}
		}
		writeJSON(w, http.StatusOK, points)
	}
}

func LocationStatsHandler(stats report.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := parseRange(r.URL.Query(), "start", "end")
		if err != nil {
			writeError(w, r, err)
			return
		}

		res, err := stats.LocationStatistics(r.Context(), rng)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type emailReportResponse struct {
	ExecutionID string                    `json:"executionId"`
	Status      models.ExecutionStatus    `json:"status"`
	FileName    string                    `json:"fileName,omitempty"`
	Statistics  models.DeliveryStatistics `json:"statistics"`
	SuccessRate float64                   `json:"successRate"`
}

// EmailReportHandler builds an on-demand report for the requested range
// and mails it. Without recipients the configured defaults are used.
func EmailReportHandler(reports ReportRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng, err := parseRange(q, "start", "end")
		if err != nil {
			writeError(w, r, err)
			return
		}
		g, err := aggregate.ParseGranularity(q.Get("granularity"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		res, err := reports.Execute(r.Context(), report.Request{
			Kind:        models.ReportOnDemand,
			Trigger:     models.TriggerOnDemand,
			Range:       rng,
			Granularity: g,
			Recipients:  splitList(q["recipients"]),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, emailReportResponse{
			ExecutionID: res.Execution.ID.String(),
			Status:      res.Execution.Status,
			FileName:    res.Execution.FileName,
			Statistics:  res.Statistics,
			SuccessRate: res.Statistics.SuccessRate(),
		})
	}
}
