package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cdr-analytics/internal/auth"
	"cdr-analytics/internal/cdr"
	"cdr-analytics/internal/models"
	"cdr-analytics/internal/report"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps err onto a status code and the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, cdr.ErrInvalidCDRData):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, report.ErrAlreadyDelivered), errors.Is(err, report.ErrRetriesExhausted),
		errors.Is(err, report.ErrNotDelivered), errors.Is(err, cdr.ErrDuplicateCDR):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// storeError marks a failure of the audit or execution tables as an
// upstream outage unless it already carries a sentinel.
func storeError(err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidArgument),
		errors.Is(err, models.ErrUpstreamUnavailable), errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
}
