package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cdr-analytics/internal/cdr"
	"cdr-analytics/internal/metrics"
	"cdr-analytics/internal/models"
)

const maxCDRBody = 1 << 20

func CDRIngestHandler(db Database, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCDRBody))
		if err != nil {
			metrics.ObserveIngest("invalid")
			writeError(w, r, fmt.Errorf("%w: read body: %v", models.ErrInvalidArgument, err))
			return
		}

		if err := cdr.InsertCDR(r.Context(), db, body, loc); err != nil {
			switch {
			case errors.Is(err, cdr.ErrInvalidCDRData):
				metrics.ObserveIngest("invalid")
			case errors.Is(err, cdr.ErrDuplicateCDR):
				metrics.ObserveIngest("duplicate")
			default:
				metrics.ObserveIngest("error")
				err = fmt.Errorf("%w: insert cdr: %v", models.ErrUpstreamUnavailable, err)
			}
			writeError(w, r, err)
			return
		}

		metrics.ObserveIngest("inserted")
		writeJSON(w, http.StatusCreated, map[string]string{"status": "inserted"})
	}
}
