package httpapi

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cdr-analytics/internal/models"
)

func ExecutionsHandler(execs ExecutionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := parseInt(r.URL.Query(), "count", defaultExecutionCount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if n < 1 || n > maxExecutionCount {
			writeError(w, r, fmt.Errorf("%w: count must be between 1 and %d", models.ErrInvalidArgument, maxExecutionCount))
			return
		}

		list, err := execs.Recent(r.Context(), n)
		if err != nil {
			writeError(w, r, storeError(err))
			return
		}
		if list == nil {
			list = []models.ReportExecution{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// ExecutionFileHandler streams the CSV attachment of one execution.
func ExecutionFileHandler(execs ExecutionReader, reports ReportRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid execution id", models.ErrInvalidArgument))
			return
		}

		exec, err := execs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, storeError(err))
			return
		}
		if exec.FileName == "" {
			writeError(w, r, fmt.Errorf("%w: execution %s has no file", models.ErrNotFound, id))
			return
		}

		path, err := reports.FilePath(exec.FileName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: report file %s", models.ErrNotFound, exec.FileName))
			return
		}
		defer f.Close()

		name := filepath.Base(path)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		modTime := exec.CreatedAt
		if exec.CompletedAt != nil {
			modTime = *exec.CompletedAt
		}
		http.ServeContent(w, r, name, modTime, f)
	}
}
