package httpapi

import (
	"net/http"
)

// CDRQueryHandler serves one page of call records.
func CDRQueryHandler(pager RecordPager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r.URL.Query())
		if err != nil {
			writeError(w, r, err)
			return
		}

		page, err := pager.Page(r.Context(), f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}
