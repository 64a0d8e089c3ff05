package httpapi

import (
	"net/http"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "cdr-analytics", "version": Version})
	}
}
