package webhook

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rappen/RappSack/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePluginError writes err with the status of its code.
func writePluginError(w http.ResponseWriter, err error) {
	if pe, ok := schema.AsPluginError(err); ok {
		writeJSON(w, StatusFor(pe.Code), map[string]any{"error": pe})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
