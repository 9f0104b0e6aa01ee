package app

import (
	"encoding/json"
	"net/http"
	"time"
)

const maxRequestBody = 1 << 20

// writeJSON writes v with the given status. Encoding failures are not
// recoverable after the header is sent, so they are swallowed.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the REST error envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":       message,
		"status_code": status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"path":        r.URL.Path,
	})
}

// readJSON decodes the request body into dst, capped at 1 MiB.
func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	return dec.Decode(dst)
}
