package errors

import (
	"encoding/json"
	"net/http"
)

// WriteError renders err as the JSON error envelope. Unknown errors are
// reported as INTERNAL_ERROR without leaking their text.
func WriteError(w http.ResponseWriter, err error) error {
	appErr := AsAppError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())
	return json.NewEncoder(w).Encode(appErr.Envelope())
}
