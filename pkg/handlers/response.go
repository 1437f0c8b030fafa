package handlers

import (
	"encoding/json"
	"net/http"
)

// errorEnvelope is the API's failure shape: a stable machine-readable code
// plus human-oriented detail, e.g.
//
//	{"error": "invalid_filter", "message": "item id \"sex\" is not numeric"}
//
// The filter surface uses "invalid_filter" for rejected requests and
// "filter_failed" for everything else.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes an errorEnvelope with the given status.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, errorEnvelope{Error: errorCode, Message: message})
}

// WriteJSON writes data as JSON with the given status. Encoding failures are
// returned for the caller to log; the status line is already on the wire by
// then, so there is nothing else to do with them.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
