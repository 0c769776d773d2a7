package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

func writeError(w http.ResponseWriter, status int, message string) {
	writeReason(w, status, message, "")
}

// writeReason writes an error body. A non-empty reason is a stable code the
// storefront switches on.
func writeReason(w http.ResponseWriter, status int, message, reason string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	if reason != "" {
		e.FieldStart("reason")
		e.Str(reason)
	}
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
