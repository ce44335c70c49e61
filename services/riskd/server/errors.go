package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"lendcore/native/comptroller"
)

type problem struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, problem{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps a comptroller failure to the HTTP status returned to the
// caller.
func statusFor(err error) int {
	if errors.Is(err, comptroller.ErrNotInitialized) {
		return http.StatusServiceUnavailable
	}
	var cerr *comptroller.Error
	if !errors.As(err, &cerr) {
		return http.StatusInternalServerError
	}
	switch cerr.Code {
	case comptroller.Paused:
		return http.StatusLocked
	case comptroller.Unauthorized:
		return http.StatusForbidden
	case comptroller.NotListed:
		return http.StatusNotFound
	case comptroller.AlreadyListed:
		return http.StatusConflict
	case comptroller.PriceUnavailable, comptroller.SnapshotUnavailable:
		return http.StatusServiceUnavailable
	case comptroller.InvalidParameter:
		return http.StatusBadRequest
	}
	if cerr.Fatal {
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := problem{Error: comptroller.CodeOf(err).String(), Message: err.Error(), Fatal: comptroller.IsFatal(err)}
	if errors.Is(err, comptroller.ErrNotInitialized) {
		body.Error = "not_initialized"
		body.Fatal = false
	}
	writeJSON(w, status, body)
}
