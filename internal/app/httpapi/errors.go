package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeDecodeError maps a request body decoding failure to its HTTP status:
// 413 when the body exceeded the configured limit, 400 otherwise.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

// writeServiceError maps an apperr.Kind to the status codes fixed by the
// error taxonomy and writes the response.
func writeServiceError(w http.ResponseWriter, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	switch kind {
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, err)
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, err)
	case apperr.KindConflict:
		writeError(w, http.StatusBadRequest, err)
	case apperr.KindStale:
		writeError(w, http.StatusConflict, err)
	case apperr.KindVerificationFailed:
		writeError(w, http.StatusUnprocessableEntity, err)
	case apperr.KindIntegrity:
		writeError(w, http.StatusUnprocessableEntity, err)
	case apperr.KindTransient:
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
