package httpserver

import (
	"errors"
	"net/http"

	"estatehub/internal/domain"
	"estatehub/internal/service"
)

// writeError maps domain sentinels to status codes. Unknown errors are
// reported as 500 without their details.
func writeError(w http.ResponseWriter, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, service.ErrBadCredentials):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrNotAParticipant):
		status, msg = http.StatusForbidden, domain.ErrNotAParticipant.Error()
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrConflict):
		status, msg = http.StatusConflict, domain.ErrConflict.Error()
	case errors.Is(err, domain.ErrSendFailed):
		msg = domain.ErrSendFailed.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
