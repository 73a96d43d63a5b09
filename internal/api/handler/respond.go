package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"message": msg})
}

func respondText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// decodeJSON reads a JSON request body into v. Unknown fields are accepted
// so clients may send extras such as the purchase form's amount.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise. Provider and
// broker failures never expose the underlying cause.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrInvalidPhone),
		errors.Is(err, domain.ErrInvalidPayload):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRecipientRejected):
		respondError(w, http.StatusUnprocessableEntity, domain.ErrRecipientRejected.Error())
	case errors.Is(err, domain.ErrProvider):
		respondError(w, http.StatusBadGateway, "upstream provider request failed")
	case errors.Is(err, domain.ErrQueueFull),
		errors.Is(err, domain.ErrBrokerConnection):
		respondError(w, http.StatusServiceUnavailable, "service temporarily unavailable, try again later")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
