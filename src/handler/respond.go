package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"orderengine/src/orders"
)

func decodeStrict(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// writeServiceError maps service errors onto HTTP statuses. Risk rejections
// carry their full verdict in the body so callers can adjust and retry.
func writeServiceError(w http.ResponseWriter, err error) {
	var validation *orders.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error()})
		return
	}

	var rejected *orders.RiskRejectedError
	if errors.As(err, &rejected) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":       "order rejected by risk checks",
			"reasons":     rejected.Reasons,
			"suggestions": rejected.Suggestions,
			"metrics":     rejected.Metrics,
		})
		return
	}

	switch {
	case errors.Is(err, orders.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, orders.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		logger.WithError(err).Error("request failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
