package handler

import (
	"net/http"

	logger "github.com/sirupsen/logrus"

	"orderengine/src/auth"
	"orderengine/src/orders"
	"orderengine/src/risk"
)

// GetRiskSettingsHandler returns the user's risk settings, creating the
// defaults on first access.
func GetRiskSettingsHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		settings, err := svc.GetRiskSettings(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

// UpdateRiskSettingsHandler replaces the user's risk settings.
func UpdateRiskSettingsHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		settings, err := svc.GetRiskSettings(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if err := decodeStrict(r, settings); err != nil {
			logger.WithError(err).Warn("invalid risk settings payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		settings.UserID = user.ID

		if err := svc.UpdateRiskSettings(r.Context(), settings); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

// ValidateOrderHandler runs the risk checks without creating an order.
func ValidateOrderHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req risk.ValidateOrderRequest
		if err := decodeStrict(r, &req); err != nil {
			logger.WithError(err).Warn("invalid validate order payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		req.UserID = user.ID

		verdict, err := svc.ValidateOrder(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}

// PositionSizeHandler returns the recommended position size for an entry.
func PositionSizeHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req risk.PositionSizeRequest
		if err := decodeStrict(r, &req); err != nil {
			logger.WithError(err).Warn("invalid position size payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		req.UserID = user.ID

		result, err := svc.CalculatePositionSize(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// StopLossScanHandler runs an on-demand stop-loss scan for the user.
func StopLossScanHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		triggered, err := svc.MonitorPositionsForStopLoss(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"triggered_position_ids": triggered})
	}
}
