package handler

import (
	"net/http"

	"orderengine/src/auth"
	"orderengine/src/orders"
	"orderengine/src/repository"
)

// SearchPositionsHandler lists positions for the authenticated user.
func SearchPositionsHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		opts := repository.PositionSearchOptions{UserID: user.ID}
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			opts.Symbol = &symbolParam
		}
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			opts.Status = &statusParam
		}

		limit, offset, err := pagination(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Limit = limit
		opts.Offset = offset

		result, err := svc.GetPositions(r.Context(), opts)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// OpenPositionsHandler lists the user's open positions.
func OpenPositionsHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		result, err := svc.GetOpenPositions(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// GetPositionHandler returns one position owned by the user.
func GetPositionHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		positionID, err := idParam(r, "positionID")
		if err != nil {
			http.Error(w, "invalid position id", http.StatusBadRequest)
			return
		}

		position, err := svc.GetPosition(r.Context(), user.ID, positionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, position)
	}
}

// UpdatePositionPriceHandler re-fetches the ticker for a position and
// recomputes its unrealized P&L.
func UpdatePositionPriceHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		positionID, err := idParam(r, "positionID")
		if err != nil {
			http.Error(w, "invalid position id", http.StatusBadRequest)
			return
		}

		position, err := svc.UpdatePositionPrice(r.Context(), user.ID, positionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, position)
	}
}
