package handler

import (
	"net/http"

	"orderengine/src/auth"
	"orderengine/src/orders"
	"orderengine/src/repository"
)

// SearchTradesHandler lists trades for the authenticated user. Supports
// pagination and filters (symbol, executedFrom, executedTo).
func SearchTradesHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		opts := repository.TradeSearchOptions{UserID: user.ID}
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			opts.Symbol = &symbolParam
		}

		var parseErr error
		opts.ExecutedAfter, parseErr = parseTimeParam(r, "executedFrom")
		if parseErr != nil {
			http.Error(w, "invalid executedFrom", http.StatusBadRequest)
			return
		}
		opts.ExecutedBefore, parseErr = parseTimeParam(r, "executedTo")
		if parseErr != nil {
			http.Error(w, "invalid executedTo", http.StatusBadRequest)
			return
		}

		limit, offset, err := pagination(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Limit = limit
		opts.Offset = offset

		result, err := svc.GetTrades(r.Context(), opts)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
