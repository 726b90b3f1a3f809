package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/auth"
	"orderengine/src/orders"
	"orderengine/src/repository"
)

// CreateOrderHandler accepts an order intent, runs it through the risk gate
// and enqueues it for execution.
func CreateOrderHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req orders.CreateOrderRequest
		if err := decodeStrict(r, &req); err != nil {
			logger.WithError(err).Warn("invalid create order payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		order, err := svc.CreateOrder(r.Context(), user.ID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
	}
}

// SearchOrdersHandler lists orders for the authenticated user. Supports
// pagination and filters (symbol, status, createdFrom, createdTo).
func SearchOrdersHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		opts := repository.OrderSearchOptions{UserID: user.ID}

		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			opts.Symbol = &symbolParam
		}
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			opts.Status = &statusParam
		}

		var parseErr error
		opts.CreatedAfter, parseErr = parseTimeParam(r, "createdFrom")
		if parseErr != nil {
			http.Error(w, "invalid createdFrom", http.StatusBadRequest)
			return
		}
		opts.CreatedBefore, parseErr = parseTimeParam(r, "createdTo")
		if parseErr != nil {
			http.Error(w, "invalid createdTo", http.StatusBadRequest)
			return
		}

		limit, offset, err := pagination(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Limit = limit
		opts.Offset = offset

		result, err := svc.GetOrders(r.Context(), opts)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// OpenOrdersHandler lists the user's orders still in an active status.
func OpenOrdersHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		result, err := svc.GetOpenOrders(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// GetOrderHandler returns one order owned by the user.
func GetOrderHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := idParam(r, "orderID")
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := svc.GetOrder(r.Context(), user.ID, orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// CancelOrderHandler cancels an active order owned by the user.
func CancelOrderHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := idParam(r, "orderID")
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := svc.CancelOrder(r.Context(), user.ID, orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func idParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	page := 1
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		parsedPage, err := strconv.Atoi(pageParam)
		if err != nil || parsedPage <= 0 {
			return 0, 0, strconvError("page")
		}
		page = parsedPage
	}

	pageSize := 20
	if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
		parsedSize, err := strconv.Atoi(sizeParam)
		if err != nil || parsedSize <= 0 {
			return 0, 0, strconvError("pageSize")
		}
		pageSize = parsedSize
	}

	return pageSize, (page - 1) * pageSize, nil
}

type strconvError string

func (e strconvError) Error() string { return "invalid " + string(e) }
