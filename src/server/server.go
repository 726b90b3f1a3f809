package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/auth"
	"orderengine/src/handler"
	"orderengine/src/orders"
	"orderengine/src/repository"
)

// NewRouter mounts the API. Everything under /api requires a bearer token.
func NewRouter(svc *orders.Service, users *repository.GormUserRepository, credentials *repository.ExchangeCredentialRepository) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Post("/register", handler.RegisterUserHandler(users))
	r.Post("/login", handler.LoginHandler(users))

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.BearerMiddleware(users))

		api.Post("/orders", handler.CreateOrderHandler(svc))
		api.Get("/orders", handler.SearchOrdersHandler(svc))
		api.Get("/orders/open", handler.OpenOrdersHandler(svc))
		api.Get("/orders/{orderID}", handler.GetOrderHandler(svc))
		api.Delete("/orders/{orderID}", handler.CancelOrderHandler(svc))

		api.Get("/positions", handler.SearchPositionsHandler(svc))
		api.Get("/positions/open", handler.OpenPositionsHandler(svc))
		api.Get("/positions/{positionID}", handler.GetPositionHandler(svc))
		api.Post("/positions/{positionID}/price", handler.UpdatePositionPriceHandler(svc))

		api.Get("/trades", handler.SearchTradesHandler(svc))

		api.Get("/risk/settings", handler.GetRiskSettingsHandler(svc))
		api.Put("/risk/settings", handler.UpdateRiskSettingsHandler(svc))
		api.Post("/risk/validate", handler.ValidateOrderHandler(svc))
		api.Post("/risk/position-size", handler.PositionSizeHandler(svc))
		api.Post("/risk/stop-loss-scan", handler.StopLossScanHandler(svc))

		api.Put("/credentials", handler.SetExchangeCredentialsHandler(credentials))
	})

	return r
}

// StartServer serves the router until SIGINT or SIGTERM, then shuts down
// gracefully.
func StartServer(port string, router http.Handler) {
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
