package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"orderengine/src/connectors"
	"orderengine/src/database"
	"orderengine/src/events"
	"orderengine/src/executors"
	"orderengine/src/ledger"
	"orderengine/src/orders"
	"orderengine/src/repository"
	"orderengine/src/risk"
	"orderengine/src/security"
	"orderengine/src/server"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Order Engine CMD"
	app.Usage = "The order execution engine command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		workerCMD,
		monitorCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run API server with embedded execution workers",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the HTTP API plus the execution worker pool and monitor loops`,
	}
	workerCMD = cli.Command{
		Name:        "worker",
		Usage:       "run execution workers only",
		Action:      workerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the execution worker pool, fill detection and stop-loss monitor`,
	}
	monitorCMD = cli.Command{
		Name:        "monitor",
		Usage:       "run fill detection and stop-loss monitor loops only",
		Action:      monitorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the polling loops without accepting new work`,
	}
)

// stack bundles everything a command may need to run.
type stack struct {
	service     *orders.Service
	queue       *executors.Queue
	worker      *executors.Worker
	engine      *risk.Engine
	feed        *connectors.TickerFeed
	users       *repository.GormUserRepository
	credentials *repository.ExchangeCredentialRepository
	positions   *repository.PositionRepository
	execConfig  executors.Config
}

func buildStack(ctx context.Context) (*stack, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	config := connectors.GetConfig()
	execConfig := executors.GetConfig()

	users := repository.NewUserRepository()
	credentials := repository.NewExchangeCredentialRepository()

	apiKey, apiSecret, err := resolveCredentials(ctx, users, credentials, config)
	if err != nil {
		return nil, err
	}

	client := connectors.NewRestClient(apiKey, apiSecret, config)
	feed := connectors.NewTickerFeed(config.WebsocketURL, config.FeedSymbols)
	tickers := connectors.NewFallbackTickerSource(feed, client, connectors.NewGoexTickerSource())

	sink := events.NewLogSink()

	orderRepo := repository.NewOrderRepository()
	positionRepo := repository.NewPositionRepository()
	tradeRepo := repository.NewTradeRepository()
	settingsRepo := repository.NewRiskSettingsRepository()
	equityRepo := repository.NewEquitySnapshotRepository()

	engine := risk.NewEngine(settingsRepo, positionRepo, tradeRepo, equityRepo, client)
	positionLedger := ledger.NewLedger(positionRepo, tradeRepo, tickers, sink)
	worker := executors.NewWorker(orderRepo, tradeRepo, positionLedger, client, sink,
		decimal.NewFromFloat(config.TakerFeeRate)).
		WithExceptionStore(repository.NewExceptionRepository())
	queue := executors.NewQueue(worker, execConfig)

	service := orders.NewService(orderRepo, positionRepo, tradeRepo, settingsRepo,
		engine, positionLedger, tickers, queue, worker, sink)

	return &stack{
		service:     service,
		queue:       queue,
		worker:      worker,
		engine:      engine,
		feed:        feed,
		users:       users,
		credentials: credentials,
		positions:   positionRepo,
		execConfig:  execConfig,
	}, nil
}

// resolveCredentials prefers environment keys; with EXCHANGE_CREDENTIALS_USER
// set it decrypts the stored pair for that account instead.
func resolveCredentials(ctx context.Context, users *repository.GormUserRepository, credentials *repository.ExchangeCredentialRepository, config connectors.Config) (string, string, error) {
	if config.APIKey != "" && config.APISecret != "" {
		return config.APIKey, config.APISecret, nil
	}
	if config.CredentialsUser == "" {
		logrus.Warn("no exchange credentials configured, market data only")
		return "", "", nil
	}

	user, err := users.GetUserByUsername(ctx, config.CredentialsUser)
	if err != nil {
		return "", "", err
	}
	if user == nil {
		return "", "", errors.New("credentials user not found")
	}

	cred, err := credentials.GetByUser(ctx, user.ID)
	if err != nil {
		return "", "", err
	}
	if cred == nil {
		return "", "", errors.New("no exchange credentials stored for user")
	}

	apiKey, err := security.DecryptString(cred.APIKeyHash)
	if err != nil {
		logrus.WithError(err).Error("Failed to decrypt API Key")
		return "", "", err
	}
	apiSecret, err := security.DecryptString(cred.APISecretHash)
	if err != nil {
		logrus.WithError(err).Error("Failed to decrypt API Secret")
		return "", "", err
	}
	return apiKey, apiSecret, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func startLoops(ctx context.Context, s *stack) {
	go s.feed.Run(ctx)
	go s.worker.RunFillDetectionLoop(ctx, s.execConfig.FillPollPeriod)
	go s.worker.RunStopLossMonitorLoop(ctx, s.engine, s.positions, s.execConfig.StopLossPollPeriod)
}

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting server CMD")

	ctx, cancel := signalContext()
	defer cancel()

	s, err := buildStack(ctx)
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	go s.queue.Run(ctx)
	startLoops(ctx, s)

	router := server.NewRouter(s.service, s.users, s.credentials)
	server.StartServer(server.GetConfig().Port, router)
	return nil
}

func workerAction(_ *cli.Context) error {
	logrus.Info("Starting worker CMD")

	ctx, cancel := signalContext()
	defer cancel()

	s, err := buildStack(ctx)
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	startLoops(ctx, s)
	s.queue.Run(ctx)
	return nil
}

func monitorAction(_ *cli.Context) error {
	logrus.Info("Starting monitor CMD")

	ctx, cancel := signalContext()
	defer cancel()

	s, err := buildStack(ctx)
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	startLoops(ctx, s)
	<-ctx.Done()
	return nil
}
