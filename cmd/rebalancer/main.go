// Command rebalancer keeps a fixed dollar allocation in one equity on
// tastytrade, trading on the last trading day of each month.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/broker"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/calendar"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/config"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/logging"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/notify"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/orders"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/scheduler"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/session"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/status"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/storage"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/strategy"
)

func main() {
	var configPath string
	var once bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run one rebalance now, ignoring the schedule, then exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.New(logging.Options{Level: cfg.Environment.LogLevel, Dir: cfg.Logging.Dir})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	code := run(cfg, logger, once)
	_ = logFile.Close()
	os.Exit(code)
}

func run(cfg *config.Config, logger *logrus.Logger, once bool) int {
	entry := logger.WithFields(logrus.Fields{
		"environment": cfg.Environment.Mode,
		"symbol":      cfg.Strategy.Symbol,
	})
	entry.Infof("Starting %s rebalancer in %s mode (target $%.2f)",
		cfg.Strategy.Symbol, cfg.Environment.Mode, cfg.Strategy.TargetAllocation)
	if cfg.IsSandbox() {
		entry.Info("SANDBOX MODE - certification environment, no real money at risk")
	} else {
		entry.Warn("PRODUCTION MODE - real money at risk")
	}
	if cfg.Strategy.DryRun {
		entry.Info("Dry run enabled - orders are validated but not routed")
	}

	app, closer, err := build(cfg, entry)
	if err != nil {
		entry.WithError(err).Error("Failed to initialise")
		return 1
	}
	defer func() {
		if err := closer.Close(); err != nil {
			entry.WithError(err).Warn("Failed to close storage")
		}
	}()

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		entry.Info("Shutdown signal received, stopping rebalancer...")
		cancel()
	}()

	if once {
		if out := app.cycle.Run(ctx); out.Err != nil {
			return 1
		}
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if app.status != nil {
		g.Go(app.status.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return app.status.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		entry.WithError(err).Error("Rebalancer stopped with error")
		return 1
	}
	entry.Info("Rebalancer stopped successfully")
	return 0
}

type application struct {
	bot    *Bot
	cycle  *RebalanceCycle
	status *status.Server
}

// marketCalendar is the NYSE calendar plus any configured unscheduled closures.
func marketCalendar(cfg *config.Config) *calendar.NYSE {
	return calendar.NewNYSE(calendar.WithClosures(cfg.GetExtraClosures()...))
}

// build wires every component from configuration.
func build(cfg *config.Config, logger *logrus.Entry) (*application, io.Closer, error) {
	active := cfg.ActiveBroker()

	store, err := storage.NewStorage(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening token store: %w", err)
	}

	tasty := broker.NewTastytradeAPI(broker.Options{
		BaseURL:           active.BaseURL,
		AccountNumber:     active.AccountNumber,
		Sandbox:           cfg.IsSandbox(),
		Timeout:           cfg.GetClientTimeout(),
		RequestsPerSecond: cfg.BrokerClient.RequestsPerSecond,
		Logger:            logger.WithField("component", "broker"),
	})
	logger.WithField("base_url", tasty.BaseURL()).Info("Using tastytrade API")

	var api broker.Broker = tasty
	if cfg.CircuitBreakerEnabled() {
		api = broker.NewCircuitBreakerBroker(api, logger.WithField("component", "circuit_breaker"))
	}

	sessions := session.NewManager(api, store, session.Credentials{
		Environment: cfg.Environment.Mode,
		Login:       active.Login,
		Password:    active.Password,
	}, logger.WithField("component", "session"))

	rebalancer, err := strategy.NewRebalancer(cfg.Strategy.TargetAllocation)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	submitter := orders.NewSubmitter(api, orders.Config{
		Symbol:       cfg.Strategy.Symbol,
		BuySlippage:  cfg.GetBuySlippage(),
		SellSlippage: cfg.GetSellSlippage(),
		DryRun:       cfg.Strategy.DryRun,
	}, logger.WithField("component", "orders"))

	loc := cfg.Location()
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.Sender,
		Password: cfg.Email.SenderPassword,
	})
	notifier := notify.NewNotifier(sessions, api, mailer, notify.Config{
		Symbol:           cfg.Strategy.Symbol,
		TargetAllocation: rebalancer.Target(),
		Environment:      cfg.Environment.Mode,
		From:             cfg.Email.Sender,
		To:               cfg.Email.Receiver,
		Location:         loc,
	}, logger.WithField("component", "notify"))

	tracker := status.NewTracker()
	cycle := NewRebalanceCycle(sessions, api, rebalancer, submitter, notifier, tracker,
		cfg.Strategy.Symbol, logger)

	runAt, err := scheduler.ParseTimeOfDay(cfg.Schedule.RunAt)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	trigger := scheduler.NewTrigger(runAt, loc, cfg.GetPollInterval(), scheduler.RealClock,
		logger.WithField("component", "scheduler"))
	gate := scheduler.NewGate(marketCalendar(cfg), loc)

	app := &application{
		bot:   NewBot(trigger, gate, cycle, tracker, logger),
		cycle: cycle,
	}
	if cfg.Status.Enabled {
		app.status = status.NewServer(status.Config{Port: cfg.Status.Port, AuthToken: cfg.Status.AuthToken},
			tracker, status.Info{
				Environment:      cfg.Environment.Mode,
				Symbol:           cfg.Strategy.Symbol,
				TargetAllocation: rebalancer.Target(),
				DryRun:           cfg.Strategy.DryRun,
			}, logger.WithField("component", "status"))
	}
	return app, store, nil
}
