// Command integration exercises the rebalancer against the tastytrade
// certification environment, placing only dry-run orders.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/broker"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/calendar"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/config"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/orders"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/scheduler"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/session"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/storage"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/strategy"
)

type check struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	fmt.Println("=== Rebalancer - Sandbox Integration Test ===")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure we're in sandbox mode for safety
	if !cfg.IsSandbox() {
		log.Fatalf("Integration tests must run in sandbox mode. Set environment.mode: 'sandbox' in config.yaml")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)

	tmpDir, err := os.MkdirTemp("", "rebalancer-e2e-")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.WithError(err).Warn("Failed to cleanup test storage")
		}
	}()

	store, err := storage.NewStorage(cfg.Storage.Backend, filepath.Join(tmpDir, "session"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	active := cfg.ActiveBroker()
	api := broker.NewTastytradeAPI(broker.Options{
		BaseURL:           active.BaseURL,
		AccountNumber:     active.AccountNumber,
		Sandbox:           true, // force sandbox for integration tests
		Timeout:           cfg.GetClientTimeout(),
		RequestsPerSecond: cfg.BrokerClient.RequestsPerSecond,
		Logger:            logger,
	})
	sessions := session.NewManager(api, store, session.Credentials{
		Environment: cfg.Environment.Mode,
		Login:       active.Login,
		Password:    active.Password,
	}, logger)
	rebalancer, err := strategy.NewRebalancer(cfg.Strategy.TargetAllocation)
	if err != nil {
		log.Fatalf("Invalid strategy: %v", err)
	}
	submitter := orders.NewSubmitter(api, orders.Config{
		Symbol:       cfg.Strategy.Symbol,
		BuySlippage:  cfg.GetBuySlippage(),
		SellSlippage: cfg.GetSellSlippage(),
		DryRun:       true, // never route real orders from here
	}, logger)

	fmt.Println("All components initialized successfully")
	fmt.Println()

	var (
		token    string
		snapshot models.Snapshot
		decision models.Decision
	)

	checks := []check{
		{"Authentication", func(ctx context.Context) error {
			t, err := sessions.Token(ctx)
			if err != nil {
				return err
			}
			token = t
			return nil
		}},
		{"Token cache reuse", func(ctx context.Context) error {
			t, err := sessions.Token(ctx)
			if err != nil {
				return err
			}
			if t != token {
				return errors.New("second call returned a different token")
			}
			return nil
		}},
		{"Position read", func(ctx context.Context) error {
			s, err := broker.ReadPosition(ctx, api, token, cfg.Strategy.Symbol)
			if err != nil {
				return err
			}
			snapshot = s
			logger.Infof("%s: qty=%v price=%.2f value=%.2f pnl=%.2f",
				s.Symbol, s.Quantity, s.Price, s.Value(), s.UnrealizedPnL)
			return nil
		}},
		{"Rebalance decision", func(ctx context.Context) error {
			d, err := rebalancer.Decide(snapshot.Quantity, snapshot.Price)
			if errors.Is(err, strategy.ErrPriceUnavailable) {
				logger.Warn("Instrument not held in sandbox account, no price to size with; sizing skipped")
				return nil
			}
			if err != nil {
				return err
			}
			decision = d
			logger.Infof("Decision: %s", d)
			return nil
		}},
		{"Order dry-run", func(ctx context.Context) error {
			d := decision
			if d.NoOp() {
				// exercise the order path even when no trade is needed
				d = models.Decision{Action: models.ActionBuy, Shares: 1}
			}
			if snapshot.Price <= 0 {
				logger.Warn("No price available, skipping order dry-run")
				return nil
			}
			res, err := submitter.Submit(ctx, token, d)
			if err != nil {
				return err
			}
			logger.Infof("Dry-run accepted: %s @ %s status=%s", d,
				res.Request.LimitPrice.StringFixed(2), res.Response.Data.Order.Status)
			return nil
		}},
		{"Schedule gate", func(ctx context.Context) error {
			gate := scheduler.NewGate(calendar.NewNYSE(), cfg.Location())
			logger.Infof("Today is last trading day of month: %v", gate.IsLastTradingDay(time.Now()))
			return nil
		}},
	}

	passed := 0
	for i, c := range checks {
		fmt.Printf("Test %d: %s\n", i+1, c.name)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.run(ctx)
		cancel()
		if err != nil {
			logger.WithError(err).Error("Check failed")
			fmt.Println("FAILED")
		} else {
			fmt.Println("PASSED")
			passed++
		}
		fmt.Println()
	}

	fmt.Println("=== Integration Test Results ===")
	fmt.Printf("Tests Passed: %d/%d\n", passed, len(checks))
	if passed != len(checks) {
		fmt.Printf("%d test(s) failed - review issues before production\n", len(checks)-passed)
		os.Exit(1)
	}
	fmt.Println("ALL TESTS PASSED")
}
