// Package orders turns rebalance decisions into limit orders and submits them.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/broker"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/strategy"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/util"
)

// ErrNothingToSubmit is returned for a no-op decision.
var ErrNothingToSubmit = errors.New("decision requires no order")

// DefaultSlippage is the marketable offset applied to the observed price.
const DefaultSlippage = 0.005

// Config contains configuration for the order submitter.
type Config struct {
	Symbol       string
	BuySlippage  float64
	SellSlippage float64
	DryRun       bool
}

// Submitter prices and places rebalance orders.
type Submitter struct {
	broker broker.Broker
	config Config
	logger logrus.FieldLogger
}

// Result is what was sent and what the venue answered.
type Result struct {
	Request  models.OrderRequest
	Response *broker.OrderResponse
	// Snapshot is the position read used to price the order.
	Snapshot models.Snapshot
	DryRun   bool
}

// TradeInfo summarises the result for reporting. The limit price is the one we
// computed, not whatever the venue echoes back.
func (r *Result) TradeInfo() *models.TradeInfo {
	if r == nil {
		return nil
	}
	info := &models.TradeInfo{
		Action:     r.Request.Side,
		Shares:     r.Request.Quantity,
		LimitPrice: r.Request.LimitPrice,
		DryRun:     r.DryRun,
	}
	if r.Response != nil {
		info.OrderID = r.Response.Data.Order.ID
		info.Status = r.Response.Data.Order.Status
	}
	return info
}

// NewSubmitter creates a new order submitter.
func NewSubmitter(b broker.Broker, config Config, logger logrus.FieldLogger) *Submitter {
	if b == nil {
		panic("orders.NewSubmitter: broker must not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.BuySlippage < 0 {
		config.BuySlippage = DefaultSlippage
	}
	if config.SellSlippage < 0 {
		config.SellSlippage = DefaultSlippage
	}
	return &Submitter{
		broker: b,
		config: config,
		logger: logger.WithField("symbol", config.Symbol),
	}
}

// Submit re-reads the price, builds a single-leg limit order for the decision
// and places it. The price may have moved since the decision was sized; the
// order is priced off the fresher read and the share count is not revisited.
// Failures are returned as-is with no retry.
func (s *Submitter) Submit(ctx context.Context, token string, decision models.Decision) (*Result, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}
	if decision.NoOp() {
		return nil, ErrNothingToSubmit
	}

	snap, err := broker.ReadPosition(ctx, s.broker, token, s.config.Symbol)
	if err != nil {
		return nil, fmt.Errorf("re-reading price: %w", err)
	}

	req, err := BuildRequest(s.config.Symbol, decision, snap.Price, s.config.BuySlippage, s.config.SellSlippage)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"side":        req.Side,
		"quantity":    req.Quantity,
		"limit_price": req.LimitPrice.StringFixed(util.CentsPlaces),
		"dry_run":     s.config.DryRun,
	})
	log.Info("Submitting order")

	resp, err := s.broker.PlaceOrder(ctx, token, broker.NewOrderPayload(req), s.config.DryRun)
	if err != nil {
		log.WithError(err).Error("Order submission failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"order_id": resp.Data.Order.ID,
		"status":   resp.Data.Order.Status,
	}).Info("Order accepted")
	for _, w := range resp.Data.Warnings {
		log.WithField("code", w.Code).Warn(w.Message)
	}

	return &Result{Request: req, Response: resp, Snapshot: snap, DryRun: s.config.DryRun}, nil
}

// BuildRequest prices a decision at the given observed price.
func BuildRequest(symbol string, decision models.Decision, price, buySlippage, sellSlippage float64) (models.OrderRequest, error) {
	if !(price > 0) {
		return models.OrderRequest{}, fmt.Errorf("%w: %v", strategy.ErrPriceUnavailable, price)
	}

	req := models.OrderRequest{
		Symbol:      symbol,
		Side:        decision.Action,
		Quantity:    decision.Shares,
		TimeInForce: models.TimeInForceDay,
	}
	switch decision.Action {
	case models.ActionBuy:
		req.LimitPrice = util.BuyLimit(price, buySlippage)
		req.VenueAction = models.VenueActionBuyToOpen
		req.PriceEffect = models.PriceEffectDebit
	case models.ActionSell:
		req.LimitPrice = util.SellLimit(price, sellSlippage)
		req.VenueAction = models.VenueActionSellToClose
		req.PriceEffect = models.PriceEffectCredit
	default:
		return models.OrderRequest{}, ErrNothingToSubmit
	}
	return req, nil
}
