package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/broker"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/notify"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/orders"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/status"
)

// Run results.
const (
	ResultTraded = "traded"
	ResultNoOp   = "no-op"
	ResultFailed = "failed"
)

const (
	defaultRunTimeout    = 2 * time.Minute
	defaultNotifyTimeout = time.Minute
)

// TokenSource hands out session tokens and can forget a rejected one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate() error
}

// Decider sizes a trade.
type Decider interface {
	Decide(quantity, price float64) (models.Decision, error)
}

// OrderSubmitter places a decision.
type OrderSubmitter interface {
	Submit(ctx context.Context, token string, decision models.Decision) (*orders.Result, error)
}

// Reporter sends the end-of-run report. It must not fail.
type Reporter interface {
	Notify(ctx context.Context, report notify.Report)
}

// Outcome describes one run.
type Outcome struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Snapshot   models.Snapshot
	Decision   models.Decision
	Trade      *models.TradeInfo
	Err        error
}

// Result classifies the outcome.
func (o Outcome) Result() string {
	switch {
	case o.Err != nil:
		return ResultFailed
	case o.Trade != nil:
		return ResultTraded
	default:
		return ResultNoOp
	}
}

// Status converts the outcome for the status endpoint.
func (o Outcome) Status() status.RunStatus {
	s := status.RunStatus{
		RunID:      o.RunID,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
		Result:     o.Result(),
		Trade:      o.Trade,
	}
	if o.Decision.Action != "" {
		s.Decision = o.Decision.String()
	}
	if o.Err != nil {
		s.Error = o.Err.Error()
	}
	return s
}

// RebalanceCycle runs session → position → decision → order → report.
type RebalanceCycle struct {
	session   TokenSource
	broker    broker.Broker
	decider   Decider
	submitter OrderSubmitter
	reporter  Reporter
	tracker   *status.Tracker
	symbol    string
	logger    logrus.FieldLogger

	runTimeout    time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
}

// NewRebalanceCycle wires a cycle. tracker may be nil.
func NewRebalanceCycle(session TokenSource, b broker.Broker, decider Decider, submitter OrderSubmitter,
	reporter Reporter, tracker *status.Tracker, symbol string, logger logrus.FieldLogger) *RebalanceCycle {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RebalanceCycle{
		session:       session,
		broker:        b,
		decider:       decider,
		submitter:     submitter,
		reporter:      reporter,
		tracker:       tracker,
		symbol:        symbol,
		logger:        logger,
		runTimeout:    defaultRunTimeout,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
}

// Run executes one rebalance. Every path, including a panic, ends in exactly
// one report.
func (c *RebalanceCycle) Run(ctx context.Context) (out Outcome) {
	out = Outcome{RunID: uuid.NewString(), StartedAt: c.now()}
	log := c.logger.WithField("run_id", out.RunID)
	log.Info("Starting rebalance")

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("unexpected failure: %v", r)
			log.WithField("stack", string(debug.Stack())).Errorf("Recovered from panic: %v", r)
		}
		out.FinishedAt = c.now()
		c.finish(ctx, log, out)
	}()

	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()
	c.rebalance(runCtx, log, &out)
	return out
}

func (c *RebalanceCycle) rebalance(ctx context.Context, log logrus.FieldLogger, out *Outcome) {
	token, err := c.session.Token(ctx)
	if err != nil {
		out.Err = fmt.Errorf("obtaining session token: %w", err)
		return
	}

	snap, err := broker.ReadPosition(ctx, c.broker, token, c.symbol)
	if err != nil {
		c.invalidateOnUnauthorized(log, err)
		out.Err = fmt.Errorf("reading %s position: %w", c.symbol, err)
		return
	}
	out.Snapshot = snap
	log.WithFields(logrus.Fields{
		"quantity": snap.Quantity,
		"price":    snap.Price,
		"value":    snap.Value(),
	}).Info("Current position")

	decision, err := c.decider.Decide(snap.Quantity, snap.Price)
	if err != nil {
		out.Err = fmt.Errorf("sizing rebalance: %w", err)
		return
	}
	out.Decision = decision
	if decision.NoOp() {
		log.Info("No rebalancing needed")
		return
	}

	log.WithFields(logrus.Fields{"action": decision.Action, "shares": decision.Shares}).Info("Rebalance required")
	res, err := c.submitter.Submit(ctx, token, decision)
	if err != nil {
		c.invalidateOnUnauthorized(log, err)
		out.Err = fmt.Errorf("submitting %s: %w", decision, err)
		return
	}
	out.Trade = res.TradeInfo()
}

func (c *RebalanceCycle) finish(ctx context.Context, log logrus.FieldLogger, out Outcome) {
	fields := logrus.Fields{"result": out.Result(), "duration": out.FinishedAt.Sub(out.StartedAt).String()}
	if out.Err != nil {
		log.WithFields(fields).WithError(out.Err).Error("Rebalance failed")
	} else {
		log.WithFields(fields).Info("Rebalance complete")
	}

	if c.tracker != nil {
		c.tracker.Record(out.Status())
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Reporter panicked")
		}
	}()

	// the run context may already be spent; the report still goes out
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
	defer cancel()
	c.reporter.Notify(notifyCtx, notify.Report{RunID: out.RunID, Trade: out.Trade, Err: out.Err})
}

// invalidateOnUnauthorized drops the cached token when the venue rejected it,
// so the next run logs in again instead of reusing it.
func (c *RebalanceCycle) invalidateOnUnauthorized(log logrus.FieldLogger, err error) {
	var apiErr *broker.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return
	}
	if ierr := c.session.Invalidate(); ierr != nil {
		log.WithError(ierr).Warn("Failed to invalidate session token")
		return
	}
	log.Warn("Session token rejected, cached token invalidated")
}
