// Package notify emails a position report after every run.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/broker"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/strategy"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/util"
)

// TokenSource yields a session token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Report is the outcome of one run.
type Report struct {
	RunID string
	Trade *models.TradeInfo
	Err   error
}

// Config contains the notifier settings.
type Config struct {
	Symbol           string
	TargetAllocation float64
	Environment      string
	From             string
	To               string
	Location         *time.Location
}

// Notifier builds and sends run reports.
type Notifier struct {
	tokens TokenSource
	broker broker.Broker
	mailer Mailer
	config Config
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewNotifier creates a notifier.
func NewNotifier(tokens TokenSource, b broker.Broker, mailer Mailer, config Config,
	logger logrus.FieldLogger) *Notifier {
	if tokens == nil || b == nil || mailer == nil {
		panic("notify.NewNotifier: dependencies must not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &Notifier{
		tokens: tokens,
		broker: b,
		mailer: mailer,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Notify re-reads the position and emails a report. It never fails: a failed
// position read is listed in the message, a failed delivery is only logged and
// a panic in either is recovered.
func (n *Notifier) Notify(ctx context.Context, report Report) {
	log := n.logger.WithField("run_id", report.RunID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Notifier panicked; report not sent")
		}
	}()

	snap, fetchErr := n.snapshot(ctx)
	msg := Message{
		From:    n.config.From,
		To:      n.config.To,
		Subject: n.Subject(report),
		Body:    n.Body(report, snap, fetchErr),
	}

	if err := n.mailer.Send(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to send email")
		return
	}
	log.Info("Email update sent successfully")
}

func (n *Notifier) snapshot(ctx context.Context) (models.Snapshot, error) {
	token, err := n.tokens.Token(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	return broker.ReadPosition(ctx, n.broker, token, n.config.Symbol)
}

// Subject is "<SYMBOL> Rebalancing Update", marked when the run failed.
func (n *Notifier) Subject(report Report) string {
	subject := n.config.Symbol + " Rebalancing Update"
	if report.Err != nil {
		subject += " - ERROR"
	}
	return subject
}

// Body renders the plain-text report.
func (n *Notifier) Body(report Report, snap models.Snapshot, fetchErr error) string {
	var b strings.Builder
	now := n.now().In(n.config.Location)
	fmt.Fprintf(&b, "%s Position Update - %s\n\n", n.config.Symbol, now.Format("2006-01-02 15:04:05 MST"))

	if fetchErr != nil {
		fmt.Fprintf(&b, "Current Position: unavailable (%v)\n", fetchErr)
	} else {
		b.WriteString("Current Position:\n")
		fmt.Fprintf(&b, "  Shares: %v\n", snap.Quantity)
		fmt.Fprintf(&b, "  Price: $%s\n", util.FormatMoney(snap.Price))
		fmt.Fprintf(&b, "  Position Value: $%s\n", util.FormatMoney(snap.Value()))
		fmt.Fprintf(&b, "  Unrealized P&L: $%s\n", util.FormatMoney(snap.UnrealizedPnL))
		fmt.Fprintf(&b, "  Target Allocation: $%s\n", util.FormatMoney(n.config.TargetAllocation))
		fmt.Fprintf(&b, "  Difference from Target: $%s\n", util.FormatMoney(
			strategy.Delta(snap.Quantity, snap.Price, n.config.TargetAllocation)))
	}

	if t := report.Trade; t != nil {
		if t.DryRun {
			b.WriteString("\nTrade Executed (dry run):\n")
		} else {
			b.WriteString("\nTrade Executed:\n")
		}
		fmt.Fprintf(&b, "  Action: %s\n", t.Action)
		fmt.Fprintf(&b, "  Shares: %d\n", t.Shares)
		fmt.Fprintf(&b, "  Limit Price: $%s\n", t.LimitPrice.StringFixed(util.CentsPlaces))
		if t.OrderID != 0 {
			fmt.Fprintf(&b, "  Order ID: %d\n", t.OrderID)
		}
		if t.Status != "" {
			fmt.Fprintf(&b, "  Status: %s\n", t.Status)
		}
	}

	if report.Err != nil {
		b.WriteString("\nERROR:\n")
		fmt.Fprintf(&b, "  %v\n", report.Err)
	}

	fmt.Fprintf(&b, "\nEnvironment: %s\n", n.config.Environment)
	if report.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", report.RunID)
	}
	return b.String()
}
