package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/broker"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
)

type fakeMailer struct {
	sent []Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type panickingMailer struct{}

func (panickingMailer) Send(context.Context, Message) error { panic("smtp client bug") }

type panickingTokens struct{}

func (panickingTokens) Token(context.Context) (string, error) { panic("token store bug") }

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) { return s.token, s.err }

type positionsBroker struct {
	items []broker.PositionItem
	err   error
	calls int
}

func (p *positionsBroker) Login(context.Context, string, string) (string, error) { return "", nil }

func (p *positionsBroker) GetPositions(context.Context, string) ([]broker.PositionItem, error) {
	p.calls++
	return p.items, p.err
}

func (p *positionsBroker) PlaceOrder(context.Context, string, broker.OrderPayload, bool) (*broker.OrderResponse, error) {
	return nil, errors.New("not used")
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestNotifier(tokens TokenSource, b broker.Broker, m Mailer) *Notifier {
	n := NewNotifier(tokens, b, m, Config{
		Symbol:           "TQQQ",
		TargetAllocation: 2000,
		Environment:      "sandbox",
		From:             "bot@example.com",
		To:               "me@example.com",
		Location:         time.UTC,
	}, quietLogger())
	n.now = func() time.Time { return time.Date(2025, 3, 31, 15, 45, 0, 0, time.UTC) }
	return n
}

func heldTQQQ() []broker.PositionItem {
	return []broker.PositionItem{{
		Symbol:            "TQQQ",
		Quantity:          10,
		QuantityDirection: broker.DirectionLong,
		AverageOpenPrice:  50,
		ClosePrice:        55,
		Multiplier:        1,
	}}
}

func TestNotify_SuccessWithTrade(t *testing.T) {
	b := &positionsBroker{items: heldTQQQ()}
	m := &fakeMailer{}
	n := newTestNotifier(staticTokens{token: "tok"}, b, m)

	n.Notify(context.Background(), Report{
		RunID: "run-1",
		Trade: &models.TradeInfo{
			Action:     models.ActionBuy,
			Shares:     20,
			LimitPrice: decimal.RequireFromString("100.5"),
			OrderID:    42,
			Status:     "Received",
		},
	})

	require.Len(t, m.sent, 1)
	msg := m.sent[0]
	assert.Equal(t, "TQQQ Rebalancing Update", msg.Subject)
	assert.Equal(t, "bot@example.com", msg.From)
	assert.Equal(t, "me@example.com", msg.To)
	for _, want := range []string{
		"TQQQ Position Update - 2025-03-31 15:45:00 UTC",
		"Shares: 10",
		"Price: $55.00",
		"Position Value: $550.00",
		"Unrealized P&L: $50.00",
		"Target Allocation: $2000.00",
		"Difference from Target: $-1450.00",
		"Trade Executed:",
		"Action: BUY",
		"Shares: 20",
		"Limit Price: $100.50",
		"Order ID: 42",
		"Environment: sandbox",
		"Run: run-1",
	} {
		assert.Contains(t, msg.Body, want)
	}
	assert.NotContains(t, msg.Body, "ERROR")
	assert.Equal(t, 1, b.calls, "position is always re-fetched")
}

func TestNotify_ErrorMarksSubject(t *testing.T) {
	m := &fakeMailer{}
	n := newTestNotifier(staticTokens{token: "tok"}, &positionsBroker{}, m)

	n.Notify(context.Background(), Report{Err: errors.New("authentication failed")})

	require.Len(t, m.sent, 1)
	assert.Equal(t, "TQQQ Rebalancing Update - ERROR", m.sent[0].Subject)
	assert.Contains(t, m.sent[0].Body, "ERROR:\n  authentication failed")
	assert.NotContains(t, m.sent[0].Body, "Trade Executed")
	assert.Contains(t, m.sent[0].Body, "Shares: 0", "absent instrument reports zero")
}

func TestNotify_FetchFailureStillSends(t *testing.T) {
	m := &fakeMailer{}
	n := newTestNotifier(staticTokens{err: errors.New("login rejected")}, &positionsBroker{}, m)

	n.Notify(context.Background(), Report{Err: errors.New("login rejected")})

	require.Len(t, m.sent, 1)
	assert.Contains(t, m.sent[0].Body, "Current Position: unavailable (login rejected)")
}

func TestNotify_DeliveryFailureIsSwallowed(t *testing.T) {
	m := &fakeMailer{err: errors.New("535 auth failed")}
	n := newTestNotifier(staticTokens{token: "tok"}, &positionsBroker{items: heldTQQQ()}, m)

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Report{})
	})
	assert.Len(t, m.sent, 1)
}

func TestNotify_PanicsAreRecovered(t *testing.T) {
	t.Run("mailer", func(t *testing.T) {
		n := newTestNotifier(staticTokens{token: "tok"}, &positionsBroker{items: heldTQQQ()}, panickingMailer{})
		assert.NotPanics(t, func() {
			n.Notify(context.Background(), Report{RunID: "run-1"})
		})
	})

	t.Run("position re-fetch", func(t *testing.T) {
		m := &fakeMailer{}
		n := newTestNotifier(panickingTokens{}, &positionsBroker{}, m)
		assert.NotPanics(t, func() {
			n.Notify(context.Background(), Report{RunID: "run-2"})
		})
		assert.Empty(t, m.sent)
	})
}

func TestBody_DryRunTrade(t *testing.T) {
	n := newTestNotifier(staticTokens{}, &positionsBroker{}, &fakeMailer{})
	body := n.Body(Report{Trade: &models.TradeInfo{Action: models.ActionSell, Shares: 2, DryRun: true}}, models.Snapshot{}, nil)
	assert.Contains(t, body, "Trade Executed (dry run):")
	assert.NotContains(t, body, "Order ID")
}

func TestEncode_NormalisesLineEndings(t *testing.T) {
	raw := string(encode(Message{From: "a@x", To: "b@x", Subject: "s", Body: "one\ntwo\r\nthree"}))
	assert.True(t, strings.HasPrefix(raw, "From: a@x\r\nTo: b@x\r\nSubject: s\r\n"))
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\none\r\ntwo\r\nthree"))
}

func TestNewSMTPMailer_Defaults(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"})
	assert.Equal(t, 587, m.cfg.Port)
	assert.Equal(t, 30*time.Second, m.cfg.Timeout)
}
