package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/marketplace/internal/domain/order"
)

// --- Mock implementations ---

type recordingChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Summary
	ctxs []context.Context
	// errs holds ctx.Err() as observed inside Send.
	errs []error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, s Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, s)
	c.ctxs = append(c.ctxs, ctx)
	c.errs = append(c.errs, ctx.Err())
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type blockingChannel struct{}

func (blockingChannel) Name() string { return "slow" }

func (blockingChannel) Send(ctx context.Context, _ Summary) error {
	<-ctx.Done()
	return ctx.Err()
}

type panickingChannel struct{}

func (panickingChannel) Name() string { return "broken" }

func (panickingChannel) Send(context.Context, Summary) error { panic("boom") }

// --- Helpers ---

func testOrder() *order.Order {
	return &order.Order{
		ID:            12,
		BuyerID:       7,
		BuyerUsername: "alice",
		CreatedAt:     time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		Status:        order.StatusPaid,
		PaymentMethod: order.PaymentCard,
		Delivery: order.Delivery{
			FullName:   "Alice <Admin>",
			Phone:      "+380501234567",
			Address:    "Khreshchatyk 1",
			City:       "Kyiv",
			PostalCode: "01001",
			Method:     order.DeliveryNovaPoshta,
			Department: "12",
			Comment:    "Call & wait",
		},
		Total: decimal.RequireFromString("380.00"),
		Items: []order.Item{
			{ProductID: "1", Title: "Mug", UnitPrice: decimal.RequireFromString("150.00"), Quantity: 2},
			{ProductID: "2", Title: "Tea", UnitPrice: decimal.RequireFromString("80.00"), Quantity: 1},
		},
	}
}

func waitDone(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

// --- Tests ---

func TestDispatcher_FansOutToAllChannels(t *testing.T) {
	email := &recordingChannel{name: "email"}
	chat := &recordingChannel{name: "chat"}
	d := NewDispatcher(time.Second, email, chat)

	d.OrderPlaced(context.Background(), testOrder())
	waitDone(t, d)

	require.Equal(t, 1, email.count())
	require.Equal(t, 1, chat.count())
	assert.Equal(t, int64(12), email.sent[0].OrderID)
	assert.Equal(t, []string{"email", "chat"}, d.Channels())
}

func TestDispatcher_FailureDoesNotAffectOtherChannels(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	failing := &recordingChannel{name: "email", err: errors.New("smtp down")}
	ok := &recordingChannel{name: "chat"}
	d := NewDispatcher(time.Second, failing, ok)

	d.OrderPlaced(ctx, testOrder())
	waitDone(t, d)

	assert.Equal(t, 1, ok.count())
	entries := logs.FilterMessage("Notification failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "email", entries[0].ContextMap()["channel"])
}

func TestDispatcher_IgnoresRequestCancellation(t *testing.T) {
	ch := &recordingChannel{name: "chat"}
	d := NewDispatcher(time.Second, ch)

	ctx, cancel := context.WithCancel(context.Background())
	d.OrderPlaced(ctx, testOrder())
	cancel()
	waitDone(t, d)

	require.Equal(t, 1, ch.count())
	assert.NoError(t, ch.errs[0])
	_, hasDeadline := ch.ctxs[0].Deadline()
	assert.True(t, hasDeadline)
}

func TestDispatcher_TimeoutBoundsSlowChannel(t *testing.T) {
	fast := &recordingChannel{name: "chat"}
	d := NewDispatcher(50*time.Millisecond, blockingChannel{}, fast)

	start := time.Now()
	d.OrderPlaced(context.Background(), testOrder())
	waitDone(t, d)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, fast.count())
}

func TestDispatcher_RecoversChannelPanic(t *testing.T) {
	ok := &recordingChannel{name: "chat"}
	d := NewDispatcher(time.Second, panickingChannel{}, ok)

	d.OrderPlaced(context.Background(), testOrder())
	waitDone(t, d)

	assert.Equal(t, 1, ok.count())
}

func TestDispatcher_NoChannels(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.OrderPlaced(context.Background(), testOrder())
	waitDone(t, d)
	assert.Empty(t, d.Channels())
}

func TestDispatcher_WaitHonorsContext(t *testing.T) {
	d := NewDispatcher(time.Minute, blockingChannel{})
	d.OrderPlaced(context.Background(), testOrder())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestSummary_PlainText(t *testing.T) {
	text := NewSummary(testOrder()).PlainText()

	for _, want := range []string{
		"New order #12",
		"Status: Paid",
		"Payment method: Card payment",
		"Delivery method: Nova Poshta",
		"Buyer: alice",
		"Address: Khreshchatyk 1, Kyiv, 01001",
		"- Mug x 2 = 300.00 UAH",
		"- Tea x 1 = 80.00 UAH",
		"Total: 380.00 UAH",
		"Buyer comment: Call & wait",
	} {
		assert.Contains(t, text, want)
	}
}

func TestSummary_HTMLEscapesUserInput(t *testing.T) {
	markup := NewSummary(testOrder()).HTML()

	assert.True(t, strings.HasPrefix(markup, "<b>New order #12</b>"))
	assert.Contains(t, markup, "Alice &lt;Admin&gt;")
	assert.Contains(t, markup, "<i>Call &amp; wait</i>")
	assert.NotContains(t, markup, "<Admin>")
	assert.Contains(t, markup, "<b>Total: 380.00 UAH</b>")
}

func TestSummary_OptionalFields(t *testing.T) {
	o := testOrder()
	o.Delivery.Comment = ""
	o.Delivery.Department = ""

	text := NewSummary(o).PlainText()
	assert.NotContains(t, text, "Buyer comment")
	assert.Contains(t, text, "Department: -")
	assert.Equal(t, "New order #12", NewSummary(o).Subject())
}
