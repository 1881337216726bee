package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/product"
)

const instrumentationName = "github.com/xenking/marketplace/internal/domain/order"

// PlaceOrderRequest holds the input for placing an order from a session cart.
// Delivery is expected to be validated by the caller.
type PlaceOrderRequest struct {
	Buyer          auth.Buyer
	Session        string
	Delivery       Delivery
	Payment        Payment
	IdempotencyKey string
}

// PlaceOrderResult holds the output of a checkout.
type PlaceOrderResult struct {
	Order *Order
	// Replayed is set when the idempotency key matched an existing order and
	// nothing new was created.
	Replayed bool
}

// Option configures a Service.
type Option func(*Service)

// WithMeterProvider records checkout counters on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider traces checkouts on tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithKeyFilter replaces the default idempotency key filter.
func WithKeyFilter(f *KeyFilter) Option {
	return func(s *Service) { s.keys = f }
}

// Service is the checkout engine: it turns a session cart into a persisted
// order and exposes the buyer's order history.
type Service struct {
	products product.Repository
	carts    cart.Store
	orders   Repository
	notifier Notifier

	locks *buyerLocks
	keys  *KeyFilter
	now   func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	placed         metric.Int64Counter
	failed         metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	carts cart.Store,
	orders Repository,
	notifier Notifier,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		products:       products,
		carts:          carts,
		orders:         orders,
		notifier:       notifier,
		locks:          newBuyerLocks(),
		now:            time.Now,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.keys == nil {
		s.keys = NewKeyFilter(100_000, 0.001)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("marketplace.orders.placed",
		metric.WithDescription("Orders created by checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	if s.failed, err = meter.Int64Counter("marketplace.checkout.failures",
		metric.WithDescription("Checkouts that did not create an order"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout failures counter")
	}
	return s, nil
}

// PlaceOrder validates the payment, resolves the session cart against the
// catalog, persists the order with its items in one write, removes the
// ordered items from the cart and hands the order to the notifier.
//
// On any error nothing is persisted and the cart keeps its contents.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "PlaceOrder",
		trace.WithAttributes(
			attribute.Int64("buyer.id", req.Buyer.ID),
			attribute.String("payment.method", string(req.Payment.Method)),
		),
	)
	defer span.End()

	res, err := s.placeOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("order.id", res.Order.ID),
		attribute.Bool("order.replayed", res.Replayed),
	)
	if !res.Replayed {
		s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment.method", string(res.Order.PaymentMethod))))
	}
	return res, nil
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if req.Buyer.ID == 0 {
		return nil, ErrBuyerRequired
	}
	if err := req.Payment.Validate(s.now()); err != nil {
		return nil, err
	}

	unlock, err := s.locks.lock(ctx, req.Buyer.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckoutInProgress, err)
	}
	defer unlock()

	key := req.IdempotencyKey
	if key != "" && s.keys.MayContain(req.Buyer.ID, key) {
		existing, err := s.orders.FindByIdempotencyKey(ctx, req.Buyer.ID, key)
		switch {
		case err == nil:
			return &PlaceOrderResult{Order: existing, Replayed: true}, nil
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("find order by idempotency key: %w", err)
		}
	}

	snapshot, err := s.carts.Snapshot(ctx, req.Session)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}

	items, total, err := s.resolve(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	o := &Order{
		BuyerID:        req.Buyer.ID,
		BuyerUsername:  req.Buyer.Username,
		Status:         req.Payment.Method.InitialStatus(),
		Delivery:       req.Delivery,
		PaymentMethod:  req.Payment.Method,
		Total:          total,
		Items:          items,
		IdempotencyKey: key,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if key != "" && errors.Is(err, ErrDuplicateKey) {
			existing, ferr := s.orders.FindByIdempotencyKey(ctx, req.Buyer.ID, key)
			if ferr != nil {
				return nil, fmt.Errorf("find order by idempotency key: %w", ferr)
			}
			s.keys.Add(req.Buyer.ID, key)
			return &PlaceOrderResult{Order: existing, Replayed: true}, nil
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	if key != "" {
		s.keys.Add(req.Buyer.ID, key)
	}

	lg := zctx.From(ctx)
	// Only the ordered units leave the cart; anything added since the
	// snapshot was taken stays for the next checkout.
	if err := s.carts.Subtract(ctx, req.Session, snapshot); err != nil {
		// The order is committed; a retry with the same key replays it.
		lg.Error("Clear cart after checkout",
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
	}

	lg.Info("Order placed",
		zap.Int64("order_id", o.ID),
		zap.Int64("buyer_id", o.BuyerID),
		zap.Int("items", len(o.Items)),
		zap.Stringer("total", o.Total),
		zap.String("status", string(o.Status)),
	)

	s.notifier.OrderPlaced(ctx, o)

	return &PlaceOrderResult{Order: o}, nil
}

// resolve prices every cart line at the current catalog price. A line whose
// product is gone aborts the whole checkout.
func (s *Service) resolve(ctx context.Context, snapshot cart.Snapshot) ([]Item, decimal.Decimal, error) {
	ids := snapshot.ProductIDs()
	if len(ids) == 0 {
		return []Item{}, decimal.Zero, nil
	}

	for _, id := range ids {
		if snapshot[id] <= 0 {
			return nil, decimal.Zero, &InvalidQuantityError{ProductID: id}
		}
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("get products: %w", err)
	}

	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, 0, len(ids))
	total := decimal.Zero
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, decimal.Zero, &ProductNotFoundError{ProductID: id}
		}
		item := Item{
			ProductID: id,
			Title:     p.Title,
			UnitPrice: p.Price,
			Quantity:  snapshot[id],
		}
		total = total.Add(item.Subtotal())
		items = append(items, item)
	}
	return items, total, nil
}

// ListOrders returns the buyer's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, buyer auth.Buyer) ([]Order, error) {
	if buyer.ID == 0 {
		return nil, ErrBuyerRequired
	}
	orders, err := s.orders.ListByBuyer(ctx, buyer.ID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetOrder returns one of the buyer's orders. Orders owned by someone else
// are reported as ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, buyer auth.Buyer, id int64) (*Order, error) {
	if buyer.ID == 0 {
		return nil, ErrBuyerRequired
	}
	o, err := s.orders.GetForBuyer(ctx, buyer.ID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// AdvanceStatus moves an order forward in its fulfillment lifecycle.
func (s *Service) AdvanceStatus(ctx context.Context, id int64, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	o, err := s.orders.AdvanceStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStatusRegression) {
			return nil, err
		}
		return nil, fmt.Errorf("advance order %d: %w", id, err)
	}
	return o, nil
}

func failureReason(err error) string {
	var (
		vErr  *ValidationError
		pnf   *ProductNotFoundError
		qtErr *InvalidQuantityError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &pnf), errors.As(err, &qtErr):
		return "resolution"
	case errors.Is(err, ErrCheckoutInProgress):
		return "busy"
	default:
		return "persistence"
	}
}
