// Package events publishes order events to Kafka.
package events

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/marketplace/internal/notify"
)

// TypeOrderPlaced is the event_type header of order events.
const TypeOrderPlaced = "order.placed"

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a writer keyed by order id so that all events of one
// order land in the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

var _ notify.Channel = (*Publisher)(nil)

// Publisher is a notify.Channel that emits an order.placed event.
type Publisher struct {
	w Writer
}

// New creates a Publisher over w.
func New(w Writer) *Publisher {
	return &Publisher{w: w}
}

func (p *Publisher) Name() string { return "events" }

// Send publishes the summary as an order.placed event.
func (p *Publisher) Send(ctx context.Context, s notify.Summary) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(s.OrderID, 10)),
		Value: encodeOrderPlaced(s),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeOrderPlaced)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "publish order event")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func encodeOrderPlaced(s notify.Summary) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(TypeOrderPlaced) })
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(s.OrderID) })
		e.Field("buyer_id", func(e *jx.Encoder) { e.Int64(s.BuyerID) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(s.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(s.Status)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(s.PaymentMethod)) })
		e.Field("delivery_method", func(e *jx.Encoder) { e.Str(string(s.DeliveryMethod)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(s.Total.StringFixed(2)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range s.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(l.UnitPrice.StringFixed(2)) })
					})
				}
			})
		})
	})
	return e.Bytes()
}
