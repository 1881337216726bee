// Package notify delivers best-effort order notifications.
//
// The Dispatcher fans a placed order out to every configured Channel in the
// background. Channel failures are logged and never reach the buyer.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/order"
)

// Channel is a single notification destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, s Summary) error
}

var _ order.Notifier = (*Dispatcher)(nil)

// Dispatcher implements order.Notifier over a set of channels.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher returns a Dispatcher that gives each notification timeout to
// reach all channels. With no channels it does nothing.
func NewDispatcher(timeout time.Duration, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, timeout: timeout}
}

// Channels returns the names of the enabled channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// OrderPlaced starts delivery in the background and returns immediately.
// Delivery outlives the request: cancellation of ctx is ignored, its values
// (logger, trace) are kept.
func (d *Dispatcher) OrderPlaced(ctx context.Context, o *order.Order) {
	if len(d.channels) == 0 {
		return
	}
	s := NewSummary(o)
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(ctx, s)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, s Summary) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	lg := zctx.From(ctx).With(zap.Int64("order_id", s.OrderID))

	var g errgroup.Group
	for _, ch := range d.channels {
		g.Go(func() error {
			start := time.Now()
			if err := send(ctx, ch, s); err != nil {
				lg.Warn("Notification failed",
					zap.String("channel", ch.Name()),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
				return nil
			}
			lg.Debug("Notification sent",
				zap.String("channel", ch.Name()),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		})
	}
	_ = g.Wait()
}

// send shields the dispatcher from a panicking channel.
func send(ctx context.Context, ch Channel, s Summary) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("channel panic: %v", rec)
		}
	}()
	return ch.Send(ctx, s)
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
