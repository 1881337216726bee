package order

import (
	"context"
	"sync"
)

// buyerLocks serializes checkouts per buyer within one process so that two
// concurrent submissions cannot both consume the same cart snapshot.
type buyerLocks struct {
	mu    sync.Mutex
	locks map[int64]*buyerLock
}

type buyerLock struct {
	sem  chan struct{}
	refs int
}

func newBuyerLocks() *buyerLocks {
	return &buyerLocks{locks: make(map[int64]*buyerLock)}
}

// lock blocks until the buyer's lock is held or ctx is done. The returned
// func releases it.
func (l *buyerLocks) lock(ctx context.Context, buyerID int64) (func(), error) {
	l.mu.Lock()
	bl, ok := l.locks[buyerID]
	if !ok {
		bl = &buyerLock{sem: make(chan struct{}, 1)}
		l.locks[buyerID] = bl
	}
	bl.refs++
	l.mu.Unlock()

	select {
	case bl.sem <- struct{}{}:
		return func() {
			<-bl.sem
			l.release(buyerID, bl)
		}, nil
	case <-ctx.Done():
		l.release(buyerID, bl)
		return nil, ctx.Err()
	}
}

func (l *buyerLocks) release(buyerID int64, bl *buyerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bl.refs--
	if bl.refs == 0 {
		delete(l.locks, buyerID)
	}
}
