package order

import (
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// KeyFilter remembers idempotency keys seen by this process. A negative
// answer lets checkout skip the repository lookup; a positive answer may be
// false and is always confirmed against the repository. Keys used before a
// restart are not remembered, so the repository's unique constraint remains
// the source of truth.
type KeyFilter struct {
	mu sync.RWMutex
	f  *bloom.BloomFilter
}

// NewKeyFilter sizes the filter for capacity keys at the given false positive rate.
func NewKeyFilter(capacity uint, falsePositive float64) *KeyFilter {
	return &KeyFilter{f: bloom.NewWithEstimates(capacity, falsePositive)}
}

// Add records key for buyerID.
func (k *KeyFilter) Add(buyerID int64, key string) {
	k.mu.Lock()
	k.f.AddString(filterKey(buyerID, key))
	k.mu.Unlock()
}

// MayContain reports whether key may have been used by buyerID.
func (k *KeyFilter) MayContain(buyerID int64, key string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.f.TestString(filterKey(buyerID, key))
}

func filterKey(buyerID int64, key string) string {
	return strconv.FormatInt(buyerID, 10) + ":" + key
}
