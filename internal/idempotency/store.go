// Package idempotency remembers channel receipts by idempotency key so a repeated
// send is answered without reaching the channel again.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// Store records the first successful receipt for a key.
type Store interface {
	Get(ctx context.Context, key string) (domain.DeliveryReceipt, bool, error)
	Put(ctx context.Context, key string, receipt domain.DeliveryReceipt) error
}

type entry struct {
	key      string
	receipt  domain.DeliveryReceipt
	storedAt time.Time
}

// MemoryStore is a bounded in-process store. Once capacity is exceeded the oldest
// record is evicted. Records older than ttl are treated as absent.
type MemoryStore struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	order   *list.List
	entries map[string]*list.Element
}

// NewMemoryStore constructs a MemoryStore. A non-positive ttl disables expiry.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (domain.DeliveryReceipt, bool, error) {
	s.mu.RLock()
	el, ok := s.entries[key]
	var e entry
	if ok {
		e = *el.Value.(*entry)
	}
	s.mu.RUnlock()

	if !ok || s.expired(e) {
		return domain.DeliveryReceipt{}, false, nil
	}
	return e.receipt, true, nil
}

// Put implements Store. The first receipt stored for a key wins.
func (s *MemoryStore) Put(_ context.Context, key string, receipt domain.DeliveryReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		if !s.expired(*el.Value.(*entry)) {
			return nil
		}
		s.order.Remove(el)
		delete(s.entries, key)
	}

	s.entries[key] = s.order.PushBack(&entry{key: key, receipt: receipt, storedAt: s.now()})
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*entry).key)
	}
	return nil
}

// Len returns the number of records held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}

func (s *MemoryStore) expired(e entry) bool {
	return s.ttl > 0 && s.now().Sub(e.storedAt) >= s.ttl
}
