package auth

import (
	"container/list"
	"sync"
	"time"
)

// nonceLedger tracks the nonces one consumer has presented inside the replay
// window. Each consumer owns its own ledger so contention is striped by
// consumer; the ledger lock covers the check-and-record step, which is what
// makes exactly one of N concurrent identical nonces win.
type nonceLedger struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type ledgerEntry struct {
	nonce  string
	expiry time.Time
}

func newNonceLedger(ttl time.Duration, capacity int) *nonceLedger {
	if ttl <= 0 {
		ttl = defaultNonceWindow
	}
	if ttl > maxNonceWindow {
		ttl = maxNonceWindow
	}
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	if capacity > maxNonceCapacity {
		capacity = maxNonceCapacity
	}
	return &nonceLedger{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// CheckAndRecord atomically tests whether the nonce is already present and
// records it when new. Returns true when the nonce was seen before. Expired
// entries are pruned lazily on access.
func (n *nonceLedger) CheckAndRecord(nonce string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now)
	if _, exists := n.entries[nonce]; exists {
		return true
	}
	n.insertLocked(nonce, now)
	return false
}

// Contains reports whether the nonce is recorded without mutating the ledger.
func (n *nonceLedger) Contains(nonce string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now)
	_, exists := n.entries[nonce]
	return exists
}

// Record registers a nonce unconditionally, used when hydrating from
// persistent storage.
func (n *nonceLedger) Record(nonce string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now)
	n.insertLocked(nonce, now)
}

func (n *nonceLedger) insertLocked(nonce string, now time.Time) {
	if elem, exists := n.entries[nonce]; exists {
		elem.Value = ledgerEntry{nonce: nonce, expiry: now.Add(n.ttl)}
		n.order.MoveToBack(elem)
		return
	}
	for n.order.Len() >= n.capacity {
		n.evictFront()
	}
	elem := n.order.PushBack(ledgerEntry{nonce: nonce, expiry: now.Add(n.ttl)})
	n.entries[nonce] = elem
}

func (n *nonceLedger) evictExpired(now time.Time) {
	for {
		front := n.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(ledgerEntry)
		if entry.expiry.After(now) {
			return
		}
		n.order.Remove(front)
		delete(n.entries, entry.nonce)
	}
}

func (n *nonceLedger) evictFront() {
	front := n.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(ledgerEntry)
	n.order.Remove(front)
	delete(n.entries, entry.nonce)
}

func (n *nonceLedger) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.order.Len()
}
