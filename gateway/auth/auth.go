package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// MaxBodyForSignature is the maximum body size hashed during verification.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	maxAllowedTimestampSkew  = 2 * time.Minute
	defaultTimestampSkew     = time.Minute
	maxNonceWindow           = 10 * time.Minute
	defaultNonceWindow       = maxNonceWindow
	defaultNonceCapacity     = 4096
	maxNonceCapacity         = 65536
	persistencePruneInterval = time.Minute
)

// Principal represents an authenticated consumer.
type Principal struct {
	ConsumerID string
}

// NonceRecord captures persisted nonce usage metadata.
type NonceRecord struct {
	ConsumerID string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence provides durable storage for nonce usage so a restart
// does not reopen the replay window.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// consumerLedger pairs a consumer's in-memory nonce ledger with the mutex
// that serialises its check-and-record step, including the optional
// persistence round trip. Striping by consumer keeps unrelated consumers
// fully concurrent.
type consumerLedger struct {
	mu  sync.Mutex
	mem *nonceLedger
}

// Authenticator verifies Hawk-signed requests: signature first, then
// timestamp freshness, then nonce uniqueness. Authentication strictly
// precedes any authorization decision made by callers.
type Authenticator struct {
	credentials          *CredentialStore
	allowedTimestampSkew time.Duration
	nonceTTL             time.Duration
	nonceCapacity        int
	nowFn                func() time.Time

	ledgerMu sync.Mutex
	ledgers  map[string]*consumerLedger

	persistence  NoncePersistence
	lastPrunedMu sync.Mutex
	lastPruned   time.Time
}

// Options tune the authenticator. Zero values fall back to the documented
// defaults; skew and window values are clamped to hard ceilings so a
// misconfigured deployment cannot open an arbitrarily wide replay window.
type Options struct {
	TimestampSkew time.Duration
	NonceTTL      time.Duration
	NonceCapacity int
	Now           func() time.Time
	Persistence   NoncePersistence
}

// NewAuthenticator builds an Authenticator over the provided credential store.
func NewAuthenticator(credentials *CredentialStore, opts Options) *Authenticator {
	if credentials == nil {
		credentials = NewCredentialStore(nil)
	}
	skew := opts.TimestampSkew
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	ttl := opts.NonceTTL
	if ttl <= 0 {
		ttl = defaultNonceWindow
	}
	if ttl > maxNonceWindow {
		ttl = maxNonceWindow
	}
	if ttl < 2*skew {
		ttl = 2 * skew
	}
	capacity := opts.NonceCapacity
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	if capacity > maxNonceCapacity {
		capacity = maxNonceCapacity
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Authenticator{
		credentials:          credentials,
		allowedTimestampSkew: skew,
		nonceTTL:             ttl,
		nonceCapacity:        capacity,
		nowFn:                nowFn,
		ledgers:              make(map[string]*consumerLedger),
		persistence:          opts.Persistence,
	}
}

// TimestampSkew returns the effective clock-skew window.
func (a *Authenticator) TimestampSkew() time.Duration {
	return a.allowedTimestampSkew
}

// Authenticate validates the Hawk header and signature on r, returning the
// caller principal. The nonce is recorded only after every other check has
// passed, so a request rejected or aborted earlier leaves no ledger trace.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Principal, error) {
	if len(body) > MaxBodyForSignature {
		return nil, reject(ReasonMalformedRequest, fmt.Sprintf("request body exceeds %d bytes", MaxBodyForSignature))
	}
	sigCtx, err := ParseRequest(r)
	if err != nil {
		return nil, err
	}
	secret, ok := a.credentials.Secret(sigCtx.ConsumerID)
	if !ok {
		return nil, reject(ReasonUnknownConsumer, "consumer not provisioned")
	}
	if sigCtx.Hash != "" {
		expected := PayloadHash(r.Header.Get("Content-Type"), body)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sigCtx.Hash)) != 1 {
			return nil, reject(ReasonBadSignature, "payload hash mismatch")
		}
	}
	if !VerifyMAC(secret, CanonicalString(sigCtx), sigCtx.MAC) {
		return nil, reject(ReasonBadSignature, "mac mismatch")
	}
	now := a.nowFn().UTC()
	skew := now.Sub(time.Unix(sigCtx.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.allowedTimestampSkew {
		return nil, reject(ReasonStaleTimestamp, fmt.Sprintf("timestamp outside allowed skew of %s", a.allowedTimestampSkew))
	}
	duplicate, err := a.registerNonce(r.Context(), sigCtx.ConsumerID, sigCtx.Nonce, now)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, reject(ReasonReplayDetected, "nonce already used")
	}
	return &Principal{ConsumerID: sigCtx.ConsumerID}, nil
}

// HydrateNonces warms the in-memory ledgers with persisted nonce usage.
func (a *Authenticator) HydrateNonces(ctx context.Context, cutoff time.Time) error {
	if a.persistence == nil {
		return nil
	}
	records, err := a.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if strings.TrimSpace(rec.ConsumerID) == "" || strings.TrimSpace(rec.Nonce) == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		a.ledger(rec.ConsumerID).mem.Record(rec.Nonce, observed)
	}
	return nil
}

func (a *Authenticator) registerNonce(ctx context.Context, consumerID, nonce string, now time.Time) (bool, error) {
	ledger := a.ledger(consumerID)
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.mem.Contains(nonce, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureNonce(ctx, NonceRecord{
			ConsumerID: consumerID,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			ledger.mem.Record(nonce, now)
			return true, nil
		}
	}
	ledger.mem.Record(nonce, now)
	return false, nil
}

func (a *Authenticator) prunePersistent(ctx context.Context, now time.Time) error {
	a.lastPrunedMu.Lock()
	defer a.lastPrunedMu.Unlock()
	if !a.lastPruned.IsZero() && now.Sub(a.lastPruned) < persistencePruneInterval {
		return nil
	}
	if err := a.persistence.PruneNonces(ctx, now.Add(-a.nonceTTL)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	a.lastPruned = now
	return nil
}

func (a *Authenticator) ledger(consumerID string) *consumerLedger {
	a.ledgerMu.Lock()
	defer a.ledgerMu.Unlock()
	ledger, ok := a.ledgers[consumerID]
	if ok {
		return ledger
	}
	ledger = &consumerLedger{mem: newNonceLedger(a.nonceTTL, a.nonceCapacity)}
	a.ledgers[consumerID] = ledger
	return ledger
}
