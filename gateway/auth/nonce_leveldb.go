package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	nonceKeyPrefix    = "nonce:"
	observedKeyPrefix = "observed:"
)

// LevelDBNoncePersistence provides a LevelDB-backed NoncePersistence
// implementation. Entries are indexed twice: by (consumer, nonce) for the
// replay check, and by observation time for windowed pruning without a full
// scan.
type LevelDBNoncePersistence struct {
	db *leveldb.DB
}

// NewLevelDBNoncePersistence opens (or creates) a LevelDB database at the
// provided path.
func NewLevelDBNoncePersistence(path string) (*LevelDBNoncePersistence, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb nonce persistence path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb nonce path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb nonce store: %w", err)
	}
	return &LevelDBNoncePersistence{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (p *LevelDBNoncePersistence) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// EnsureNonce records a nonce usage if it has not been observed previously.
// It returns true when the (consumer, nonce) pair already existed.
func (p *LevelDBNoncePersistence) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	if p == nil || p.db == nil {
		return false, fmt.Errorf("leveldb persistence not configured")
	}
	consumerID := strings.TrimSpace(record.ConsumerID)
	nonce := strings.TrimSpace(record.Nonce)
	if consumerID == "" || nonce == "" {
		return false, fmt.Errorf("nonce record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	composite := compositeKey(consumerID, nonce)
	nonceKey := []byte(nonceKeyPrefix + composite)
	_, err := p.db.Get(nonceKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		// Not found: insert new entry.
	case err != nil:
		return false, fmt.Errorf("load nonce: %w", err)
	default:
		return true, nil
	}

	batch := new(leveldb.Batch)
	nanos := observed.UnixNano()
	batch.Put(nonceKey, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, composite)), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return false, nil
}

// RecentNonces returns persisted nonces observed at or after the cutoff.
func (p *LevelDBNoncePersistence) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	if p == nil || p.db == nil {
		return nil, fmt.Errorf("leveldb persistence not configured")
	}
	cutoffKey := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := p.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	records := make([]NonceRecord, 0)
	for ok := iter.Seek(cutoffKey); ok; ok = iter.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		composite, nanos, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		consumerID, nonce, found := strings.Cut(composite, "|")
		if !found {
			continue
		}
		records = append(records, NonceRecord{
			ConsumerID: consumerID,
			Nonce:      nonce,
			ObservedAt: time.Unix(0, nanos).UTC(),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate observed nonces: %w", err)
	}
	return records, nil
}

// PruneNonces deletes entries observed before the provided cutoff time.
func (p *LevelDBNoncePersistence) PruneNonces(ctx context.Context, cutoff time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("leveldb persistence not configured")
	}
	cutoffKey := observedKey(cutoff.UTC().UnixNano(), "")
	iter := p.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if string(iter.Key()) >= cutoffKey {
			break
		}
		composite, _, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(nonceKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate observed nonces: %w", err)
	}
	if batch.Len() > 0 {
		if err := p.db.Write(batch, nil); err != nil {
			return fmt.Errorf("prune nonces: %w", err)
		}
	}
	return nil
}

func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, int64, bool) {
	raw := strings.TrimPrefix(string(key), observedKeyPrefix)
	tsPart, composite, found := strings.Cut(raw, ":")
	if !found {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return composite, nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}

func compositeKey(consumerID, nonce string) string {
	return consumerID + "|" + nonce
}
