package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chw/followup/internal/domain/followup"
	"github.com/chw/followup/internal/platform/feed"
)

const keyPrefix = "followup:result:"

// Fingerprint identifies a run by everything that determines its result: the
// feed snapshot, the reference date, the options and the vocabulary.
func Fingerprint(b *feed.Bundle, ref time.Time, opts followup.Options, vocab *followup.Vocabulary) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	parts := []interface{}{
		followup.DateOf(ref).Format("2006-01-02"),
		opts,
		vocab.Digest(),
		b,
	}
	for _, p := range parts {
		if err := enc.Encode(p); err != nil {
			return "", fmt.Errorf("fingerprint: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Cache stores run results by fingerprint.
type Cache struct {
	kv  KVStore
	ttl time.Duration
}

func New(kv KVStore, ttl time.Duration) *Cache {
	return &Cache{kv: kv, ttl: ttl}
}

// Get returns the cached result for a fingerprint, or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*followup.Result, error) {
	raw, err := c.kv.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		return nil, err
	}
	var res followup.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &res, nil
}

// Put caches a result under its fingerprint.
func (c *Cache) Put(ctx context.Context, fingerprint string, res *followup.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := c.kv.Set(ctx, keyPrefix+fingerprint, string(data), c.ttl); err != nil {
		return fmt.Errorf("cache result: %w", err)
	}
	return nil
}
