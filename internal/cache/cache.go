// Package cache is the content-addressed response cache:
// entries keyed by hash(mode, input, type), stored through the KV capability
// contract, with quantized-embedding comparison metadata passed through
// opaquely for a similarity-check extension the core never runs itself.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/model"
)

// Namespace is the KV namespace all response-cache entries live under.
const Namespace = "llm_response_cache"

// Key derives the content-addressed cache key from (mode, input, type).
func Key(mode, input string, cacheType model.CacheType) string {
	sum := md5.Sum([]byte(mode + "\x1f" + input + "\x1f" + string(cacheType)))
	return hex.EncodeToString(sum[:])
}

// Store wraps a KVStore with the enable_llm_cache gate. A nil *Store behaves
// like a disabled cache, so callers never need nil checks.
type Store struct {
	kv      storage.KVStore
	enabled bool
	logger  *slog.Logger
}

// New builds a Store. enabled mirrors Config.EnableLLMCache.
func New(kv storage.KVStore, enabled bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, enabled: enabled, logger: logger}
}

// Enabled reports whether cache writes (and reads) are active.
func (s *Store) Enabled() bool {
	return s != nil && s.enabled && s.kv != nil
}

// Get looks up key. Any lookup failure is non-fatal and treated as a miss.
func (s *Store) Get(ctx context.Context, key string) (*model.CacheEntry, bool) {
	if !s.Enabled() {
		return nil, false
	}
	data, ok, err := s.kv.Get(ctx, Namespace, key)
	if err != nil {
		s.logger.Debug("cache: lookup failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	entry, err := entryFromMap(data)
	if err != nil {
		s.logger.Debug("cache: undecodable entry, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return entry, true
}

// Save writes entry under key. Writes for the same key are last-writer-wins
// and idempotent for identical content. A disabled cache is a
// no-op, never an error.
func (s *Store) Save(ctx context.Context, key string, entry *model.CacheEntry) error {
	if !s.Enabled() {
		return nil
	}
	data, err := entryToMap(entry)
	if err != nil {
		return err
	}
	return s.kv.Upsert(ctx, Namespace, map[string]map[string]any{key: data})
}

// GetOrCompute returns the cached content for (mode, input, cacheType), or
// calls compute and caches its result. Used by every cached LLM call site.
func (s *Store) GetOrCompute(ctx context.Context, mode, input string, cacheType model.CacheType, compute func(ctx context.Context) (string, error)) (string, error) {
	key := Key(mode, input, cacheType)
	if entry, ok := s.Get(ctx, key); ok {
		return entry.Content, nil
	}
	content, err := compute(ctx)
	if err != nil {
		return "", err
	}
	if err := s.Save(ctx, key, &model.CacheEntry{
		Content:   content,
		Prompt:    input,
		Mode:      mode,
		CacheType: cacheType,
	}); err != nil {
		s.logger.Debug("cache: save failed", "key", key, "error", err)
	}
	return content, nil
}

func entryToMap(entry *model.CacheEntry) (map[string]any, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func entryFromMap(data map[string]any) (*model.CacheEntry, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	entry := &model.CacheEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
