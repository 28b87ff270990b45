package slipstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"lunara-sentinel/internal/logging"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix        = "trade:"
	quarantinePrefix = "trade:quarantine:"
)

// Store keeps encrypted trade slips in Redis with an in-process fallback
// cache. A Redis outage degrades the store instead of failing it: writes
// land in the fallback and are flushed back once Redis answers again.
type Store struct {
	primary  backend
	fallback *memoryBackend
	box      *cipherBox
	log      zerolog.Logger

	mu       sync.Mutex
	degraded bool
}

// New builds a store over the given Redis client. An empty secret is a
// configuration error (ErrNoEncryptionKey).
func New(client *redis.Client, secret string) (*Store, error) {
	return newWithBackend(&redisBackend{client: client}, secret)
}

func newWithBackend(primary backend, secret string) (*Store, error) {
	box, err := newCipherBox(secret)
	if err != nil {
		return nil, err
	}
	return &Store{
		primary:  primary,
		fallback: newMemoryBackend(),
		box:      box,
		log:      logging.Component("slipstore"),
	}, nil
}

func slipKey(tradeID string) string { return keyPrefix + tradeID }

func fragmentKey(tradeID, field string) string {
	return keyPrefix + tradeID + ":" + field
}

// tradeKeyPatterns matches exactly one trade's keys: the whole record and
// its fragments. A bare "trade:<id>*" would also sweep up every trade
// whose id merely starts with the same digits.
func tradeKeyPatterns(tradeID string) []string {
	return []string{slipKey(tradeID), slipKey(tradeID) + ":*"}
}

// write stores into the primary, absorbing backend failures into the
// fallback cache so slip creation survives a Redis outage.
func (s *Store) write(ctx context.Context, key, value string) {
	if err := s.primary.Set(ctx, key, value); err != nil {
		s.markDegraded(err)
		_ = s.fallback.Set(ctx, key, value)
		return
	}
	s.markHealthy(ctx)
}

// read consults the primary first, then the fallback. The only error it
// returns is errNotFound; backend failures degrade the store silently.
func (s *Store) read(ctx context.Context, key string) (string, error) {
	v, err := s.primary.Get(ctx, key)
	if err == nil {
		s.markHealthy(ctx)
		return v, nil
	}
	if errors.Is(err, errNotFound) {
		return s.fallback.Get(ctx, key)
	}
	s.markDegraded(err)
	return s.fallback.Get(ctx, key)
}

func (s *Store) markDegraded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		s.degraded = true
		s.log.Error().Err(err).Msg("redis unavailable, slip store degraded to local cache")
	}
}

// markHealthy flushes fallback entries back to the primary after an outage.
// Entries that fail to flush are restored so nothing is lost.
func (s *Store) markHealthy(ctx context.Context) {
	s.mu.Lock()
	if !s.degraded {
		s.mu.Unlock()
		return
	}
	s.degraded = false
	s.mu.Unlock()

	pending := s.fallback.drain()
	flushed := 0
	for k, v := range pending {
		if err := s.primary.Set(ctx, k, v); err != nil {
			s.markDegraded(err)
			_ = s.fallback.Set(ctx, k, v)
			continue
		}
		flushed++
	}
	if flushed > 0 {
		s.log.Info().Int("count", flushed).Msg("flushed cached slips back to redis")
	}
}

// Create encrypts and stores a slip as a single whole record. The legacy
// per-field layout is read-side only: older records are still reconciled
// on Get and List, but new slips never perpetuate it.
func (s *Store) Create(ctx context.Context, slip *Slip) error {
	payload, err := json.Marshal(slip)
	if err != nil {
		return fmt.Errorf("slipstore: marshal slip %s: %w", slip.TradeID, err)
	}

	whole, err := s.box.encrypt(payload)
	if err != nil {
		return err
	}
	s.write(ctx, slipKey(slip.TradeID), whole)

	s.log.Debug().Str("trade_id", slip.TradeID).Str("symbol", slip.Symbol).Msg("slip stored")
	return nil
}

// Get returns the slip for a trade, or (nil, nil) when it is absent or
// unreadable. A record that fails to decrypt is logged and treated as
// absent; it never aborts the caller.
func (s *Store) Get(ctx context.Context, tradeID string) (*Slip, error) {
	if v, err := s.read(ctx, slipKey(tradeID)); err == nil {
		plaintext, err := s.box.decrypt(v)
		if err != nil {
			s.log.Warn().Str("key", slipKey(tradeID)).Msg("slip record failed to decrypt")
			return nil, nil
		}
		slip, err := slipFromRecord(tradeID, plaintext)
		if err != nil {
			s.log.Warn().Str("key", slipKey(tradeID)).Err(err).Msg("slip record malformed")
			return nil, nil
		}
		return slip, nil
	}

	// Legacy layout: independent field keys.
	fields := make(map[string]string)
	for _, field := range []string{fieldData, fieldStatus, fieldQuantity} {
		v, err := s.read(ctx, fragmentKey(tradeID, field))
		if err != nil {
			continue
		}
		plaintext, err := s.box.decrypt(v)
		if err != nil {
			s.log.Warn().Str("key", fragmentKey(tradeID, field)).Msg("slip fragment failed to decrypt")
			continue
		}
		fields[field] = string(plaintext)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	slip, err := slipFromFragments(tradeID, fields)
	if err != nil {
		return nil, nil
	}
	return slip, nil
}

// Delete removes the whole record and every per-field key for the trade.
func (s *Store) Delete(ctx context.Context, tradeID string) error {
	for _, pattern := range tradeKeyPatterns(tradeID) {
		keys, err := s.primary.Keys(ctx, pattern)
		if err != nil {
			s.markDegraded(err)
		} else if len(keys) > 0 {
			if err := s.primary.Del(ctx, keys...); err != nil {
				s.markDegraded(err)
			}
		}

		fbKeys, _ := s.fallback.Keys(ctx, pattern)
		_ = s.fallback.Del(ctx, fbKeys...)
	}

	s.log.Debug().Str("trade_id", tradeID).Msg("slip deleted")
	return nil
}

// List returns every readable slip plus the key names of records that
// could not be decrypted, so operator tooling can quarantine them. One
// garbled record never hides the rest.
func (s *Store) List(ctx context.Context) ([]*Slip, []string, error) {
	keys, err := s.primary.Keys(ctx, keyPrefix+"*")
	if err != nil {
		s.markDegraded(err)
		keys = nil
	}
	fbKeys, _ := s.fallback.Keys(ctx, keyPrefix+"*")
	keys = mergeKeys(keys, fbKeys)

	type group struct {
		whole     string
		hasWhole  bool
		fragments map[string]string
	}
	groups := make(map[string]*group)
	var unreadable []string

	for _, key := range keys {
		if strings.HasPrefix(key, quarantinePrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, keyPrefix)
		id, field, isFragment := strings.Cut(rest, ":")

		g := groups[id]
		if g == nil {
			g = &group{fragments: make(map[string]string)}
			groups[id] = g
		}

		v, err := s.read(ctx, key)
		if err != nil {
			continue
		}
		if isFragment {
			g.fragments[field] = v
		} else {
			g.whole, g.hasWhole = v, true
		}
	}

	var slips []*Slip
	for id, g := range groups {
		if g.hasWhole {
			plaintext, err := s.box.decrypt(g.whole)
			if err != nil {
				s.log.Warn().Str("key", slipKey(id)).Msg("skipping undecryptable slip")
				unreadable = append(unreadable, slipKey(id))
				continue
			}
			slip, err := slipFromRecord(id, plaintext)
			if err != nil {
				s.log.Warn().Str("key", slipKey(id)).Err(err).Msg("skipping malformed slip")
				unreadable = append(unreadable, slipKey(id))
				continue
			}
			slips = append(slips, slip)
			continue
		}

		fields := make(map[string]string, len(g.fragments))
		for field, v := range g.fragments {
			plaintext, err := s.box.decrypt(v)
			if err != nil {
				s.log.Warn().Str("key", fragmentKey(id, field)).Msg("skipping undecryptable slip fragment")
				unreadable = append(unreadable, fragmentKey(id, field))
				continue
			}
			fields[field] = string(plaintext)
		}
		if len(fields) == 0 {
			continue
		}
		slip, err := slipFromFragments(id, fields)
		if err != nil {
			continue
		}
		slips = append(slips, slip)
	}

	sort.Slice(slips, func(i, j int) bool { return slips[i].TradeID < slips[j].TradeID })
	sort.Strings(unreadable)
	return slips, unreadable, nil
}

// Quarantine moves a trade's keys under the quarantine prefix so they stop
// appearing in listings but remain available for inspection.
func (s *Store) Quarantine(ctx context.Context, tradeID string) error {
	moved := 0
	for _, pattern := range tradeKeyPatterns(tradeID) {
		keys, err := s.primary.Keys(ctx, pattern)
		if err != nil {
			return fmt.Errorf("slipstore: quarantine scan for %s: %w", tradeID, err)
		}
		for _, key := range keys {
			dest := quarantinePrefix + strings.TrimPrefix(key, keyPrefix)
			if err := s.primary.Rename(ctx, key, dest); err != nil {
				return fmt.Errorf("slipstore: quarantine %s: %w", key, err)
			}
			moved++
		}
	}
	s.log.Info().Str("trade_id", tradeID).Int("keys", moved).Msg("slip quarantined")
	return nil
}

// Purge deletes a trade's keys outright.
func (s *Store) Purge(ctx context.Context, tradeID string) error {
	return s.Delete(ctx, tradeID)
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, keys := range [][]string{a, b} {
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
