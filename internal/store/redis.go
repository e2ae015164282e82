package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

// missMarker is cached for spread rows that do not exist so repeated
// lookups of an unpriced spread stay off the primary.
const missMarker = "-"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertSpreadRows(ctx context.Context, rows []model.SpreadRow) error {
	if err := s.primary.UpsertSpreadRows(ctx, rows); err != nil {
		return err
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = spreadCacheKey(r.Spread, r.SpreadType)
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) CreateContest(ctx context.Context, c *model.Contest) error {
	if err := s.primary.CreateContest(ctx, c); err != nil {
		return err
	}
	s.cacheContest(ctx, c)
	return nil
}

func (s *CachedStore) ClaimContest(ctx context.Context, id, claimerUserID string) error {
	err := s.primary.ClaimContest(ctx, id, claimerUserID)
	// Invalidate on failure too: ErrNotOpen means the cached copy is stale.
	s.rdb.Del(ctx, contestKey(id))
	return err
}

func (s *CachedStore) SettleContest(ctx context.Context, st *model.Settlement) error {
	err := s.primary.SettleContest(ctx, st)
	s.rdb.Del(ctx, contestKey(st.ContestID))
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) SpreadRow(ctx context.Context, spread decimal.Decimal, tier model.SpreadType) (model.SpreadRow, bool, error) {
	key := spreadCacheKey(spread, tier)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		if string(data) == missMarker {
			return model.SpreadRow{}, false, nil
		}
		var r model.SpreadRow
		if json.Unmarshal(data, &r) == nil {
			return r, true, nil
		}
	}

	// Cache miss: read from primary.
	r, ok, err := s.primary.SpreadRow(ctx, spread, tier)
	if err != nil {
		return model.SpreadRow{}, false, err
	}
	if !ok {
		s.rdb.Set(ctx, key, missMarker, s.ttl)
		return r, false, nil
	}
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return r, true, nil
}

func (s *CachedStore) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	data, err := s.rdb.Get(ctx, contestKey(id)).Bytes()
	if err == nil {
		var c model.Contest
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheContest(ctx, c)
	return c, nil
}

// --- Passthrough (not cached) ---

// Settlement scans always read the primary so a batch never acts on a
// stale ended flag.
func (s *CachedStore) ListUnsettled(ctx context.Context, statuses ...model.ContestStatus) ([]model.Contest, error) {
	return s.primary.ListUnsettled(ctx, statuses...)
}

func (s *CachedStore) ListUnsettledByPlayers(ctx context.Context, playerIDs []string) ([]model.Contest, error) {
	return s.primary.ListUnsettledByPlayers(ctx, playerIDs)
}

func (s *CachedStore) ListGainsByContest(ctx context.Context, contestID string) ([]model.Gain, error) {
	return s.primary.ListGainsByContest(ctx, contestID)
}

func (s *CachedStore) ListGainsByUser(ctx context.Context, userID string) ([]model.Gain, error) {
	return s.primary.ListGainsByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheContest(ctx context.Context, c *model.Contest) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, contestKey(c.ID), data, s.ttl)
	}
}

func contestKey(id string) string { return fmt.Sprintf("contest:%s", id) }

func spreadCacheKey(spread decimal.Decimal, tier model.SpreadType) string {
	return fmt.Sprintf("spread:%s:%s", tier, spread.StringFixed(1))
}
