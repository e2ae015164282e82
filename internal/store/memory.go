package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	spreads  map[string]model.SpreadRow
	contests map[string]*model.Contest
	ledger   []model.Gain
	gainKeys map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spreads:  make(map[string]model.SpreadRow),
		contests: make(map[string]*model.Contest),
		gainKeys: make(map[string]struct{}),
	}
}

func (s *MemoryStore) SpreadRow(_ context.Context, spread decimal.Decimal, tier model.SpreadType) (model.SpreadRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.spreads[spreadKey(spread, tier)]
	return r, ok, nil
}

func (s *MemoryStore) UpsertSpreadRows(_ context.Context, rows []model.SpreadRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.spreads[spreadKey(r.Spread, r.SpreadType)] = r
	}
	return nil
}

func (s *MemoryStore) CreateContest(_ context.Context, c *model.Contest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contests[c.ID]; exists {
		return fmt.Errorf("contest %s already exists", c.ID)
	}
	s.contests[c.ID] = cloneContest(c)
	return nil
}

func (s *MemoryStore) GetContest(_ context.Context, id string) (*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contests[id]
	if !ok {
		return nil, fmt.Errorf("contest %s: %w", id, ErrNotFound)
	}
	return cloneContest(c), nil
}

func (s *MemoryStore) ClaimContest(_ context.Context, id, claimerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contests[id]
	if !ok {
		return fmt.Errorf("contest %s: %w", id, ErrNotFound)
	}
	if c.Status != model.StatusOpen || c.Ended {
		return fmt.Errorf("contest %s: %w", id, ErrNotOpen)
	}
	c.Claimer.UserID = claimerUserID
	c.Status = model.StatusMatched
	return nil
}

func (s *MemoryStore) ListUnsettled(_ context.Context, statuses ...model.ContestStatus) ([]model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[model.ContestStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []model.Contest
	for _, c := range s.contests {
		if c.Ended || !want[c.Status] {
			continue
		}
		out = append(out, *cloneContest(c))
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) ListUnsettledByPlayers(_ context.Context, playerIDs []string) ([]model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{}, len(playerIDs))
	for _, id := range playerIDs {
		ids[id] = struct{}{}
	}
	var out []model.Contest
	for _, c := range s.contests {
		if c.Ended {
			continue
		}
		for _, p := range c.Roster {
			if _, ok := ids[p.PlayerID]; ok {
				out = append(out, *cloneContest(c))
				break
			}
		}
	}
	sortByCreated(out)
	return out, nil
}

// SettleContest applies the terminal write under a single lock, so the
// ended check and the ledger append are one atomic step.
func (s *MemoryStore) SettleContest(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contests[st.ContestID]
	if !ok {
		return fmt.Errorf("contest %s: %w", st.ContestID, ErrNotFound)
	}
	if c.Ended {
		return ErrAlreadySettled
	}
	if st.ExpectedStatus != "" && c.Status != st.ExpectedStatus {
		return fmt.Errorf("contest %s is %s, settled as %s: %w", c.ID, c.Status, st.ExpectedStatus, ErrStale)
	}

	endedAt := st.EndedAt
	c.Status = model.StatusClosed
	c.Ended = true
	c.EndedAt = &endedAt
	c.WinnerID = st.WinnerID
	c.WinnerLabel = st.WinnerLabel
	c.Creator.WinAmount = st.CreatorWin
	c.Claimer.WinAmount = st.ClaimerWin
	c.Creator.ActualFantasyPoints = st.CreatorActual
	c.Claimer.ActualFantasyPoints = st.ClaimerActual
	c.TopPropProfit = st.TopPropProfit
	for i := range c.Roster {
		if pts, ok := st.PlayerPoints[c.Roster[i].PlayerID]; ok {
			p := pts
			c.Roster[i].Points = &p
		}
	}

	for _, g := range st.Gains {
		key := gainKey(g)
		if _, dup := s.gainKeys[key]; dup {
			continue
		}
		s.gainKeys[key] = struct{}{}
		s.ledger = append(s.ledger, g)
	}
	return nil
}

func (s *MemoryStore) ListGainsByContest(_ context.Context, contestID string) ([]model.Gain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Gain
	for _, g := range s.ledger {
		if g.ContestID == contestID {
			result = append(result, g)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListGainsByUser(_ context.Context, userID string) ([]model.Gain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Gain
	for _, g := range s.ledger {
		if g.UserID == userID {
			result = append(result, g)
		}
	}
	return result, nil
}

// cloneContest copies c including its roster so callers cannot mutate
// stored state.
func cloneContest(c *model.Contest) *model.Contest {
	cp := *c
	cp.Roster = make([]model.SnapshotPlayer, len(c.Roster))
	copy(cp.Roster, c.Roster)
	if c.WinnerID != nil {
		w := *c.WinnerID
		cp.WinnerID = &w
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

func sortByCreated(cs []model.Contest) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].CreatedAt.Before(cs[j].CreatedAt) })
}

func spreadKey(spread decimal.Decimal, tier model.SpreadType) string {
	return spread.StringFixed(1) + "|" + string(tier)
}

func gainKey(g model.Gain) string {
	return g.ContestID + "|" + g.UserID + "|" + string(g.Kind)
}
