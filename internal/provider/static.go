package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

// Static is an in-memory RosterProvider and BalanceProvider. Used for
// testing and for running the engine without external services.
type Static struct {
	mu       sync.RWMutex
	players  map[string]model.PlayerStats
	teams    map[string]model.Team
	rosters  map[string][]string
	balances map[string]decimal.Decimal
}

// NewStatic creates an empty static provider.
func NewStatic() *Static {
	return &Static{
		players:  make(map[string]model.PlayerStats),
		teams:    make(map[string]model.Team),
		rosters:  make(map[string][]string),
		balances: make(map[string]decimal.Decimal),
	}
}

// SetPlayer adds or replaces a player's stats.
func (s *Static) SetPlayer(p model.PlayerStats) {
	s.mu.Lock()
	s.players[p.PlayerID] = p
	s.mu.Unlock()
}

// SetTeam adds or replaces a team and its roster.
func (s *Static) SetTeam(t model.Team, playerIDs ...string) {
	s.mu.Lock()
	s.teams[t.ID] = t
	s.rosters[t.ID] = append([]string(nil), playerIDs...)
	s.mu.Unlock()
}

// SetBalance sets a user's wallet balance.
func (s *Static) SetBalance(userID string, amount decimal.Decimal) {
	s.mu.Lock()
	s.balances[userID] = amount
	s.mu.Unlock()
}

func (s *Static) Players(_ context.Context, ids []string) (map[string]model.PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.PlayerStats, len(ids))
	for _, id := range ids {
		if p, ok := s.players[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Static) Team(_ context.Context, teamID string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	t.MemberUserIDs = append([]string(nil), t.MemberUserIDs...)
	return &t, nil
}

func (s *Static) TeamRoster(_ context.Context, teamID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rosters[teamID]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	return append([]string(nil), r...), nil
}

func (s *Static) RuledOut(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, p := range s.players {
		if p.RuledOut {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Balance returns zero for unknown users.
func (s *Static) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[userID], nil
}
