// Package provider defines the read-only seams to the fantasy data and
// wallet services the engine prices and settles against.
package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

// ErrNotFound is returned when a team or user is unknown to the provider.
var ErrNotFound = errors.New("provider: not found")

// RosterProvider supplies normalized player stats and team metadata.
type RosterProvider interface {
	// Players returns stats keyed by player id. Unknown ids are absent
	// from the map rather than an error.
	Players(ctx context.Context, ids []string) (map[string]model.PlayerStats, error)

	// Team returns league metadata for a fantasy team.
	Team(ctx context.Context, teamID string) (*model.Team, error)

	// TeamRoster returns the player ids currently on a fantasy team.
	TeamRoster(ctx context.Context, teamID string) ([]string, error)

	// RuledOut returns the ids of players currently ruled out of their game.
	RuledOut(ctx context.Context) ([]string, error)
}

// BalanceProvider reads wallet balances.
type BalanceProvider interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}
