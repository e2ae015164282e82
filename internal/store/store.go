// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a contest does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadySettled is returned by SettleContest when another run has
	// already ended the contest. Callers treat it as a no-op.
	ErrAlreadySettled = errors.New("store: contest already ended")

	// ErrStale is returned by SettleContest when the contest changed status
	// after the settlement was computed. The contest stays eligible.
	ErrStale = errors.New("store: contest changed since it was read")

	// ErrNotOpen is returned by ClaimContest when the contest is no longer
	// open for a counterparty.
	ErrNotOpen = errors.New("store: contest is not open")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Spread table ---

	// SpreadRow looks up the row for (spread, tier). ok is false when the
	// table has no such row.
	SpreadRow(ctx context.Context, spread decimal.Decimal, tier model.SpreadType) (row model.SpreadRow, ok bool, err error)

	// UpsertSpreadRows seeds or replaces administered rows.
	UpsertSpreadRows(ctx context.Context, rows []model.SpreadRow) error

	// --- Contests ---

	// CreateContest persists a new contest with its frozen roster.
	CreateContest(ctx context.Context, c *model.Contest) error

	// GetContest retrieves a contest and its roster by ID.
	GetContest(ctx context.Context, id string) (*model.Contest, error)

	// ClaimContest moves an OPEN, not-ended contest to MATCHED with the
	// given claimer. Returns ErrNotOpen if the contest changed underneath.
	ClaimContest(ctx context.Context, id, claimerUserID string) error

	// ListUnsettled returns not-ended contests in any of the statuses.
	ListUnsettled(ctx context.Context, statuses ...model.ContestStatus) ([]model.Contest, error)

	// ListUnsettledByPlayers returns not-ended contests whose roster
	// references any of the players.
	ListUnsettledByPlayers(ctx context.Context, playerIDs []string) ([]model.Contest, error)

	// --- Settlement and immutable ledger ---

	// SettleContest writes the terminal state and its gains atomically,
	// conditional on the contest not having ended and, when set, still being
	// in s.ExpectedStatus. Returns ErrAlreadySettled or ErrStale when a guard
	// fails; nothing is written then.
	SettleContest(ctx context.Context, s *model.Settlement) error

	// ListGainsByContest returns the ledger entries of one contest.
	ListGainsByContest(ctx context.Context, contestID string) ([]model.Gain, error)

	// ListGainsByUser returns the ledger entries of one user.
	ListGainsByUser(ctx context.Context, userID string) ([]model.Gain, error)
}
