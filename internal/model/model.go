// Package model defines the core domain types shared across the settlement
// engine. All monetary values and fantasy points use shopspring/decimal,
// never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContestType distinguishes player-vs-player from team-vs-team contests.
// Both flavors share identical settlement semantics.
type ContestType string

const (
	ContestPlayer ContestType = "player"
	ContestTeam   ContestType = "team"
)

// ContestStatus is the lifecycle state. CLOSED is terminal.
type ContestStatus string

const (
	StatusOpen    ContestStatus = "OPEN"
	StatusMatched ContestStatus = "MATCHED"
	StatusClosed  ContestStatus = "CLOSED"
)

// WinnerLabel records how a contest was closed.
type WinnerLabel string

const (
	LabelNone      WinnerLabel = ""
	LabelCreator   WinnerLabel = "CREATOR"
	LabelClaimer   WinnerLabel = "CLAIMER"
	LabelPush      WinnerLabel = "PUSH"
	LabelUnmatched WinnerLabel = "UNMATCHED"
)

// ScoringType selects which fantasy-point field feeds totals.
type ScoringType string

const (
	ScoringNonPPR  ScoringType = "NON_PPR"
	ScoringHalfPPR ScoringType = "HALF_PPR"
	ScoringFullPPR ScoringType = "FULL_PPR"
)

// Valid reports whether s is a known scoring type.
func (s ScoringType) Valid() bool {
	switch s {
	case ScoringNonPPR, ScoringHalfPPR, ScoringFullPPR:
		return true
	}
	return false
}

// Role identifies a side of a contest.
type Role string

const (
	RoleCreator Role = "creator"
	RoleClaimer Role = "claimer"
)

// SpreadType is the pricing tier, keyed by remaining-player count.
type SpreadType string

const (
	TierOneToTwo        SpreadType = "1-2"
	TierThreeToSix      SpreadType = "3-6"
	TierSevenToEighteen SpreadType = "7-18"
)

// GainKind classifies a ledger entry.
type GainKind string

const (
	GainEntryReturn GainKind = "ENTRY_RETURN"
	GainWinnings    GainKind = "WINNINGS"
	GainRefund      GainKind = "REFUND"
)

// Side is one party of a contest. The priced fields are fixed at creation
// and never change afterwards.
type Side struct {
	SideID string `json:"side_id"` // player id or team id
	UserID string `json:"user_id"` // empty on the claimer side until matched

	ProjFantasyPoints decimal.Decimal `json:"proj_fantasy_points"`
	Spread            decimal.Decimal `json:"spread"`
	Cover             decimal.Decimal `json:"cover"`
	WinBonus          decimal.Decimal `json:"win_bonus"`
	MaxWin            decimal.Decimal `json:"max_win"` // cover + win bonus

	// Post-settlement.
	ActualFantasyPoints decimal.Decimal `json:"actual_fantasy_points"`
	WinAmount           decimal.Decimal `json:"win_amount"`
}

// Contest is a priced wager between two sides.
type Contest struct {
	ID          string          `json:"id"`
	Type        ContestType     `json:"type"`
	LeagueID    string          `json:"league_id,omitempty"` // team contests only
	EntryAmount decimal.Decimal `json:"entry_amount"`
	ScoringType ScoringType     `json:"scoring_type"`
	WinBonus    bool            `json:"win_bonus"`
	Tier        SpreadType      `json:"tier"`

	Status  ContestStatus `json:"status"`
	Ended   bool          `json:"ended"`
	EndedAt *time.Time    `json:"ended_at,omitempty"`

	Creator Side `json:"creator"`
	Claimer Side `json:"claimer"`

	// Entry split retained for audit; not used by the decision table.
	SpreadValue decimal.Decimal `json:"spread_value"`
	MLValue     decimal.Decimal `json:"ml_value"`

	WinnerID      *string         `json:"winner_id,omitempty"`
	WinnerLabel   WinnerLabel     `json:"winner_label,omitempty"`
	TopPropProfit decimal.Decimal `json:"top_prop_profit"`

	Roster    []SnapshotPlayer `json:"roster"`
	CreatedAt time.Time        `json:"created_at"`
}

// Matched reports whether a counterparty has claimed the contest.
func (c *Contest) Matched() bool {
	return c.Claimer.UserID != ""
}

// Side returns a pointer to the side playing role r.
func (c *Contest) Side(r Role) *Side {
	if r == RoleClaimer {
		return &c.Claimer
	}
	return &c.Creator
}

// PlayerIDs returns the distinct player ids frozen in the roster snapshot.
func (c *Contest) PlayerIDs() []string {
	seen := make(map[string]struct{}, len(c.Roster))
	ids := make([]string, 0, len(c.Roster))
	for _, p := range c.Roster {
		if _, ok := seen[p.PlayerID]; ok {
			continue
		}
		seen[p.PlayerID] = struct{}{}
		ids = append(ids, p.PlayerID)
	}
	return ids
}

// SnapshotPlayer is one player frozen into a contest at creation. Points is
// captured when the contest settles.
type SnapshotPlayer struct {
	Role     Role             `json:"role"`
	PlayerID string           `json:"player_id"`
	Points   *decimal.Decimal `json:"points,omitempty"`
}

// PlayerStats is the normalized per-player feed consumed at pricing and
// settlement time. Provider adapters produce it.
type PlayerStats struct {
	PlayerID               string          `json:"player_id"`
	IsOver                 bool            `json:"is_over"`
	RuledOut               bool            `json:"ruled_out"`
	FantasyPoints          decimal.Decimal `json:"fantasy_points"`
	FantasyPointsHalfPPR   decimal.Decimal `json:"fantasy_points_half_ppr"`
	FantasyPointsFullPPR   decimal.Decimal `json:"fantasy_points_full_ppr"`
	ProjectedFantasyPoints decimal.Decimal `json:"projected_fantasy_points"`
}

// Points returns the actual fantasy points for the given scoring type.
func (p PlayerStats) Points(s ScoringType) decimal.Decimal {
	switch s {
	case ScoringHalfPPR:
		return p.FantasyPointsHalfPPR
	case ScoringFullPPR:
		return p.FantasyPointsFullPPR
	default:
		return p.FantasyPoints
	}
}

// Team is the league metadata of a fantasy team.
type Team struct {
	ID            string   `json:"id"`
	LeagueID      string   `json:"league_id"`
	OwnerUserID   string   `json:"owner_user_id"`
	MemberUserIDs []string `json:"member_user_ids"`
}

// HasMember reports whether userID belongs to the team's league.
func (t *Team) HasMember(userID string) bool {
	if t.OwnerUserID == userID {
		return true
	}
	for _, id := range t.MemberUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// SpreadRow is one administered pricing row. Read-only to the engine.
type SpreadRow struct {
	Spread           decimal.Decimal `json:"spread"`
	SpreadType       SpreadType      `json:"spread_type"`
	SpreadPayFactor  decimal.Decimal `json:"spread_pay_factor"`
	MLPayFactor      decimal.Decimal `json:"ml_pay_factor"`
	ProjectionSpread decimal.Decimal `json:"projection_spread"`
}

// Gain is an immutable money-movement record tied to a settlement decision.
// Once created, gains are never modified or deleted.
type Gain struct {
	ID          string          `json:"id"`
	ContestID   string          `json:"contest_id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	ContestType ContestType     `json:"contest_type"`
	Kind        GainKind        `json:"kind"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Settlement is the terminal write for one contest: outcome fields plus the
// gains that must be recorded with it.
type Settlement struct {
	ContestID string
	// ExpectedStatus is the status the settlement was computed from. The
	// write is refused when the contest has moved on since.
	ExpectedStatus ContestStatus
	WinnerID       *string
	WinnerLabel    WinnerLabel
	CreatorWin     decimal.Decimal
	ClaimerWin     decimal.Decimal
	CreatorActual  decimal.Decimal
	ClaimerActual  decimal.Decimal
	TopPropProfit  decimal.Decimal
	PlayerPoints   map[string]decimal.Decimal // player id → points captured
	EndedAt        time.Time
	Gains          []Gain
}
