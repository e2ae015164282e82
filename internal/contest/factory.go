// Package contest prices and creates spread contests and matches them with
// a counterparty.
//
// A contest's priced fields (spread, cover, win bonus, max win per side)
// are computed once at creation from the frozen roster snapshot and never
// change afterwards, including when the contest is claimed.
package contest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/topprop/settlement-engine/internal/clock"
	"github.com/topprop/settlement-engine/internal/metrics"
	"github.com/topprop/settlement-engine/internal/model"
	"github.com/topprop/settlement-engine/internal/provider"
	"github.com/topprop/settlement-engine/internal/spread"
	"github.com/topprop/settlement-engine/internal/store"
)

// Factory creates and claims contests.
type Factory struct {
	store    store.Store
	roster   provider.RosterProvider
	balances provider.BalanceProvider
	calc     *spread.Calculator
	clock    clock.Clock
	logger   *zap.Logger
}

// NewFactory creates a contest factory.
func NewFactory(st store.Store, roster provider.RosterProvider, balances provider.BalanceProvider,
	calc *spread.Calculator, clk clock.Clock, logger *zap.Logger) *Factory {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		store:    st,
		roster:   roster,
		balances: balances,
		calc:     calc,
		clock:    clk,
		logger:   logger,
	}
}

// CreateRequest describes a new contest. SideIDs are player ids for player
// contests and team ids for team contests. ClaimerUserID is optional; when
// set the contest is created already MATCHED.
type CreateRequest struct {
	Type          model.ContestType `json:"type"`
	CreatorUserID string            `json:"creator_user_id"`
	CreatorSideID string            `json:"creator_side_id"`
	ClaimerSideID string            `json:"claimer_side_id"`
	ClaimerUserID string            `json:"claimer_user_id,omitempty"`
	EntryAmount   decimal.Decimal   `json:"entry_amount"`
	ScoringType   model.ScoringType `json:"scoring_type"`
	WinBonus      bool              `json:"win_bonus"`
}

// ClaimRequest matches an OPEN contest with a counterparty.
type ClaimRequest struct {
	ContestID string `json:"contest_id"`
	UserID    string `json:"user_id"`
}

// sideTotals is one side's roster partitioned for pricing.
type sideTotals struct {
	playerIDs []string
	remaining int
	total     decimal.Decimal
}

// PriceAndCreate prices both sides and persists the contest with its
// roster snapshot. A *RejectError means nothing was persisted.
func (f *Factory) PriceAndCreate(ctx context.Context, req CreateRequest) (*model.Contest, error) {
	c, err := f.priceAndCreate(ctx, req)
	if err != nil {
		f.observeReject(err, "create")
		return nil, err
	}
	metrics.ContestsCreated.WithLabelValues(string(c.Type)).Inc()
	f.logger.Info("contest created",
		zap.String("contest_id", c.ID),
		zap.String("type", string(c.Type)),
		zap.String("status", string(c.Status)),
		zap.String("tier", string(c.Tier)),
		zap.String("entry", c.EntryAmount.String()),
		zap.String("creator_spread", c.Creator.Spread.String()),
		zap.String("claimer_spread", c.Claimer.Spread.String()),
	)
	return c, nil
}

func (f *Factory) priceAndCreate(ctx context.Context, req CreateRequest) (*model.Contest, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	creatorIDs, claimerIDs, leagueID, err := f.loadRosters(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(creatorIDs) == 0 || len(claimerIDs) == 0 {
		return nil, reject(CodeEmptyRoster, "creator has %d players, claimer has %d", len(creatorIDs), len(claimerIDs))
	}

	stats, err := f.roster.Players(ctx, append(append([]string(nil), creatorIDs...), claimerIDs...))
	if err != nil {
		return nil, fmt.Errorf("load player stats: %w", err)
	}
	for _, id := range append(append([]string(nil), creatorIDs...), claimerIDs...) {
		if stats[id].RuledOut {
			return nil, reject(CodePlayerRuledOut, "player %s is ruled out", id)
		}
	}

	creator := totals(creatorIDs, stats, req.ScoringType)
	claimer := totals(claimerIDs, stats, req.ScoringType)
	if creator.remaining == 0 && claimer.remaining == 0 {
		return nil, reject(CodeNoRemainingPlayers, "every rostered player has finished")
	}

	tier, err := spread.TierFor(min(creator.remaining, claimer.remaining))
	if err != nil {
		return nil, reject(CodeTierUnavailable, "%v", err)
	}

	quote, err := f.calc.Price(ctx, creator.total, claimer.total, req.EntryAmount, req.WinBonus, tier)
	if errors.Is(err, spread.ErrSpreadTooLarge) {
		return nil, reject(CodeSpreadTooLarge, "%v", err)
	}
	if err != nil {
		return nil, fmt.Errorf("price contest: %w", err)
	}

	if err := f.checkBalance(ctx, req.CreatorUserID, req.EntryAmount); err != nil {
		return nil, err
	}
	if req.ClaimerUserID != "" {
		if err := f.checkBalance(ctx, req.ClaimerUserID, req.EntryAmount); err != nil {
			return nil, err
		}
	}

	status := model.StatusOpen
	if req.ClaimerUserID != "" {
		status = model.StatusMatched
	}

	c := &model.Contest{
		ID:          uuid.New().String(),
		Type:        req.Type,
		LeagueID:    leagueID,
		EntryAmount: req.EntryAmount,
		ScoringType: req.ScoringType,
		WinBonus:    req.WinBonus,
		Tier:        tier,
		Status:      status,
		Creator:     pricedSide(req.CreatorSideID, req.CreatorUserID, creator.total, quote.Creator),
		Claimer:     pricedSide(req.ClaimerSideID, req.ClaimerUserID, claimer.total, quote.Claimer),
		SpreadValue: req.EntryAmount.Mul(f.calc.SpreadShare()).Round(spread.MoneyScale),
		MLValue:     req.EntryAmount.Mul(f.calc.WinBonusShare()).Round(spread.MoneyScale),
		CreatedAt:   f.clock.Now(),
	}
	for _, id := range creator.playerIDs {
		c.Roster = append(c.Roster, model.SnapshotPlayer{Role: model.RoleCreator, PlayerID: id})
	}
	for _, id := range claimer.playerIDs {
		c.Roster = append(c.Roster, model.SnapshotPlayer{Role: model.RoleClaimer, PlayerID: id})
	}

	if err := f.store.CreateContest(ctx, c); err != nil {
		return nil, fmt.Errorf("persist contest: %w", err)
	}
	return c, nil
}

// Claim matches an OPEN contest with userID. Pricing is not recomputed.
func (f *Factory) Claim(ctx context.Context, req ClaimRequest) (*model.Contest, error) {
	c, err := f.claim(ctx, req)
	if err != nil {
		f.observeReject(err, "claim")
		return nil, err
	}
	metrics.ContestsClaimed.WithLabelValues(string(c.Type)).Inc()
	f.logger.Info("contest claimed",
		zap.String("contest_id", c.ID),
		zap.String("claimer", req.UserID),
	)
	return c, nil
}

func (f *Factory) claim(ctx context.Context, req ClaimRequest) (*model.Contest, error) {
	if req.ContestID == "" || req.UserID == "" {
		return nil, reject(CodeInvalidRequest, "contest_id and user_id are required")
	}

	c, err := f.store.GetContest(ctx, req.ContestID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusOpen || c.Ended {
		return nil, reject(CodeContestNotOpen, "contest %s is %s", c.ID, c.Status)
	}
	if req.UserID == c.Creator.UserID {
		return nil, reject(CodeSelfClaim, "creator cannot claim their own contest")
	}
	if c.Type == model.ContestTeam {
		team, err := f.roster.Team(ctx, c.Claimer.SideID)
		if err != nil {
			return nil, fmt.Errorf("load claimer team: %w", err)
		}
		if team.OwnerUserID != req.UserID {
			return nil, reject(CodeNotAMember, "user %s does not own team %s", req.UserID, team.ID)
		}
	}
	if err := f.checkBalance(ctx, req.UserID, c.EntryAmount); err != nil {
		return nil, err
	}

	if err := f.store.ClaimContest(ctx, c.ID, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotOpen) {
			return nil, reject(CodeContestNotOpen, "contest %s was claimed or closed concurrently", c.ID)
		}
		return nil, fmt.Errorf("claim contest: %w", err)
	}

	c.Claimer.UserID = req.UserID
	c.Status = model.StatusMatched
	return c, nil
}

func validateCreate(req CreateRequest) error {
	switch {
	case req.Type != model.ContestPlayer && req.Type != model.ContestTeam:
		return reject(CodeInvalidRequest, "unknown contest type %q", req.Type)
	case req.CreatorUserID == "":
		return reject(CodeInvalidRequest, "creator_user_id is required")
	case req.CreatorSideID == "" || req.ClaimerSideID == "":
		return reject(CodeInvalidRequest, "both side ids are required")
	case req.CreatorSideID == req.ClaimerSideID:
		return reject(CodeInvalidRequest, "a side cannot face itself")
	case req.ClaimerUserID == req.CreatorUserID:
		return reject(CodeSelfClaim, "creator cannot claim their own contest")
	case !req.EntryAmount.IsPositive():
		return reject(CodeInvalidRequest, "entry_amount must be positive")
	case !req.ScoringType.Valid():
		return reject(CodeInvalidRequest, "unknown scoring type %q", req.ScoringType)
	}
	return nil
}

// loadRosters resolves each side to its player ids. Team contests also
// check league membership.
func (f *Factory) loadRosters(ctx context.Context, req CreateRequest) (creatorIDs, claimerIDs []string, leagueID string, err error) {
	if req.Type == model.ContestPlayer {
		return []string{req.CreatorSideID}, []string{req.ClaimerSideID}, "", nil
	}

	creatorTeam, err := f.roster.Team(ctx, req.CreatorSideID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load creator team: %w", err)
	}
	claimerTeam, err := f.roster.Team(ctx, req.ClaimerSideID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load claimer team: %w", err)
	}
	if !creatorTeam.HasMember(req.CreatorUserID) {
		return nil, nil, "", reject(CodeNotAMember, "user %s is not in league %s", req.CreatorUserID, creatorTeam.LeagueID)
	}
	if creatorTeam.LeagueID != claimerTeam.LeagueID {
		return nil, nil, "", reject(CodeNotSameLeague, "teams are in leagues %s and %s", creatorTeam.LeagueID, claimerTeam.LeagueID)
	}
	if req.ClaimerUserID != "" && claimerTeam.OwnerUserID != req.ClaimerUserID {
		return nil, nil, "", reject(CodeNotAMember, "user %s does not own team %s", req.ClaimerUserID, claimerTeam.ID)
	}

	if creatorIDs, err = f.roster.TeamRoster(ctx, creatorTeam.ID); err != nil {
		return nil, nil, "", fmt.Errorf("load creator roster: %w", err)
	}
	if claimerIDs, err = f.roster.TeamRoster(ctx, claimerTeam.ID); err != nil {
		return nil, nil, "", fmt.Errorf("load claimer roster: %w", err)
	}
	return creatorIDs, claimerIDs, creatorTeam.LeagueID, nil
}

// totals sums projected points of players still to play and actual points
// of finished ones. A player missing from the feed counts as remaining
// with no projection.
func totals(ids []string, stats map[string]model.PlayerStats, scoring model.ScoringType) sideTotals {
	t := sideTotals{playerIDs: ids}
	for _, id := range ids {
		p := stats[id]
		if p.IsOver {
			t.total = t.total.Add(p.Points(scoring))
			continue
		}
		t.remaining++
		t.total = t.total.Add(p.ProjectedFantasyPoints)
	}
	return t
}

func pricedSide(sideID, userID string, proj decimal.Decimal, leg spread.Leg) model.Side {
	return model.Side{
		SideID:            sideID,
		UserID:            userID,
		ProjFantasyPoints: proj,
		Spread:            leg.Spread,
		Cover:             leg.Cover,
		WinBonus:          leg.WinBonus,
		MaxWin:            leg.MaxWin,
	}
}

func (f *Factory) checkBalance(ctx context.Context, userID string, entry decimal.Decimal) error {
	bal, err := f.balances.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("load balance for %s: %w", userID, err)
	}
	if bal.LessThan(entry) {
		return reject(CodeInsufficientBalance, "user %s has %s, needs %s", userID, bal, entry)
	}
	return nil
}

func (f *Factory) observeReject(err error, op string) {
	var re *RejectError
	if errors.As(err, &re) {
		metrics.PricingRejections.WithLabelValues(string(re.Code)).Inc()
		f.logger.Info("contest rejected",
			zap.String("op", op),
			zap.String("code", string(re.Code)),
			zap.String("reason", re.Msg),
		)
		return
	}
	f.logger.Warn("contest operation failed", zap.String("op", op), zap.Error(err))
}
