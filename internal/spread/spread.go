// Package spread implements contest pricing: the rounded point spread each
// side is priced at, the cover paid when a side beats that spread, and the
// win bonus paid on top of it.
//
// Cover and win bonus come from an administered spread table keyed by
// (spread, tier). The table is read-only here. A missing row prices that
// leg at zero instead of failing: pricing never blocks contest creation on
// a data gap.
//
// All monetary values use shopspring/decimal, never float64 for money.
package spread

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/topprop/settlement-engine/internal/metrics"
	"github.com/topprop/settlement-engine/internal/model"
)

var (
	// ErrSpreadTooLarge is returned when the projected differential is too
	// wide to be a fair market.
	ErrSpreadTooLarge = errors.New("spread: projected differential exceeds maximum")

	// ErrTierUnavailable is returned when the remaining-player count has no
	// priced tier.
	ErrTierUnavailable = errors.New("spread: no pricing tier for remaining player count")

	// DefaultMaxDifferential is the largest allowed |creator - claimer|.
	DefaultMaxDifferential = decimal.NewFromInt(50)

	// DefaultSpreadShare is the fraction of the entry priced on the spread
	// leg when the win bonus is enabled.
	DefaultSpreadShare = decimal.NewFromFloat(0.85)

	// DefaultWinBonusShare is the fraction of the entry priced on the
	// moneyline (win bonus) leg.
	DefaultWinBonusShare = decimal.NewFromFloat(0.15)

	// MoneyScale is the number of decimal places payouts are rounded to.
	MoneyScale int32 = 2

	two = decimal.NewFromInt(2)
)

// Table looks up administered spread rows. ok is false when no row exists
// for the pair; err is reserved for lookup failures.
type Table interface {
	SpreadRow(ctx context.Context, spread decimal.Decimal, tier model.SpreadType) (row model.SpreadRow, ok bool, err error)
}

// TierFor maps the smaller remaining-player count of the two sides to a
// pricing tier.
func TierFor(remaining int) (model.SpreadType, error) {
	switch {
	case remaining < 0:
		return "", fmt.Errorf("%w: %d", ErrTierUnavailable, remaining)
	case remaining <= 2:
		return model.TierOneToTwo, nil
	case remaining <= 6:
		return model.TierThreeToSix, nil
	case remaining <= 18:
		return model.TierSevenToEighteen, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrTierUnavailable, remaining)
	}
}

// RoundHalf rounds x to the nearest 0.5, halves away from zero.
func RoundHalf(x decimal.Decimal) decimal.Decimal {
	return x.Mul(two).Round(0).Div(two)
}

// CalculateSpread returns the spread for one side. Arguments are always the
// creator's and the claimer's projected points; perspective picks the side.
// A negative spread marks the favorite.
func CalculateSpread(creatorPoints, claimerPoints decimal.Decimal, perspective model.Role) decimal.Decimal {
	if perspective == model.RoleCreator {
		return RoundHalf(claimerPoints.Sub(creatorPoints))
	}
	return RoundHalf(creatorPoints.Sub(claimerPoints))
}

// Options tunes a Calculator. Zero values fall back to the defaults.
type Options struct {
	MaxDifferential decimal.Decimal
	SpreadShare     decimal.Decimal
	WinBonusShare   decimal.Decimal
}

// Calculator prices contest legs against a spread table.
type Calculator struct {
	table           Table
	maxDifferential decimal.Decimal
	spreadShare     decimal.Decimal
	winBonusShare   decimal.Decimal
	logger          *zap.Logger
}

// NewCalculator creates a calculator over table.
func NewCalculator(table Table, opts Options, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Calculator{
		table:           table,
		maxDifferential: opts.MaxDifferential,
		spreadShare:     opts.SpreadShare,
		winBonusShare:   opts.WinBonusShare,
		logger:          logger,
	}
	if !c.maxDifferential.IsPositive() {
		c.maxDifferential = DefaultMaxDifferential
	}
	if !c.spreadShare.IsPositive() {
		c.spreadShare = DefaultSpreadShare
	}
	if !c.winBonusShare.IsPositive() {
		c.winBonusShare = DefaultWinBonusShare
	}
	return c
}

// SpreadShare returns the spread-leg fraction of the entry.
func (c *Calculator) SpreadShare() decimal.Decimal { return c.spreadShare }

// WinBonusShare returns the moneyline-leg fraction of the entry.
func (c *Calculator) WinBonusShare() decimal.Decimal { return c.winBonusShare }

// ValidateDifferential rejects projections whose unrounded difference is
// wider than the configured maximum.
func (c *Calculator) ValidateDifferential(creatorPoints, claimerPoints decimal.Decimal) error {
	diff := creatorPoints.Sub(claimerPoints).Abs()
	if diff.GreaterThan(c.maxDifferential) {
		return fmt.Errorf("%w: |%s| > %s", ErrSpreadTooLarge, diff, c.maxDifferential)
	}
	return nil
}

// Cover returns the payout for covering spread.
func (c *Calculator) Cover(ctx context.Context, spread, entry decimal.Decimal, winBonus bool, tier model.SpreadType) (decimal.Decimal, error) {
	row, ok, err := c.lookup(ctx, spread, tier)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	stake := entry
	if winBonus {
		stake = entry.Mul(c.spreadShare)
	}
	return stake.Mul(row.SpreadPayFactor).Round(MoneyScale), nil
}

// WinBonus returns the moneyline payout for spread.
func (c *Calculator) WinBonus(ctx context.Context, spread, entry decimal.Decimal, tier model.SpreadType) (decimal.Decimal, error) {
	row, ok, err := c.lookup(ctx, spread, tier)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	return entry.Mul(c.winBonusShare).Mul(row.MLPayFactor).Round(MoneyScale), nil
}

// Leg is one side's priced terms.
type Leg struct {
	Spread   decimal.Decimal
	Cover    decimal.Decimal
	WinBonus decimal.Decimal
	MaxWin   decimal.Decimal
}

// Quote prices both sides of a contest.
type Quote struct {
	Creator Leg
	Claimer Leg
}

// Price validates the differential and prices both legs.
func (c *Calculator) Price(ctx context.Context, creatorPoints, claimerPoints, entry decimal.Decimal, winBonus bool, tier model.SpreadType) (Quote, error) {
	if err := c.ValidateDifferential(creatorPoints, claimerPoints); err != nil {
		return Quote{}, err
	}
	var q Quote
	for _, role := range []model.Role{model.RoleCreator, model.RoleClaimer} {
		leg, err := c.leg(ctx, CalculateSpread(creatorPoints, claimerPoints, role), entry, winBonus, tier)
		if err != nil {
			return Quote{}, fmt.Errorf("price %s leg: %w", role, err)
		}
		if role == model.RoleCreator {
			q.Creator = leg
		} else {
			q.Claimer = leg
		}
	}
	return q, nil
}

func (c *Calculator) leg(ctx context.Context, spread, entry decimal.Decimal, winBonus bool, tier model.SpreadType) (Leg, error) {
	cover, err := c.Cover(ctx, spread, entry, winBonus, tier)
	if err != nil {
		return Leg{}, err
	}
	bonus := decimal.Zero
	if winBonus {
		if bonus, err = c.WinBonus(ctx, spread, entry, tier); err != nil {
			return Leg{}, err
		}
	}
	return Leg{
		Spread:   spread,
		Cover:    cover,
		WinBonus: bonus,
		MaxWin:   cover.Add(bonus),
	}, nil
}

func (c *Calculator) lookup(ctx context.Context, spread decimal.Decimal, tier model.SpreadType) (model.SpreadRow, bool, error) {
	row, ok, err := c.table.SpreadRow(ctx, spread, tier)
	if err != nil {
		return model.SpreadRow{}, false, fmt.Errorf("spread table lookup %s/%s: %w", spread, tier, err)
	}
	if !ok {
		metrics.SpreadTableMisses.WithLabelValues(string(tier)).Inc()
		c.logger.Debug("spread row missing, pricing leg at zero",
			zap.String("spread", spread.String()),
			zap.String("tier", string(tier)),
		)
	}
	return row, ok, nil
}
