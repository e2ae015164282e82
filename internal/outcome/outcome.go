// Package outcome decides who won a fully-played spread contest.
//
// The side with the smaller signed spread is the favorite. Ties on the raw
// game go to the underdog. The decision table is evaluated in a fixed order
// and the first matching row wins:
//
//	1  favorite wins the game and covers      → favorite paid maxWin
//	2  underdog wins the game and covers      → underdog paid maxWin
//	3  favorite wins the game, does not cover → underdog paid maxWin
//	4  neither side covers                    → push
//	5  neither side wins the game             → push
//
// Row 3 pays the underdog in full when the favorite wins the game but not
// the spread. That is product policy; there is no partial payout.
package outcome

import (
	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

// Side is one party's priced terms and final points.
type Side struct {
	Points decimal.Decimal
	Spread decimal.Decimal
	MaxWin decimal.Decimal
}

// Result is the resolved outcome of one contest.
type Result struct {
	Row      int
	Favorite model.Role
	Underdog model.Role
	Winner   model.Role // empty on a push

	FavoriteGameWin bool
	UnderdogGameWin bool
	FavoriteCovers  bool
	UnderdogCovers  bool

	CreatorNet  decimal.Decimal
	ClaimerNet  decimal.Decimal
	HouseProfit decimal.Decimal
}

// Push reports whether nobody won.
func (r Result) Push() bool { return r.Winner == "" }

// Net returns the net amount for role.
func (r Result) Net(role model.Role) decimal.Decimal {
	if role == model.RoleClaimer {
		return r.ClaimerNet
	}
	return r.CreatorNet
}

// Resolve applies the decision table. Both sides must be final.
func Resolve(creator, claimer Side, entry decimal.Decimal) Result {
	res := Result{Favorite: model.RoleCreator, Underdog: model.RoleClaimer}
	fav, und := creator, claimer
	// Equal spreads leave the creator as favorite.
	if claimer.Spread.LessThan(creator.Spread) {
		res.Favorite, res.Underdog = model.RoleClaimer, model.RoleCreator
		fav, und = claimer, creator
	}

	res.FavoriteGameWin = fav.Points.GreaterThan(und.Points)
	res.UnderdogGameWin = und.Points.GreaterThanOrEqual(fav.Points)
	res.FavoriteCovers = fav.Points.Sub(und.Spread).GreaterThan(und.Points)
	res.UnderdogCovers = und.Points.Add(und.Spread).GreaterThan(fav.Points)

	switch {
	case res.FavoriteGameWin && res.FavoriteCovers:
		res.Row = 1
		res.win(res.Favorite, fav.MaxWin, entry)
	case res.UnderdogGameWin && res.UnderdogCovers:
		res.Row = 2
		res.win(res.Underdog, und.MaxWin, entry)
	case res.FavoriteGameWin && !res.FavoriteCovers:
		res.Row = 3
		res.win(res.Underdog, und.MaxWin, entry)
	case !res.FavoriteCovers && !res.UnderdogCovers:
		res.Row = 4
		res.push(entry)
	case !res.FavoriteGameWin && !res.UnderdogGameWin:
		res.Row = 5
		res.push(entry)
	default:
		// Only reachable when the underdog's spread is negative, which
		// mirrored pricing never produces. Nobody is paid beyond a refund.
		res.push(entry)
	}
	return res
}

func (r *Result) win(winner model.Role, maxWin, entry decimal.Decimal) {
	r.Winner = winner
	r.HouseProfit = entry.Sub(maxWin)
	if winner == model.RoleCreator {
		r.CreatorNet, r.ClaimerNet = maxWin, entry.Neg()
	} else {
		r.CreatorNet, r.ClaimerNet = entry.Neg(), maxWin
	}
}

func (r *Result) push(entry decimal.Decimal) {
	r.CreatorNet, r.ClaimerNet = entry, entry
	r.HouseProfit = decimal.Zero
}

// Tally sums each side's actual points from the frozen roster. complete is
// false when any rostered player is missing from stats or not yet over.
func Tally(roster []model.SnapshotPlayer, stats map[string]model.PlayerStats, scoring model.ScoringType) (creator, claimer decimal.Decimal, complete bool) {
	complete = len(roster) > 0
	for _, p := range roster {
		st, ok := stats[p.PlayerID]
		if !ok || !st.IsOver {
			complete = false
			continue
		}
		if p.Role == model.RoleClaimer {
			claimer = claimer.Add(st.Points(scoring))
		} else {
			creator = creator.Add(st.Points(scoring))
		}
	}
	return creator, claimer, complete
}
