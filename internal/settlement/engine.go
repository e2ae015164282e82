// Package settlement closes in-flight contests.
//
// Every job takes a snapshot of eligible contests when it starts and
// processes each contest independently. The terminal write goes through
// store.SettleContest, which only succeeds while the contest has not
// ended and still has the status the settlement was computed from, so
// overlapping or repeated runs never pay a contest twice and a claim that
// lands mid-run is never closed as unmatched.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/topprop/settlement-engine/internal/clock"
	"github.com/topprop/settlement-engine/internal/metrics"
	"github.com/topprop/settlement-engine/internal/model"
	"github.com/topprop/settlement-engine/internal/notify"
	"github.com/topprop/settlement-engine/internal/outcome"
	"github.com/topprop/settlement-engine/internal/provider"
	"github.com/topprop/settlement-engine/internal/store"
)

// Job names used in logs and metrics.
const (
	JobSettle      = "settle"
	JobVoidCheck   = "void_check"
	JobSeasonClose = "season_close"
)

// Void reasons.
const (
	ReasonRuledOut    = "ruled_out"
	ReasonSeasonClose = "season_close"
	ReasonAdmin       = "admin"
)

const defaultWorkers = 8

// Report summarizes one job run.
type Report struct {
	Job       string        `json:"job"`
	Scanned   int           `json:"scanned"`
	Settled   int           `json:"settled"`
	Voided    int           `json:"voided"`
	Pending   int           `json:"pending"`   // rosters not yet complete
	Conflicts int           `json:"conflicts"` // already closed by another run
	Stale     int           `json:"stale"`     // changed mid-run, retried next tick
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// tally is the concurrent accumulator behind a Report.
type tally struct {
	settled, voided, pending, conflicts, stale, failed atomic.Int64
}

func (t *tally) report(job string, scanned int, took time.Duration) Report {
	return Report{
		Job:       job,
		Scanned:   scanned,
		Settled:   int(t.settled.Load()),
		Voided:    int(t.voided.Load()),
		Pending:   int(t.pending.Load()),
		Conflicts: int(t.conflicts.Load()),
		Stale:     int(t.stale.Load()),
		Failed:    int(t.failed.Load()),
		Duration:  took,
	}
}

// Options tunes an Engine.
type Options struct {
	// Workers bounds how many contests a job processes at once.
	Workers int
}

// Engine runs settlement, void and season-close jobs.
type Engine struct {
	store    store.Store
	roster   provider.RosterProvider
	notifier notify.Notifier
	clock    clock.Clock
	logger   *zap.Logger
	workers  int
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, roster provider.RosterProvider, n notify.Notifier,
	clk clock.Clock, logger *zap.Logger, opts Options) *Engine {
	if n == nil {
		n = notify.Nop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Engine{
		store:    st,
		roster:   roster,
		notifier: n,
		clock:    clk,
		logger:   logger,
		workers:  opts.Workers,
	}
}

// RunSettlementBatch resolves every OPEN or MATCHED contest whose rosters
// have fully finished. Matched contests go through the decision table;
// open ones are closed as unmatched.
func (e *Engine) RunSettlementBatch(ctx context.Context) (Report, error) {
	start := time.Now()
	contests, err := e.store.ListUnsettled(ctx, model.StatusOpen, model.StatusMatched)
	if err != nil {
		return Report{Job: JobSettle}, fmt.Errorf("list unsettled contests: %w", err)
	}

	var ids []string
	for i := range contests {
		ids = append(ids, contests[i].PlayerIDs()...)
	}
	// One bulk fetch serves the whole batch. When it fails, each contest
	// fetches its own players so one bad id only holds back its contest.
	stats, bulkErr := e.roster.Players(ctx, dedupe(ids))
	if bulkErr != nil {
		e.logger.Warn("bulk stats fetch failed, falling back to per-contest fetches", zap.Error(bulkErr))
	}

	var t tally
	e.fanOut(ctx, contests, func(ctx context.Context, c *model.Contest) {
		contestStats := stats
		if bulkErr != nil {
			var err error
			contestStats, err = e.roster.Players(ctx, c.PlayerIDs())
			if err != nil {
				t.failed.Add(1)
				metrics.BatchErrors.WithLabelValues(JobSettle).Inc()
				e.logger.Error("load player stats failed", zap.String("contest_id", c.ID), zap.Error(err))
				return
			}
		}
		e.settleOne(ctx, c, contestStats, &t)
	})

	return e.finish(JobSettle, len(contests), start, &t), nil
}

// RunVoidCheck force-closes every not-ended contest whose roster snapshot
// references any of playerIDs.
func (e *Engine) RunVoidCheck(ctx context.Context, playerIDs []string) (Report, error) {
	start := time.Now()
	if len(playerIDs) == 0 {
		return Report{Job: JobVoidCheck}, nil
	}
	contests, err := e.store.ListUnsettledByPlayers(ctx, playerIDs)
	if err != nil {
		return Report{Job: JobVoidCheck}, fmt.Errorf("list contests by players: %w", err)
	}

	var t tally
	e.fanOut(ctx, contests, func(ctx context.Context, c *model.Contest) {
		e.voidOne(ctx, c, ReasonRuledOut, JobVoidCheck, &t)
	})

	return e.finish(JobVoidCheck, len(contests), start, &t), nil
}

// RunRuledOutCheck asks the roster provider who is ruled out and voids the
// contests that reference them.
func (e *Engine) RunRuledOutCheck(ctx context.Context) (Report, error) {
	ids, err := e.roster.RuledOut(ctx)
	if err != nil {
		return Report{Job: JobVoidCheck}, fmt.Errorf("load ruled-out players: %w", err)
	}
	return e.RunVoidCheck(ctx, ids)
}

// RunSeasonClose force-closes every contest that has not ended.
func (e *Engine) RunSeasonClose(ctx context.Context) (Report, error) {
	start := time.Now()
	contests, err := e.store.ListUnsettled(ctx, model.StatusOpen, model.StatusMatched)
	if err != nil {
		return Report{Job: JobSeasonClose}, fmt.Errorf("list unsettled contests: %w", err)
	}

	var t tally
	e.fanOut(ctx, contests, func(ctx context.Context, c *model.Contest) {
		e.voidOne(ctx, c, ReasonSeasonClose, JobSeasonClose, &t)
	})

	return e.finish(JobSeasonClose, len(contests), start, &t), nil
}

// Void force-closes one contest. It returns store.ErrAlreadySettled when
// the contest had already ended and store.ErrStale when it was claimed
// while the void was being written.
func (e *Engine) Void(ctx context.Context, contestID, reason string) error {
	c, err := e.store.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if c.Ended {
		return store.ErrAlreadySettled
	}
	st := e.voidSettlement(c)
	if err := e.commit(ctx, c, st, notify.EventVoided, reason); err != nil {
		return err
	}
	metrics.Voids.WithLabelValues(reason).Inc()
	return nil
}

// fanOut runs fn for every contest with bounded concurrency. fn owns its
// own error handling; one contest never aborts the others.
func (e *Engine) fanOut(ctx context.Context, contests []model.Contest, fn func(context.Context, *model.Contest)) {
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range contests {
		c := &contests[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) finish(job string, scanned int, start time.Time, t *tally) Report {
	took := time.Since(start)
	metrics.BatchDuration.WithLabelValues(job).Observe(took.Seconds())
	r := t.report(job, scanned, took)
	e.logger.Info("job finished",
		zap.String("job", job),
		zap.Int("scanned", r.Scanned),
		zap.Int("settled", r.Settled),
		zap.Int("voided", r.Voided),
		zap.Int("pending", r.Pending),
		zap.Int("conflicts", r.Conflicts),
		zap.Int("stale", r.Stale),
		zap.Int("failed", r.Failed),
		zap.Duration("took", took),
	)
	return r
}

func (e *Engine) settleOne(ctx context.Context, c *model.Contest, stats map[string]model.PlayerStats, t *tally) {
	creatorPts, claimerPts, complete := outcome.Tally(c.Roster, stats, c.ScoringType)
	if !complete {
		t.pending.Add(1)
		return
	}

	points := make(map[string]decimal.Decimal, len(c.Roster))
	for _, p := range c.Roster {
		points[p.PlayerID] = stats[p.PlayerID].Points(c.ScoringType)
	}

	var st *model.Settlement
	event := notify.EventSettled
	if !c.Matched() {
		// Nobody can claim a finished contest.
		st = e.voidSettlement(c)
		event = notify.EventVoided
	} else {
		res := outcome.Resolve(
			outcome.Side{Points: creatorPts, Spread: c.Creator.Spread, MaxWin: c.Creator.MaxWin},
			outcome.Side{Points: claimerPts, Spread: c.Claimer.Spread, MaxWin: c.Claimer.MaxWin},
			c.EntryAmount,
		)
		st = e.resolvedSettlement(c, res)
		e.logger.Debug("contest resolved",
			zap.String("contest_id", c.ID),
			zap.Int("row", res.Row),
			zap.String("favorite", string(res.Favorite)),
			zap.String("outcome", string(st.WinnerLabel)),
		)
	}
	st.CreatorActual = creatorPts
	st.ClaimerActual = claimerPts
	st.PlayerPoints = points

	err := e.commit(ctx, c, st, event, "")
	switch {
	case errors.Is(err, store.ErrAlreadySettled):
		t.conflicts.Add(1)
	case errors.Is(err, store.ErrStale):
		t.stale.Add(1)
	case err != nil:
		t.failed.Add(1)
		metrics.BatchErrors.WithLabelValues(JobSettle).Inc()
		e.logger.Error("settle contest failed", zap.String("contest_id", c.ID), zap.Error(err))
	case event == notify.EventVoided:
		t.voided.Add(1)
	default:
		t.settled.Add(1)
	}
}

func (e *Engine) voidOne(ctx context.Context, c *model.Contest, reason, job string, t *tally) {
	err := e.commit(ctx, c, e.voidSettlement(c), notify.EventVoided, reason)
	switch {
	case errors.Is(err, store.ErrAlreadySettled):
		t.conflicts.Add(1)
	case errors.Is(err, store.ErrStale):
		t.stale.Add(1)
	case err != nil:
		t.failed.Add(1)
		metrics.BatchErrors.WithLabelValues(job).Inc()
		e.logger.Error("void contest failed",
			zap.String("contest_id", c.ID),
			zap.String("reason", reason),
			zap.Error(err))
	default:
		t.voided.Add(1)
		metrics.Voids.WithLabelValues(reason).Inc()
	}
}

// commit writes the settlement and, once it is durable, sends the
// notification. A notification failure is logged and otherwise ignored.
func (e *Engine) commit(ctx context.Context, c *model.Contest, st *model.Settlement, eventType, reason string) error {
	if err := e.store.SettleContest(ctx, st); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadySettled):
			metrics.SettlementConflicts.Inc()
			e.logger.Debug("contest already closed by another run", zap.String("contest_id", c.ID))
		case errors.Is(err, store.ErrStale):
			metrics.SettlementConflicts.Inc()
			e.logger.Info("contest changed during run, left for next tick",
				zap.String("contest_id", c.ID), zap.Error(err))
		}
		return err
	}

	metrics.Settlements.WithLabelValues(string(st.WinnerLabel)).Inc()
	for _, g := range st.Gains {
		metrics.GainsRecorded.WithLabelValues(string(g.Kind)).Add(g.Amount.InexactFloat64())
	}
	e.logger.Info("contest closed",
		zap.String("contest_id", c.ID),
		zap.String("outcome", string(st.WinnerLabel)),
		zap.String("reason", reason),
		zap.String("creator_win", st.CreatorWin.String()),
		zap.String("claimer_win", st.ClaimerWin.String()),
		zap.String("house_profit", st.TopPropProfit.String()),
	)

	ev := notify.Event{
		Type:          eventType,
		ContestID:     c.ID,
		ContestType:   c.Type,
		WinnerLabel:   st.WinnerLabel,
		CreatorUserID: c.Creator.UserID,
		ClaimerUserID: c.Claimer.UserID,
		CreatorWin:    st.CreatorWin.String(),
		ClaimerWin:    st.ClaimerWin.String(),
		Reason:        reason,
		At:            st.EndedAt,
	}
	if st.WinnerID != nil {
		ev.WinnerID = *st.WinnerID
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Debug("notification not delivered", zap.String("contest_id", c.ID), zap.Error(err))
	}
	return nil
}

// resolvedSettlement turns a decision-table result into the terminal write.
// A winner receives the entry back plus maxWin; a push refunds both sides.
func (e *Engine) resolvedSettlement(c *model.Contest, res outcome.Result) *model.Settlement {
	now := e.clock.Now()
	st := &model.Settlement{ContestID: c.ID, ExpectedStatus: c.Status, EndedAt: now}

	if res.Push() {
		st.WinnerLabel = model.LabelPush
		st.CreatorWin, st.ClaimerWin = decimal.Zero, decimal.Zero
		st.TopPropProfit = decimal.Zero
		st.Gains = []model.Gain{
			gain(c, c.Creator.UserID, c.EntryAmount, model.GainRefund, now),
			gain(c, c.Claimer.UserID, c.EntryAmount, model.GainRefund, now),
		}
		return st
	}

	winner := c.Side(res.Winner)
	winnerID := winner.UserID
	st.WinnerID = &winnerID
	st.WinnerLabel = model.LabelCreator
	if res.Winner == model.RoleClaimer {
		st.WinnerLabel = model.LabelClaimer
	}
	st.CreatorWin = res.CreatorNet
	st.ClaimerWin = res.ClaimerNet
	st.TopPropProfit = res.HouseProfit
	st.Gains = []model.Gain{
		gain(c, winnerID, c.EntryAmount, model.GainEntryReturn, now),
		gain(c, winnerID, winner.MaxWin, model.GainWinnings, now),
	}
	return st
}

// voidSettlement closes a contest without running the decision table. An
// unmatched contest refunds the creator; a matched one refunds both.
func (e *Engine) voidSettlement(c *model.Contest) *model.Settlement {
	now := e.clock.Now()
	st := &model.Settlement{
		ContestID:      c.ID,
		ExpectedStatus: c.Status,
		EndedAt:        now,
		CreatorWin:     decimal.Zero,
		ClaimerWin:     decimal.Zero,
		TopPropProfit:  decimal.Zero,
	}
	if !c.Matched() {
		st.WinnerLabel = model.LabelUnmatched
		st.Gains = []model.Gain{gain(c, c.Creator.UserID, c.EntryAmount, model.GainRefund, now)}
		return st
	}
	st.WinnerLabel = model.LabelPush
	st.Gains = []model.Gain{
		gain(c, c.Creator.UserID, c.EntryAmount, model.GainRefund, now),
		gain(c, c.Claimer.UserID, c.EntryAmount, model.GainRefund, now),
	}
	return st
}

func gain(c *model.Contest, userID string, amount decimal.Decimal, kind model.GainKind, at time.Time) model.Gain {
	return model.Gain{
		ID:          uuid.New().String(),
		ContestID:   c.ID,
		UserID:      userID,
		Amount:      amount,
		ContestType: c.Type,
		Kind:        kind,
		CreatedAt:   at,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
