package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
	"github.com/topprop/settlement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedContest(t *testing.T, ms *store.MemoryStore, id string, created time.Time) *model.Contest {
	t.Helper()
	c := &model.Contest{
		ID:          id,
		Type:        model.ContestPlayer,
		EntryAmount: d(10),
		ScoringType: model.ScoringNonPPR,
		Tier:        model.TierOneToTwo,
		Status:      model.StatusOpen,
		Creator:     model.Side{SideID: "p1", UserID: "alice"},
		Claimer:     model.Side{SideID: "p2"},
		Roster: []model.SnapshotPlayer{
			{Role: model.RoleCreator, PlayerID: "p1"},
			{Role: model.RoleClaimer, PlayerID: "p2"},
		},
		CreatedAt: created,
	}
	if err := ms.CreateContest(context.Background(), c); err != nil {
		t.Fatalf("seed contest: %v", err)
	}
	return c
}

func settlement(id string) *model.Settlement {
	now := time.Date(2026, 9, 14, 4, 0, 0, 0, time.UTC)
	return &model.Settlement{
		ContestID:   id,
		WinnerLabel: model.LabelUnmatched,
		EndedAt:     now,
		PlayerPoints: map[string]decimal.Decimal{
			"p1": d(12.4),
		},
		Gains: []model.Gain{{
			ID: "g-" + id, ContestID: id, UserID: "alice", Amount: d(10),
			ContestType: model.ContestPlayer, Kind: model.GainRefund, CreatedAt: now,
		}},
	}
}

func TestMemoryStore_ClaimOnlyOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", time.Now())

	if err := ms.ClaimContest(ctx, "c1", "bob"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := ms.ClaimContest(ctx, "c1", "carol"); !errors.Is(err, store.ErrNotOpen) {
		t.Fatalf("second claim: expected ErrNotOpen, got %v", err)
	}
	if err := ms.ClaimContest(ctx, "missing", "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	c, _ := ms.GetContest(ctx, "c1")
	if c.Status != model.StatusMatched || c.Claimer.UserID != "bob" {
		t.Errorf("expected MATCHED by bob, got %s by %q", c.Status, c.Claimer.UserID)
	}
}

func TestMemoryStore_SettleOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", time.Now())

	if err := ms.SettleContest(ctx, settlement("c1")); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := ms.SettleContest(ctx, settlement("c1")); !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}

	gains, _ := ms.ListGainsByContest(ctx, "c1")
	if len(gains) != 1 {
		t.Fatalf("expected 1 gain, got %d", len(gains))
	}

	c, _ := ms.GetContest(ctx, "c1")
	if !c.Ended || c.Status != model.StatusClosed || c.EndedAt == nil {
		t.Errorf("expected ended CLOSED contest, got ended=%v status=%s", c.Ended, c.Status)
	}
	if c.Roster[0].Points == nil || !c.Roster[0].Points.Equal(d(12.4)) {
		t.Errorf("expected captured points 12.4 for p1, got %v", c.Roster[0].Points)
	}
	if c.Roster[1].Points != nil {
		t.Errorf("expected no points captured for p2")
	}
}

func TestMemoryStore_SettleRefusesStatusChange(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", time.Now())

	st := settlement("c1")
	st.ExpectedStatus = model.StatusOpen
	if err := ms.ClaimContest(ctx, "c1", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := ms.SettleContest(ctx, st); !errors.Is(err, store.ErrStale) {
		t.Fatalf("expected ErrStale after a claim, got %v", err)
	}

	c, _ := ms.GetContest(ctx, "c1")
	if c.Ended || c.Status != model.StatusMatched {
		t.Errorf("expected contest untouched, got ended=%v status=%s", c.Ended, c.Status)
	}
	if gains, _ := ms.ListGainsByContest(ctx, "c1"); len(gains) != 0 {
		t.Errorf("expected no gains, got %d", len(gains))
	}

	st.ExpectedStatus = model.StatusMatched
	if err := ms.SettleContest(ctx, st); err != nil {
		t.Fatalf("settle with current status: %v", err)
	}
}

func TestMemoryStore_ConcurrentSettleWritesOneLedger(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", time.Now())

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ms.SettleContest(ctx, settlement("c1")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful settle, got %d", wins)
	}
	gains, _ := ms.ListGainsByUser(ctx, "alice")
	if len(gains) != 1 {
		t.Errorf("expected 1 gain for alice, got %d", len(gains))
	}
}

func TestMemoryStore_ListUnsettled(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	seedContest(t, ms, "c2", base.Add(time.Hour))
	seedContest(t, ms, "c1", base)
	seedContest(t, ms, "c3", base.Add(2*time.Hour))
	_ = ms.ClaimContest(ctx, "c3", "bob")
	_ = ms.SettleContest(ctx, settlement("c2"))

	open, _ := ms.ListUnsettled(ctx, model.StatusOpen)
	if len(open) != 1 || open[0].ID != "c1" {
		t.Errorf("expected only c1 open, got %v", ids(open))
	}

	all, _ := ms.ListUnsettled(ctx, model.StatusOpen, model.StatusMatched)
	if got := ids(all); len(got) != 2 || got[0] != "c1" || got[1] != "c3" {
		t.Errorf("expected [c1 c3] ordered by creation, got %v", got)
	}

	byPlayer, _ := ms.ListUnsettledByPlayers(ctx, []string{"p2", "nobody"})
	if len(byPlayer) != 2 {
		t.Errorf("expected 2 contests referencing p2, got %v", ids(byPlayer))
	}
}

func TestMemoryStore_GetContestReturnsCopy(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", time.Now())

	c, _ := ms.GetContest(ctx, "c1")
	c.Roster[0].PlayerID = "mutated"
	c.Status = model.StatusClosed

	again, _ := ms.GetContest(ctx, "c1")
	if again.Roster[0].PlayerID != "p1" || again.Status != model.StatusOpen {
		t.Error("stored contest was mutated through a returned copy")
	}
}

func TestMemoryStore_SpreadRows(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	row := model.SpreadRow{Spread: d(-3.5), SpreadType: model.TierThreeToSix, SpreadPayFactor: d(0.8), MLPayFactor: d(0.6)}
	if err := ms.UpsertSpreadRows(ctx, []model.SpreadRow{row}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := ms.SpreadRow(ctx, decimal.RequireFromString("-3.50"), model.TierThreeToSix)
	if err != nil || !ok {
		t.Fatalf("expected row, ok=%v err=%v", ok, err)
	}
	if !got.SpreadPayFactor.Equal(d(0.8)) {
		t.Errorf("expected pay factor 0.8, got %s", got.SpreadPayFactor)
	}

	if _, ok, _ := ms.SpreadRow(ctx, d(-3.5), model.TierOneToTwo); ok {
		t.Error("expected no row for a different tier")
	}
}

func ids(cs []model.Contest) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
