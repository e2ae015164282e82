package store_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topprop/settlement-engine/internal/model"
	"github.com/topprop/settlement-engine/internal/store"
)

// newPostgresStore connects to SE_TEST_POSTGRES_DSN and skips the test when
// it is unset.
func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	dsn := os.Getenv("SE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	ps := store.NewPostgresStore(pool)
	if err := ps.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return ps
}

func createOpenContest(t *testing.T, ps *store.PostgresStore) string {
	t.Helper()
	id := uuid.New().String()
	c := &model.Contest{
		ID:          id,
		Type:        model.ContestPlayer,
		EntryAmount: d(10),
		ScoringType: model.ScoringNonPPR,
		Tier:        model.TierOneToTwo,
		Status:      model.StatusOpen,
		Creator:     model.Side{SideID: "p1", UserID: "alice-" + id},
		Claimer:     model.Side{SideID: "p2"},
		Roster: []model.SnapshotPlayer{
			{Role: model.RoleCreator, PlayerID: "p1"},
			{Role: model.RoleClaimer, PlayerID: "p2"},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := ps.CreateContest(context.Background(), c); err != nil {
		t.Fatalf("create contest: %v", err)
	}
	return id
}

func refund(id, userID string) *model.Settlement {
	now := time.Now().UTC()
	return &model.Settlement{
		ContestID:      id,
		ExpectedStatus: model.StatusOpen,
		WinnerLabel:    model.LabelUnmatched,
		EndedAt:        now,
		Gains: []model.Gain{{
			ID: uuid.New().String(), ContestID: id, UserID: userID, Amount: d(10),
			ContestType: model.ContestPlayer, Kind: model.GainRefund, CreatedAt: now,
		}},
	}
}

func TestPostgresStore_ClaimOnlyOnce(t *testing.T) {
	ps := newPostgresStore(t)
	ctx := context.Background()
	id := createOpenContest(t, ps)

	if err := ps.ClaimContest(ctx, id, "bob"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := ps.ClaimContest(ctx, id, "carol"); !errors.Is(err, store.ErrNotOpen) {
		t.Fatalf("second claim: expected ErrNotOpen, got %v", err)
	}
	if err := ps.ClaimContest(ctx, uuid.New().String(), "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_SettleRefusesStatusChange(t *testing.T) {
	ps := newPostgresStore(t)
	ctx := context.Background()
	id := createOpenContest(t, ps)
	alice := "alice-" + id

	if err := ps.ClaimContest(ctx, id, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := ps.SettleContest(ctx, refund(id, alice)); !errors.Is(err, store.ErrStale) {
		t.Fatalf("expected ErrStale after a claim, got %v", err)
	}
	if gains, _ := ps.ListGainsByContest(ctx, id); len(gains) != 0 {
		t.Fatalf("expected no gains, got %d", len(gains))
	}

	st := refund(id, alice)
	st.ExpectedStatus = model.StatusMatched
	st.WinnerLabel = model.LabelPush
	if err := ps.SettleContest(ctx, st); err != nil {
		t.Fatalf("settle with current status: %v", err)
	}
	c, err := ps.GetContest(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Ended || c.Status != model.StatusClosed || c.WinnerLabel != model.LabelPush {
		t.Errorf("expected CLOSED PUSH, got ended=%v %s %s", c.Ended, c.Status, c.WinnerLabel)
	}
}

func TestPostgresStore_ConcurrentSettleWritesOneLedger(t *testing.T) {
	ps := newPostgresStore(t)
	ctx := context.Background()
	id := createOpenContest(t, ps)
	alice := "alice-" + id

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ps.SettleContest(ctx, refund(id, alice))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrAlreadySettled):
				conflicts++
			default:
				t.Errorf("unexpected settle error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != 7 {
		t.Errorf("expected 1 win and 7 conflicts, got %d and %d", wins, conflicts)
	}
	gains, err := ps.ListGainsByUser(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(gains) != 1 {
		t.Errorf("expected 1 gain for %s, got %d", alice, len(gains))
	}
	if err := ps.SettleContest(ctx, refund(uuid.New().String(), alice)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing contest, got %v", err)
	}
}
