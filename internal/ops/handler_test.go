package ops_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/clock"
	"github.com/topprop/settlement-engine/internal/contest"
	"github.com/topprop/settlement-engine/internal/model"
	"github.com/topprop/settlement-engine/internal/ops"
	"github.com/topprop/settlement-engine/internal/provider"
	"github.com/topprop/settlement-engine/internal/settlement"
	"github.com/topprop/settlement-engine/internal/spread"
	"github.com/topprop/settlement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const token = "s3cret"

// newTestEnv wires the real factory and engine over an in-memory store.
func newTestEnv(t *testing.T) (chi.Router, *store.MemoryStore, *provider.Static) {
	t.Helper()
	ms := store.NewMemoryStore()
	prov := provider.NewStatic()
	prov.SetBalance("alice", d(100))
	prov.SetBalance("bob", d(100))

	clk := clock.NewFixed(time.Date(2026, 9, 13, 17, 0, 0, 0, time.UTC))
	calc := spread.NewCalculator(ms, spread.Options{}, nil)
	factory := contest.NewFactory(ms, prov, prov, calc, clk, nil)
	engine := settlement.NewEngine(ms, prov, nil, clk, nil, settlement.Options{})

	h := ops.NewHandler(engine, factory, ms, nil, token, nil)
	return h.Router(), ms, prov
}

func do(t *testing.T, router chi.Router, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, router chi.Router, method, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(v)
	return do(t, router, method, path, body)
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestEnv(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "settlement-engine") {
		t.Errorf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	router, _, _ := newTestEnv(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/settlement/run", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAdmin_ContestLifecycle(t *testing.T) {
	router, _, prov := newTestEnv(t)

	csv := "spread,spread_type,spread_pay_factor,ml_pay_factor,projection_spread\n" +
		"-3.5,1-2,0.9,0.5,-3.5\n" +
		"3.5,1-2,1.1,1.4,3.5\n"
	w := do(t, router, "PUT", "/admin/spreads", []byte(csv))
	if w.Code != http.StatusOK {
		t.Fatalf("spread upload: %d %s", w.Code, w.Body.String())
	}

	prov.SetPlayer(model.PlayerStats{PlayerID: "p1", ProjectedFantasyPoints: d(20)})
	prov.SetPlayer(model.PlayerStats{PlayerID: "p2", ProjectedFantasyPoints: d(16.5)})

	w = doJSON(t, router, "POST", "/admin/contests", contest.CreateRequest{
		Type:          model.ContestPlayer,
		CreatorUserID: "alice",
		CreatorSideID: "p1",
		ClaimerSideID: "p2",
		EntryAmount:   d(10),
		ScoringType:   model.ScoringNonPPR,
		WinBonus:      true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created model.Contest
	json.NewDecoder(w.Body).Decode(&created)
	if !created.Creator.MaxWin.Equal(d(8.4)) {
		t.Errorf("expected creator max win 8.4 from uploaded table, got %s", created.Creator.MaxWin)
	}

	w = doJSON(t, router, "POST", "/admin/contests/"+created.ID+"/claim", ops.ClaimBody{UserID: "bob"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", w.Code, w.Body.String())
	}

	prov.SetPlayer(model.PlayerStats{PlayerID: "p1", IsOver: true, FantasyPoints: d(25)})
	prov.SetPlayer(model.PlayerStats{PlayerID: "p2", IsOver: true, FantasyPoints: d(20)})

	w = do(t, router, "POST", "/admin/settlement/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run: %d %s", w.Code, w.Body.String())
	}
	var rep settlement.Report
	json.NewDecoder(w.Body).Decode(&rep)
	if rep.Settled != 1 {
		t.Errorf("expected 1 settled, got %+v", rep)
	}

	w = do(t, router, "GET", "/admin/contests/"+created.ID+"/gains", nil)
	var gains []model.Gain
	json.NewDecoder(w.Body).Decode(&gains)
	if len(gains) != 2 {
		t.Errorf("expected 2 gains, got %d", len(gains))
	}

	w = do(t, router, "POST", "/admin/contests/"+created.ID+"/void", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("voiding a closed contest: expected 409, got %d", w.Code)
	}

	w = do(t, router, "GET", "/admin/users/alice/gains", nil)
	gains = nil
	json.NewDecoder(w.Body).Decode(&gains)
	if len(gains) != 2 {
		t.Errorf("expected 2 gains for alice, got %d", len(gains))
	}
}

func TestAdmin_CreateRejected(t *testing.T) {
	router, ms, prov := newTestEnv(t)
	prov.SetPlayer(model.PlayerStats{PlayerID: "p1", ProjectedFantasyPoints: d(70)})
	prov.SetPlayer(model.PlayerStats{PlayerID: "p2", ProjectedFantasyPoints: d(19)})

	w := doJSON(t, router, "POST", "/admin/contests", contest.CreateRequest{
		Type:          model.ContestPlayer,
		CreatorUserID: "alice",
		CreatorSideID: "p1",
		ClaimerSideID: "p2",
		EntryAmount:   d(10),
		ScoringType:   model.ScoringNonPPR,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var resp ops.ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Code != string(contest.CodeSpreadTooLarge) {
		t.Errorf("expected SPREAD_TOO_LARGE, got %q", resp.Code)
	}

	open, _ := ms.ListUnsettled(context.Background(), model.StatusOpen)
	if len(open) != 0 {
		t.Errorf("rejected contest persisted")
	}
}

func TestAdmin_VoidCheckAndNotFound(t *testing.T) {
	router, ms, _ := newTestEnv(t)
	c := &model.Contest{
		ID: "c1", Type: model.ContestPlayer, EntryAmount: d(10), Status: model.StatusOpen,
		Creator: model.Side{SideID: "p1", UserID: "alice"},
		Claimer: model.Side{SideID: "p2"},
		Roster: []model.SnapshotPlayer{
			{Role: model.RoleCreator, PlayerID: "p1"},
			{Role: model.RoleClaimer, PlayerID: "p2"},
		},
	}
	if err := ms.CreateContest(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, "POST", "/admin/void-check", ops.VoidCheckRequest{PlayerIDs: []string{"p2"}})
	if w.Code != http.StatusOK {
		t.Fatalf("void check: %d %s", w.Code, w.Body.String())
	}
	got, _ := ms.GetContest(context.Background(), "c1")
	if got.WinnerLabel != model.LabelUnmatched {
		t.Errorf("expected UNMATCHED, got %s", got.WinnerLabel)
	}

	if w := doJSON(t, router, "POST", "/admin/void-check", ops.VoidCheckRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty player list, got %d", w.Code)
	}
	if w := do(t, router, "GET", "/admin/contests/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, router, "PUT", "/admin/spreads", []byte("bad,header\n")); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad CSV, got %d", w.Code)
	}
}
