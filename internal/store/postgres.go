package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Spread table ---

func (s *PostgresStore) SpreadRow(ctx context.Context, spread decimal.Decimal, tier model.SpreadType) (model.SpreadRow, bool, error) {
	var r model.SpreadRow
	var spreadS, payS, mlS, projS string

	err := s.pool.QueryRow(ctx,
		`SELECT spread::TEXT, spread_type, spread_pay_factor::TEXT, ml_pay_factor::TEXT, projection_spread::TEXT
		 FROM spread_rows WHERE spread = $1::NUMERIC AND spread_type = $2`,
		spread.String(), string(tier)).
		Scan(&spreadS, &r.SpreadType, &payS, &mlS, &projS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SpreadRow{}, false, nil
	}
	if err != nil {
		return model.SpreadRow{}, false, fmt.Errorf("get spread row %s/%s: %w", spread, tier, err)
	}

	r.Spread = dec(spreadS)
	r.SpreadPayFactor = dec(payS)
	r.MLPayFactor = dec(mlS)
	r.ProjectionSpread = dec(projS)
	return r, true, nil
}

func (s *PostgresStore) UpsertSpreadRows(ctx context.Context, rows []model.SpreadRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO spread_rows (spread, spread_type, spread_pay_factor, ml_pay_factor, projection_spread)
			 VALUES ($1::NUMERIC, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
			 ON CONFLICT (spread, spread_type) DO UPDATE
			 SET spread_pay_factor = EXCLUDED.spread_pay_factor,
			     ml_pay_factor = EXCLUDED.ml_pay_factor,
			     projection_spread = EXCLUDED.projection_spread`,
			r.Spread.String(), string(r.SpreadType),
			r.SpreadPayFactor.String(), r.MLPayFactor.String(), r.ProjectionSpread.String(),
		); err != nil {
			return fmt.Errorf("upsert spread row %s/%s: %w", r.Spread, r.SpreadType, err)
		}
	}
	return tx.Commit(ctx)
}

// --- Contests ---

const contestColumns = `id, type, league_id, entry_amount::TEXT, scoring_type, win_bonus, tier,
	status, ended, ended_at,
	creator_side_id, creator_user_id, creator_proj::TEXT, creator_spread::TEXT, creator_cover::TEXT,
	creator_win_bonus::TEXT, creator_max_win::TEXT, creator_actual::TEXT, creator_win_amount::TEXT,
	claimer_side_id, COALESCE(claimer_user_id, ''), claimer_proj::TEXT, claimer_spread::TEXT, claimer_cover::TEXT,
	claimer_win_bonus::TEXT, claimer_max_win::TEXT, claimer_actual::TEXT, claimer_win_amount::TEXT,
	spread_value::TEXT, ml_value::TEXT, winner_id, winner_label, top_prop_profit::TEXT, created_at`

func (s *PostgresStore) CreateContest(ctx context.Context, c *model.Contest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cr, cl := c.Creator, c.Claimer
	_, err = tx.Exec(ctx,
		`INSERT INTO contests (
			id, type, league_id, entry_amount, scoring_type, win_bonus, tier, status, ended, ended_at,
			creator_side_id, creator_user_id, creator_proj, creator_spread, creator_cover,
			creator_win_bonus, creator_max_win, creator_actual, creator_win_amount,
			claimer_side_id, claimer_user_id, claimer_proj, claimer_spread, claimer_cover,
			claimer_win_bonus, claimer_max_win, claimer_actual, claimer_win_amount,
			spread_value, ml_value, winner_id, winner_label, top_prop_profit, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9, $10,
			$11, $12, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC,
			$16::NUMERIC, $17::NUMERIC, $18::NUMERIC, $19::NUMERIC,
			$20, $21, $22::NUMERIC, $23::NUMERIC, $24::NUMERIC,
			$25::NUMERIC, $26::NUMERIC, $27::NUMERIC, $28::NUMERIC,
			$29::NUMERIC, $30::NUMERIC, $31, $32, $33::NUMERIC, $34)`,
		c.ID, string(c.Type), c.LeagueID, c.EntryAmount.String(), string(c.ScoringType), c.WinBonus, string(c.Tier),
		string(c.Status), c.Ended, c.EndedAt,
		cr.SideID, cr.UserID, cr.ProjFantasyPoints.String(), cr.Spread.String(), cr.Cover.String(),
		cr.WinBonus.String(), cr.MaxWin.String(), cr.ActualFantasyPoints.String(), cr.WinAmount.String(),
		cl.SideID, nullString(cl.UserID), cl.ProjFantasyPoints.String(), cl.Spread.String(), cl.Cover.String(),
		cl.WinBonus.String(), cl.MaxWin.String(), cl.ActualFantasyPoints.String(), cl.WinAmount.String(),
		c.SpreadValue.String(), c.MLValue.String(), c.WinnerID, string(c.WinnerLabel), c.TopPropProfit.String(), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contest %s: %w", c.ID, err)
	}

	for _, p := range c.Roster {
		if _, err := tx.Exec(ctx,
			`INSERT INTO contest_roster (contest_id, role, player_id) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			c.ID, string(p.Role), p.PlayerID,
		); err != nil {
			return fmt.Errorf("insert roster %s/%s: %w", c.ID, p.PlayerID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	c, err := scanContest(s.pool.QueryRow(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contest %s: %w", id, err)
	}

	contests := []model.Contest{*c}
	if err := attachRosters(ctx, s.pool, contests); err != nil {
		return nil, err
	}
	return &contests[0], nil
}

func (s *PostgresStore) ClaimContest(ctx context.Context, id, claimerUserID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contests SET claimer_user_id = $2, status = $3
		 WHERE id = $1 AND status = $4 AND ended = FALSE`,
		id, claimerUserID, string(model.StatusMatched), string(model.StatusOpen),
	)
	if err != nil {
		return fmt.Errorf("claim contest %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := contestExists(ctx, s.pool, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("contest %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("contest %s: %w", id, ErrNotOpen)
	}
	return nil
}

func (s *PostgresStore) ListUnsettled(ctx context.Context, statuses ...model.ContestStatus) ([]model.Contest, error) {
	st := make([]string, len(statuses))
	for i, v := range statuses {
		st[i] = string(v)
	}
	return s.listContests(ctx,
		`SELECT `+contestColumns+` FROM contests
		 WHERE ended = FALSE AND status = ANY($1) ORDER BY created_at`, st)
}

func (s *PostgresStore) ListUnsettledByPlayers(ctx context.Context, playerIDs []string) ([]model.Contest, error) {
	return s.listContests(ctx,
		`SELECT `+contestColumns+` FROM contests
		 WHERE ended = FALSE
		   AND id IN (SELECT contest_id FROM contest_roster WHERE player_id = ANY($1))
		 ORDER BY created_at`, playerIDs)
}

func (s *PostgresStore) listContests(ctx context.Context, query string, args ...any) ([]model.Contest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contests []model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachRosters(ctx, s.pool, contests); err != nil {
		return nil, err
	}
	return contests, nil
}

// --- Settlement and immutable ledger ---

// SettleContest runs the terminal write as one transaction. The UPDATE is
// conditional on ended = FALSE, so of two overlapping runs only one
// changes a row; the other sees zero rows affected and writes nothing.
func (s *PostgresStore) SettleContest(ctx context.Context, st *model.Settlement) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE contests
		 SET status = $2, ended = TRUE, ended_at = $3,
		     winner_id = $4, winner_label = $5,
		     creator_win_amount = $6::NUMERIC, claimer_win_amount = $7::NUMERIC,
		     creator_actual = $8::NUMERIC, claimer_actual = $9::NUMERIC,
		     top_prop_profit = $10::NUMERIC
		 WHERE id = $1 AND ended = FALSE AND ($11 = '' OR status = $11)`,
		st.ContestID, string(model.StatusClosed), st.EndedAt,
		st.WinnerID, string(st.WinnerLabel),
		st.CreatorWin.String(), st.ClaimerWin.String(),
		st.CreatorActual.String(), st.ClaimerActual.String(),
		st.TopPropProfit.String(), string(st.ExpectedStatus),
	)
	if err != nil {
		return fmt.Errorf("settle contest %s: %w", st.ContestID, err)
	}
	if tag.RowsAffected() == 0 {
		var ended bool
		var status string
		err := tx.QueryRow(ctx, `SELECT ended, status FROM contests WHERE id = $1`, st.ContestID).Scan(&ended, &status)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("contest %s: %w", st.ContestID, ErrNotFound)
		case err != nil:
			return fmt.Errorf("check contest %s: %w", st.ContestID, err)
		case ended:
			return ErrAlreadySettled
		}
		return fmt.Errorf("contest %s is %s, settled as %s: %w", st.ContestID, status, st.ExpectedStatus, ErrStale)
	}

	for playerID, pts := range st.PlayerPoints {
		if _, err := tx.Exec(ctx,
			`UPDATE contest_roster SET points = $3::NUMERIC WHERE contest_id = $1 AND player_id = $2`,
			st.ContestID, playerID, pts.String(),
		); err != nil {
			return fmt.Errorf("capture points %s/%s: %w", st.ContestID, playerID, err)
		}
	}

	for _, g := range st.Gains {
		if _, err := tx.Exec(ctx,
			`INSERT INTO gains (id, contest_id, user_id, amount, contest_type, kind, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)
			 ON CONFLICT (contest_id, user_id, kind) DO NOTHING`,
			g.ID, g.ContestID, g.UserID, g.Amount.String(), string(g.ContestType), string(g.Kind), g.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert gain %s/%s: %w", g.ContestID, g.Kind, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListGainsByContest(ctx context.Context, contestID string) ([]model.Gain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contest_id, user_id, amount::TEXT, contest_type, kind, created_at
		 FROM gains WHERE contest_id = $1 ORDER BY created_at, kind`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanGains(rows)
}

func (s *PostgresStore) ListGainsByUser(ctx context.Context, userID string) ([]model.Gain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contest_id, user_id, amount::TEXT, contest_type, kind, created_at
		 FROM gains WHERE user_id = $1 ORDER BY created_at, kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanGains(rows)
}

// --- Scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

type pgxRows interface {
	rowScanner
	Next() bool
	Err() error
}

// sideText holds one side's NUMERIC columns as text until parsed.
type sideText struct {
	proj, spread, cover, winBonus, maxWin, actual, winAmount string
}

func (t sideText) apply(s *model.Side) {
	s.ProjFantasyPoints = dec(t.proj)
	s.Spread = dec(t.spread)
	s.Cover = dec(t.cover)
	s.WinBonus = dec(t.winBonus)
	s.MaxWin = dec(t.maxWin)
	s.ActualFantasyPoints = dec(t.actual)
	s.WinAmount = dec(t.winAmount)
}

func scanContest(row rowScanner) (*model.Contest, error) {
	var c model.Contest
	var typ, scoring, tier, status, label string
	var entryS, spreadValueS, mlValueS, profitS string
	var cs, ls sideText

	if err := row.Scan(&c.ID, &typ, &c.LeagueID, &entryS, &scoring, &c.WinBonus, &tier,
		&status, &c.Ended, &c.EndedAt,
		&c.Creator.SideID, &c.Creator.UserID, &cs.proj, &cs.spread, &cs.cover,
		&cs.winBonus, &cs.maxWin, &cs.actual, &cs.winAmount,
		&c.Claimer.SideID, &c.Claimer.UserID, &ls.proj, &ls.spread, &ls.cover,
		&ls.winBonus, &ls.maxWin, &ls.actual, &ls.winAmount,
		&spreadValueS, &mlValueS, &c.WinnerID, &label, &profitS, &c.CreatedAt); err != nil {
		return nil, err
	}

	c.Type = model.ContestType(typ)
	c.ScoringType = model.ScoringType(scoring)
	c.Tier = model.SpreadType(tier)
	c.Status = model.ContestStatus(status)
	c.WinnerLabel = model.WinnerLabel(label)
	c.EntryAmount = dec(entryS)
	c.SpreadValue = dec(spreadValueS)
	c.MLValue = dec(mlValueS)
	c.TopPropProfit = dec(profitS)
	cs.apply(&c.Creator)
	ls.apply(&c.Claimer)
	return &c, nil
}

// attachRosters loads the frozen rosters of contests in one query.
func attachRosters(ctx context.Context, q querier, contests []model.Contest) error {
	if len(contests) == 0 {
		return nil
	}
	ids := make([]string, len(contests))
	idx := make(map[string]int, len(contests))
	for i, c := range contests {
		ids[i] = c.ID
		idx[c.ID] = i
	}

	rows, err := q.Query(ctx,
		`SELECT contest_id, role, player_id, points::TEXT
		 FROM contest_roster WHERE contest_id = ANY($1)
		 ORDER BY contest_id, role, player_id`, ids)
	if err != nil {
		return fmt.Errorf("load rosters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var contestID, role, playerID string
		var pointsS *string
		if err := rows.Scan(&contestID, &role, &playerID, &pointsS); err != nil {
			return err
		}
		sp := model.SnapshotPlayer{Role: model.Role(role), PlayerID: playerID}
		if pointsS != nil {
			p := dec(*pointsS)
			sp.Points = &p
		}
		i := idx[contestID]
		contests[i].Roster = append(contests[i].Roster, sp)
	}
	return rows.Err()
}

func scanGains(rows pgxRows) ([]model.Gain, error) {
	var gains []model.Gain
	for rows.Next() {
		var g model.Gain
		var amountS, typ, kind string

		if err := rows.Scan(&g.ID, &g.ContestID, &g.UserID, &amountS, &typ, &kind, &g.CreatedAt); err != nil {
			return nil, err
		}

		g.Amount = dec(amountS)
		g.ContestType = model.ContestType(typ)
		g.Kind = model.GainKind(kind)
		gains = append(gains, g)
	}
	return gains, rows.Err()
}

func contestExists(ctx context.Context, q querier, id string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check contest %s: %w", id, err)
	}
	return exists, nil
}

func dec(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
