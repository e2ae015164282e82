package spread

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/topprop/settlement-engine/internal/model"
)

// ErrInvalidRow is returned when a seed file row cannot be parsed.
var ErrInvalidRow = errors.New("spread: invalid table row")

// StaticTable is an in-memory Table. It is read-only after construction.
type StaticTable struct {
	rows map[string]model.SpreadRow
}

// NewStaticTable creates a table holding rows.
func NewStaticTable(rows ...model.SpreadRow) *StaticTable {
	t := &StaticTable{rows: make(map[string]model.SpreadRow, len(rows))}
	for _, r := range rows {
		t.rows[rowKey(r.Spread, r.SpreadType)] = r
	}
	return t
}

func (t *StaticTable) SpreadRow(_ context.Context, spread decimal.Decimal, tier model.SpreadType) (model.SpreadRow, bool, error) {
	r, ok := t.rows[rowKey(spread, tier)]
	return r, ok, nil
}

// rowKey normalizes the spread scale so 7.5 and 7.50 hit the same row.
func rowKey(spread decimal.Decimal, tier model.SpreadType) string {
	return spread.StringFixed(1) + "|" + string(tier)
}

var csvHeader = []string{"spread", "spread_type", "spread_pay_factor", "ml_pay_factor", "projection_spread"}

// LoadCSV parses an administrative seed file. The first line must be the
// header: spread,spread_type,spread_pay_factor,ml_pay_factor,projection_spread
func LoadCSV(r io.Reader) ([]model.SpreadRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range csvHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != h {
			return nil, fmt.Errorf("%w: header column %d is %q, want %q", ErrInvalidRow, i+1, header[i], h)
		}
	}

	var rows []model.SpreadRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string) (model.SpreadRow, error) {
	var nums [4]decimal.Decimal
	for i, idx := range []int{0, 2, 3, 4} {
		v, err := decimal.NewFromString(strings.TrimSpace(rec[idx]))
		if err != nil {
			return model.SpreadRow{}, fmt.Errorf("%w: column %s: %v", ErrInvalidRow, csvHeader[idx], err)
		}
		nums[i] = v
	}
	tier := model.SpreadType(strings.TrimSpace(rec[1]))
	switch tier {
	case model.TierOneToTwo, model.TierThreeToSix, model.TierSevenToEighteen:
	default:
		return model.SpreadRow{}, fmt.Errorf("%w: unknown spread_type %q", ErrInvalidRow, tier)
	}
	if !RoundHalf(nums[0]).Equal(nums[0]) {
		return model.SpreadRow{}, fmt.Errorf("%w: spread %s is not a multiple of 0.5", ErrInvalidRow, nums[0])
	}
	return model.SpreadRow{
		Spread:           nums[0],
		SpreadType:       tier,
		SpreadPayFactor:  nums[1],
		MLPayFactor:      nums[2],
		ProjectionSpread: nums[3],
	}, nil
}
