package backup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"

	"github.com/bobmcallan/pfreturns/internal/models"
)

// WriteRecords writes records as CSV with a models.Columns header.
// Null values are written as empty fields.
func WriteRecords(w io.Writer, records []models.ReturnRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(models.Columns); err != nil {
		return err
	}
	row := make([]string, len(models.Columns))
	for _, r := range records {
		row[0] = r.AssetTicker
		row[1] = r.ReturnDate
		row[2] = formatFloat(r.MonthlyReturn)
		row[3] = formatFloat(r.Price)
		row[4] = formatFloat(r.Volume)
		row[5] = r.AssetName.ValueOrZero()
		row[6] = r.AssetCategory.ValueOrZero()
		row[7] = formatFloat(r.ExpenseRatio)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadRecords parses CSV written by WriteRecords or any export with a header row
// naming asset_ticker and return_date. Unknown columns are ignored.
func ReadRecords(r io.Reader) ([]models.ReturnRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv has no header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range []string{"asset_ticker", "return_date"} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("csv missing required column %q", col)
		}
	}

	field := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []models.ReturnRecord
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		rec := models.ReturnRecord{
			AssetTicker:   field(row, "asset_ticker"),
			ReturnDate:    field(row, "return_date"),
			AssetName:     parseString(field(row, "asset_name")),
			AssetCategory: parseString(field(row, "asset_category")),
		}
		if rec.AssetTicker == "" || rec.ReturnDate == "" {
			return nil, fmt.Errorf("csv line %d: missing ticker or date", line)
		}
		for col, dst := range map[string]*null.Float{
			"monthly_return": &rec.MonthlyReturn,
			"price":          &rec.Price,
			"volume":         &rec.Volume,
			"expense_ratio":  &rec.ExpenseRatio,
		} {
			v, err := parseFloat(field(row, col))
			if err != nil {
				return nil, fmt.Errorf("csv line %d column %s: %w", line, col, err)
			}
			*dst = v
		}
		records = append(records, rec)
	}
	return records, nil
}

func formatFloat(f null.Float) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', -1, 64)
}

func parseFloat(s string) (null.Float, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return null.Float{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, err
	}
	return null.FloatFrom(v), nil
}

func parseString(s string) null.String {
	if s == "" {
		return null.String{}
	}
	return null.StringFrom(s)
}
