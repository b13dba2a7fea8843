package backup

import (
	"bytes"
	"strings"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pfreturns/internal/models"
)

func TestWriteRecords_NullsAsEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRecords(&buf, []models.ReturnRecord{
		{AssetTicker: "SPY", ReturnDate: "2024-01-31", MonthlyReturn: null.FloatFrom(0.0123), AssetName: null.StringFrom("SPDR, S&P 500")},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(models.Columns, ","), lines[0])
	assert.Equal(t, `SPY,2024-01-31,0.0123,,,"SPDR, S&P 500",,`, lines[1])
}

func TestReadRecords_ForeignHeaderOrder(t *testing.T) {
	in := "\ufeffreturn_date,asset_ticker,monthly_return,extra\n2024-01-31,SPY,NaN,x\n2024-02-29,SPY,0.02,y\n"
	records, err := ReadRecords(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "SPY", records[0].AssetTicker)
	assert.False(t, records[0].MonthlyReturn.Valid)
	assert.InDelta(t, 0.02, records[1].MonthlyReturn.Float64, 1e-12)
	assert.False(t, records[1].Price.Valid)
}

func TestReadRecords_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"missing column": "asset_ticker,monthly_return\nSPY,0.1\n",
		"bad number":     "asset_ticker,return_date,monthly_return\nSPY,2024-01-31,abc\n",
		"missing key":    "asset_ticker,return_date\n,2024-01-31\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadRecords(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}
