package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pfreturns/internal/models"
)

func TestNewClient_AppendsRestPrefix(t *testing.T) {
	c := NewClient("https://proj.supabase.co/", "k")
	assert.Equal(t, "https://proj.supabase.co/rest/v1", c.baseURL)

	c = NewClient("http://localhost:3000/rest/v1", "k")
	assert.Equal(t, "http://localhost:3000/rest/v1", c.baseURL)
}

func TestSelect_FiltersAndHeaders(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`[{"asset_ticker":"SPY","return_date":"2024-01-31","monthly_return":0.015}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	rows, err := c.Select(context.Background(), models.Query{Ticker: "SPY", Columns: []string{"asset_ticker"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "/rest/v1/asset_returns", got.URL.Path)
	assert.Equal(t, "eq.SPY", got.URL.Query().Get("asset_ticker"))
	assert.Equal(t, "asset_ticker", got.URL.Query().Get("select"))
	assert.Equal(t, "1", got.URL.Query().Get("limit"))
	assert.Equal(t, "secret", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.InDelta(t, 0.015, rows[0].MonthlyReturn.Float64, 1e-12)
}

func TestSelect_PagesUntilShortPage(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		n := 2
		if offset == "4" {
			n = 1
		}
		rows := make([]models.ReturnRecord, n)
		for i := range rows {
			rows[i] = models.ReturnRecord{AssetTicker: "SPY", ReturnDate: "2024-01-31", MonthlyReturn: null.FloatFrom(0.01)}
		}
		json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithPageSize(2))
	rows, err := c.Select(context.Background(), models.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, []string{"0", "2", "4"}, offsets)
}

func TestUpsert_MergeDuplicates(t *testing.T) {
	var got *http.Request
	var body []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	err := c.Upsert(context.Background(), []models.ReturnRecord{
		{AssetTicker: "SPY", ReturnDate: "2024-01-31", MonthlyReturn: null.FloatFrom(0.01)},
		{AssetTicker: "SPY", ReturnDate: "2024-02-29", MonthlyReturn: null.Float{}},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "asset_ticker,return_date", got.URL.Query().Get("on_conflict"))
	assert.Equal(t, "asset_ticker,return_date,monthly_return", got.URL.Query().Get("columns"))
	assert.Contains(t, got.Header.Get("Prefer"), "resolution=merge-duplicates")
	require.Len(t, body, 2)
	assert.Nil(t, body[1]["monthly_return"])
	_, hasPrice := body[0]["price"]
	assert.False(t, hasPrice)
}

func TestUpsert_EnrichedColumns(t *testing.T) {
	var columns string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		columns = r.URL.Query().Get("columns")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	require.NoError(t, c.Upsert(context.Background(), []models.ReturnRecord{
		{AssetTicker: "SPY", ReturnDate: "2024-01-31", MonthlyReturn: null.FloatFrom(0.01), Price: null.FloatFrom(480)},
	}))
	assert.Equal(t, "asset_ticker,return_date,monthly_return,price,volume,asset_name,asset_category,expense_ratio", columns)
}

func TestDelete_AllRowsUsesNeqFilter(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	require.NoError(t, c.Delete(context.Background(), models.Query{}))
	assert.Equal(t, http.MethodDelete, got.Method)
	assert.Equal(t, "neq.", got.URL.Query().Get("asset_ticker"))
}

func TestAPIError_NotStoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad column"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	err := c.Upsert(context.Background(), []models.ReturnRecord{{AssetTicker: "X", ReturnDate: "2024-01-31"}})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, errors.Is(err, models.ErrStoreUnavailable))
}

func TestTransportFailure_IsStoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, "k")
	_, err := c.Select(context.Background(), models.Query{Limit: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))
}

func TestServiceUnavailable_IsStoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	err := c.Delete(context.Background(), models.Query{Ticker: "SPY"})
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))
}

func TestColumns_SampledRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"return_date":"2024-01-31","asset_ticker":"SPY","monthly_return":0.01}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	cols, err := c.Columns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"asset_ticker", "monthly_return", "return_date"}, cols)
}

func TestRequestedTickers_Deduplicated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/asset_requests", r.URL.Path)
		rows := []map[string]string{{"ticker": "qqq"}, {"ticker": "QQQ"}, {"ticker": " "}, {"ticker": "IWM"}}
		json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	tickers, err := c.RequestedTickers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQ", "IWM"}, tickers)
}

func TestWithTables(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithTables("returns_v2", ""))
	_, err := c.Select(context.Background(), models.Query{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "/rest/v1/returns_v2", path)
}
