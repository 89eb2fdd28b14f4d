package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LJTian/TicketWatch/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	pingErr   error
	snapshot  *storage.TDFSnapshot
	discounts map[string][]storage.Discount
	shows     []storage.Show
	byShow    map[uint][]storage.Discount
	booth     *storage.BoothLog
	err       error

	lastDate string
	lastTerm string
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) LatestTDFSnapshot(context.Context) (*storage.TDFSnapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeStore) ListDiscounts(_ context.Context, date string) ([]storage.Discount, error) {
	f.lastDate = date
	return f.discounts[date], f.err
}

func (f *fakeStore) SearchShows(_ context.Context, term string) ([]storage.Show, error) {
	f.lastTerm = term
	return f.shows, f.err
}

func (f *fakeStore) DiscountsByShow(_ context.Context, id uint) ([]storage.Discount, error) {
	return f.byShow[id], f.err
}

func (f *fakeStore) LatestBoothLog(context.Context) (*storage.BoothLog, error) {
	return f.booth, f.err
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, store *fakeStore, path string) (int, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s := NewServer(store)
	s.now = func() time.Time { return time.Date(2025, 8, 21, 2, 0, 0, 0, time.UTC) }
	s.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func price(v float64) *float64 { return &v }

func TestHealth(t *testing.T) {
	code, _ := serve(t, &fakeStore{}, "/health")
	assert.Equal(t, http.StatusOK, code)

	code, _ = serve(t, &fakeStore{pingErr: errors.New("down")}, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLatestTDF(t *testing.T) {
	code, env := serve(t, &fakeStore{}, "/api/v1/tdf/latest")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Code)

	snap := storage.SnapshotFromOffers(nil)
	snap.ID = 4
	code, env = serve(t, &fakeStore{snapshot: &snap}, "/api/v1/tdf/latest")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", env.Code)
	assert.Contains(t, string(env.Data), `"broadway":[]`)
}

func TestListDiscountsDefaultsToEasternToday(t *testing.T) {
	store := &fakeStore{discounts: map[string][]storage.Discount{
		"2025-08-20": {{ID: 1, Show: storage.Show{Name: "Chicago"}, DiscountPercent: 50, PerformanceDate: "2025-08-20"}},
	}}

	code, env := serve(t, store, "/api/v1/tkts/discounts")
	assert.Equal(t, http.StatusOK, code)
	// 02:00 UTC is still the previous evening in New York
	assert.Equal(t, "2025-08-20", store.lastDate)

	var list []storage.Discount
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Chicago", list[0].Show.Name)
}

func TestListDiscountsEmptyIsArray(t *testing.T) {
	code, env := serve(t, &fakeStore{}, "/api/v1/tkts/discounts?date=2025-09-01")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", string(env.Data))
}

func TestListDiscountsRejectsBadDate(t *testing.T) {
	code, env := serve(t, &fakeStore{}, "/api/v1/tkts/discounts?date=tomorrow")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_argument", env.Code)
}

func TestSearchShows(t *testing.T) {
	store := &fakeStore{shows: []storage.Show{{ID: 1, Name: "Chicago"}}}
	code, env := serve(t, store, "/api/v1/tkts/shows?q=chic")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "chic", store.lastTerm)
	assert.Contains(t, string(env.Data), `"name":"Chicago"`)
}

func TestShowStats(t *testing.T) {
	store := &fakeStore{byShow: map[uint][]storage.Discount{
		7: {
			{DiscountPercent: 50, LowPrice: price(60), IsMatinee: true},
			{DiscountPercent: 30, LowPrice: price(80), HighPrice: price(120)},
			{DiscountPercent: 40, IsMatinee: true},
		},
	}}

	code, env := serve(t, store, "/api/v1/tkts/shows/7/stats?matinee=true")
	require.Equal(t, http.StatusOK, code)

	var st struct {
		Count        int      `json:"count"`
		AvgDiscount  *float64 `json:"avgDiscount"`
		AvgLowPrice  *float64 `json:"avgLowPrice"`
		AvgHighPrice *float64 `json:"avgHighPrice"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 2, st.Count)
	require.NotNil(t, st.AvgDiscount)
	assert.InDelta(t, 45.0, *st.AvgDiscount, 1e-9)
	assert.InDelta(t, 60.0, *st.AvgLowPrice, 1e-9)
	assert.Nil(t, st.AvgHighPrice)

	code, _ = serve(t, store, "/api/v1/tkts/shows/7/stats?matinee=maybe")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, store, "/api/v1/tkts/shows/abc/stats")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLatestBooths(t *testing.T) {
	code, _ := serve(t, &fakeStore{}, "/api/v1/tkts/booths")
	assert.Equal(t, http.StatusNotFound, code)

	code, env := serve(t, &fakeStore{booth: &storage.BoothLog{TimesSquareOpen: true}}, "/api/v1/tkts/booths")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"timesSquareOpen":true`)
}

func TestStoreErrorIsInternal(t *testing.T) {
	code, env := serve(t, &fakeStore{err: errors.New("db down")}, "/api/v1/tkts/shows")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal_error", env.Code)
}
