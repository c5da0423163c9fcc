package fdc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestClient(srvURL string, opts ...Option) Client {
	opts = append([]Option{WithBaseURL(srvURL), WithRetry(fastRetry()), WithRateLimiter(nil)}, opts...)
	return NewClient("test-key", opts...)
}

func floatp(v float64) *float64 { return &v }

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/foods/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "egg", q.Get("query"))
		assert.Equal(t, "1", q.Get("pageSize"))
		assert.Equal(t, []string{"Foundation", "SR Legacy"}, q["dataType"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"totalHits": 1,
			"foods": [{
				"fdcId": 748967,
				"description": "Eggs, Grade A, Large, egg whole",
				"dataType": "Foundation",
				"foodNutrients": [
					{"nutrientId": 1003, "nutrientName": "Protein", "unitName": "G", "value": 12.444},
					{"nutrientId": 1004, "nutrientName": "Total lipid (fat)", "unitName": "G", "value": 9.96},
					{"nutrientId": 1051, "nutrientName": "Water", "unitName": "G", "value": 76.2}
				]
			}]
		}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Search(context.Background(), "egg")
	require.NoError(t, err)
	top := resp.Top()
	require.NotNil(t, top)
	assert.Equal(t, 748967, top.FDCID)
	assert.Equal(t, model.Nutrients{model.Protein: 12.44, model.Fat: 9.96}, top.Nutrients())
}

func TestSearch_Options(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("pageSize"))
		assert.Equal(t, []string{"Branded"}, r.URL.Query()["dataType"])
		_, _ = w.Write([]byte(`{"foods": []}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Search(context.Background(), "kale chips",
		WithPageSize(5), WithDataTypes(DataTypeBranded))
	require.NoError(t, err)
	assert.Nil(t, resp.Top())
}

func TestSearch_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(SearchResponse{TotalHits: 0})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Search(context.Background(), "egg")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_RateLimitedExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"OVER_RATE_LIMIT"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Search(context.Background(), "egg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_RetryAfterCarried(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(srv.URL).Search(context.Background(), "egg")
	require.Error(t, err)

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 7*time.Second, te.RetryAfter)
	assert.Less(t, time.Since(start), 2*time.Second, "wait is capped by MaxBackoff")
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{" 120 ", 2 * time.Minute},
		{"0", 0},
		{"-5", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfter(tt.in), tt.in)
	}
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"API_KEY_INVALID"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Search(context.Background(), "egg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Search(context.Background(), "egg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestSearch_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"foods": []}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL, WithDelay(time.Second)).Search(ctx, "egg")
	assert.Error(t, err)
}

func TestFood_NutrientsNestedForm(t *testing.T) {
	t.Parallel()

	f := Food{FoodNutrients: []FoodNutrient{
		{Nutrient: &NutrientRef{ID: 1008, Name: "Energy"}, Amount: floatp(143.004)},
		{Nutrient: &NutrientRef{ID: 1089, Name: "Iron, Fe"}, Amount: floatp(1.75)},
		{Nutrient: &NutrientRef{ID: 1093, Name: "Sodium, Na"}},
		{NutrientID: 9999, Value: floatp(1)},
	}}

	assert.Equal(t, model.Nutrients{model.Calories: 143, model.Iron: 1.75}, f.Nutrients())
}

func TestFood_NutrientsZeroIsKnown(t *testing.T) {
	t.Parallel()

	f := Food{FoodNutrients: []FoodNutrient{{NutrientID: 1257, Value: floatp(0)}}}
	v, ok := f.Nutrients().Get(model.TransFat)
	require.True(t, ok)
	assert.Zero(t, v)
}
