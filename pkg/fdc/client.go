// Package fdc provides a client for the USDA FoodData Central search API.
package fdc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/resilience"
)

// DefaultBaseURL is the production FoodData Central API root.
const DefaultBaseURL = "https://api.nal.usda.gov/fdc/v1"

// Data types accepted by the search endpoint.
const (
	DataTypeFoundation = "Foundation"
	DataTypeSRLegacy   = "SR Legacy"
	DataTypeBranded    = "Branded"
	DataTypeSurvey     = "Survey (FNDDS)"
)

// DefaultDataTypes restricts searches to the reference datasets.
func DefaultDataTypes() []string {
	return []string{DataTypeFoundation, DataTypeSRLegacy}
}

// Client defines the FoodData Central operations.
type Client interface {
	// Search runs a food search and returns the matching foods.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// SearchResponse is the parsed /foods/search response.
type SearchResponse struct {
	TotalHits   int    `json:"totalHits"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	Foods       []Food `json:"foods"`
}

// Top returns the first food, or nil when the search found nothing.
func (r *SearchResponse) Top() *Food {
	if r == nil || len(r.Foods) == 0 {
		return nil
	}
	return &r.Foods[0]
}

// Food is one search hit.
type Food struct {
	FDCID         int            `json:"fdcId"`
	Description   string         `json:"description"`
	DataType      string         `json:"dataType"`
	FoodNutrients []FoodNutrient `json:"foodNutrients"`
}

// FoodNutrient is one nutrient amount of a food. Search results use the flat
// nutrientId/value form; food detail responses nest the id under nutrient and
// carry amount.
type FoodNutrient struct {
	NutrientID   int          `json:"nutrientId"`
	NutrientName string       `json:"nutrientName"`
	UnitName     string       `json:"unitName"`
	Value        *float64     `json:"value"`
	Nutrient     *NutrientRef `json:"nutrient,omitempty"`
	Amount       *float64     `json:"amount,omitempty"`
}

// NutrientRef identifies a nutrient in the nested form.
type NutrientRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (n FoodNutrient) id() int {
	if n.NutrientID != 0 {
		return n.NutrientID
	}
	if n.Nutrient != nil {
		return n.Nutrient.ID
	}
	return 0
}

func (n FoodNutrient) amount() (float64, bool) {
	if n.Value != nil {
		return *n.Value, true
	}
	if n.Amount != nil {
		return *n.Amount, true
	}
	return 0, false
}

// Nutrients returns the tracked nutrient amounts of f, rounded to 2 decimals.
// Untracked nutrients and entries without an amount are ignored.
func (f Food) Nutrients() model.Nutrients {
	out := make(model.Nutrients)
	for _, fn := range f.FoodNutrients {
		kind, ok := model.NutrientKindByFDCID(fn.id())
		if !ok {
			continue
		}
		v, ok := fn.amount()
		if !ok {
			continue
		}
		out[kind] = model.RoundAmount(v)
	}
	return out
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	pageSize  int
	dataTypes []string
}

// WithPageSize sets the number of foods returned.
func WithPageSize(n int) SearchOption {
	return func(o *searchOpts) {
		o.pageSize = n
	}
}

// WithDataTypes restricts the datasets searched.
func WithDataTypes(types ...string) SearchOption {
	return func(o *searchOpts) {
		o.dataTypes = types
	}
}

// Option configures the FDC client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithRateLimiter paces requests. A nil limiter disables pacing.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// WithDelay paces requests to one per d.
func WithDelay(d time.Duration) Option {
	return func(c *httpClient) {
		if d <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
	limiter *rate.Limiter
}

// NewClient creates a FoodData Central client. Requests are paced 100ms
// apart unless overridden.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   resilience.DefaultRetryConfig(),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("fdc", "search")
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{pageSize: 1, dataTypes: DefaultDataTypes()}
	for _, opt := range opts {
		opt(so)
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("query", query)
	params.Set("pageSize", strconv.Itoa(so.pageSize))
	for _, dt := range so.dataTypes {
		params.Add("dataType", dt)
	}
	reqURL := c.baseURL + "/foods/search?" + params.Encode()

	body, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, reqURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fdc: search %q", query)
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "fdc: unmarshal search response")
	}
	return &result, nil
}

// get performs one paced GET. Transient statuses come back as
// resilience.TransientError so Retry retries them.
func (c *httpClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fdc: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fdc: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fdc: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "fdc: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("fdc: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			te := resilience.NewTransientError(statusErr, resp.StatusCode)
			te.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
			return nil, te
		}
		return nil, statusErr
	}
	return body, nil
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates and
// malformed values yield zero.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
