package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/topprop/settlement-engine/internal/model"
)

const (
	defaultRateLimit = 10.0 // requests per second
	defaultBurst     = 5
)

// HTTPClient implements RosterProvider and BalanceProvider against the
// normalized stats and wallet service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPClient creates a provider client rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type playerIDsResponse struct {
	PlayerIDs []string `json:"player_ids"`
}

type balanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Players fetches stats for ids in one request.
func (c *HTTPClient) Players(ctx context.Context, ids []string) (map[string]model.PlayerStats, error) {
	out := make(map[string]model.PlayerStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))

	var players []model.PlayerStats
	if err := c.get(ctx, "/players", params, &players); err != nil {
		return nil, err
	}
	for _, p := range players {
		out[p.PlayerID] = p
	}
	return out, nil
}

func (c *HTTPClient) Team(ctx context.Context, teamID string) (*model.Team, error) {
	var t model.Team
	if err := c.get(ctx, "/teams/"+url.PathEscape(teamID), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) TeamRoster(ctx context.Context, teamID string) ([]string, error) {
	var resp playerIDsResponse
	if err := c.get(ctx, "/teams/"+url.PathEscape(teamID)+"/roster", nil, &resp); err != nil {
		return nil, err
	}
	return resp.PlayerIDs, nil
}

func (c *HTTPClient) RuledOut(ctx context.Context) ([]string, error) {
	var resp playerIDsResponse
	if err := c.get(ctx, "/players/ruled-out", nil, &resp); err != nil {
		return nil, err
	}
	return resp.PlayerIDs, nil
}

func (c *HTTPClient) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/wallets/"+url.PathEscape(userID)+"/balance", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
