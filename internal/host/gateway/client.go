// Package gateway speaks the chain gateway protocol over HTTP: a Client that
// implements host.Host against a remote gateway, and a Server that exposes
// any host.Host under the same protocol.
//
// Queries are rate limited and retried with exponential backoff. Session
// calls are never retried, so a dispatch is applied at most once.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
)

const (
	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
)

// Client implements host.Host against a remote gateway.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

var _ host.Host = (*Client)(nil)

// NewClient creates a client for baseURL allowing rps requests per second.
func NewClient(baseURL string, rps float64) *Client {
	if rps <= 0 {
		rps = 20
	}
	burst := int(math.Max(1, rps/2))
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// --- Queries ---

func (c *Client) CurrentBasket(ctx context.Context) (*model.AuctionBasket, error) {
	var out model.AuctionBasket
	if err := c.get(ctx, "/v1/auction/basket", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LastResult(ctx context.Context) (*model.AuctionResult, error) {
	var out model.AuctionResult
	if err := c.get(ctx, "/v1/auction/last-result", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AuctionParams(ctx context.Context) (*model.AuctionParams, error) {
	var out model.AuctionParams
	if err := c.get(ctx, "/v1/auction/params", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SpotMarket(ctx context.Context, marketID string) (*model.SpotMarket, error) {
	var out model.SpotMarket
	if err := c.get(ctx, "/v1/exchange/markets/"+url.PathEscape(marketID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExchangeParams(ctx context.Context) (*model.ExchangeParams, error) {
	var out model.ExchangeParams
	if err := c.get(ctx, "/v1/exchange/params", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Orderbook(ctx context.Context, marketID string) (*model.Orderbook, error) {
	var out model.Orderbook
	if err := c.get(ctx, "/v1/exchange/orderbooks/"+url.PathEscape(marketID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SimulateSwap(ctx context.Context, router, marketID string, offer model.Coin) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("router", router)
	q.Set("market_id", marketID)
	q.Set("denom", offer.Denom)
	q.Set("amount", offer.Amount.String())

	var out amountResponse
	if err := c.get(ctx, "/v1/router/simulate?"+q.Encode(), &out); err != nil {
		return decimal.Zero, err
	}
	return out.Amount, nil
}

func (c *Client) BlockTime(ctx context.Context) (time.Time, error) {
	var out timeResponse
	if err := c.get(ctx, "/v1/chain/time", &out); err != nil {
		return time.Time{}, err
	}
	return out.Time, nil
}

func (c *Client) Balance(ctx context.Context, address, denom string) (decimal.Decimal, error) {
	var out amountResponse
	path := "/v1/bank/balances/" + url.PathEscape(address) + "/" + url.PathEscape(denom)
	if err := c.get(ctx, path, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Amount, nil
}

// --- Sessions ---

func (c *Client) Begin(ctx context.Context, sender string, funds []model.Coin) (host.Session, error) {
	var out sessionResponse
	if err := c.post(ctx, "/v1/sessions", beginRequest{Sender: sender, Funds: funds}, &out); err != nil {
		return nil, err
	}
	return &remoteSession{client: c, id: out.ID}, nil
}

type remoteSession struct {
	client *Client
	id     string
}

func (s *remoteSession) ID() string { return s.id }

func (s *remoteSession) Dispatch(ctx context.Context, msg host.Msg) (*host.Ack, error) {
	env, err := host.Encode(msg)
	if err != nil {
		return nil, err
	}
	var ack host.Ack
	if err := s.client.post(ctx, s.path("dispatch"), env, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (s *remoteSession) Commit(ctx context.Context) error {
	return s.client.post(ctx, s.path("commit"), struct{}{}, nil)
}

func (s *remoteSession) Rollback(ctx context.Context) error {
	return s.client.post(ctx, s.path("rollback"), struct{}{}, nil)
}

func (s *remoteSession) path(op string) string {
	return "/v1/sessions/" + url.PathEscape(s.id) + "/" + op
}

// --- Transport ---

// get performs a rate-limited GET, retrying transport errors, 429 and 5xx.
func (c *Client) get(ctx context.Context, path string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("GET %s failed after %d retries: %w", path, maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("%w: GET %s status %d after %d retries", ErrGateway, path, resp.StatusCode, maxRetries)
			}
			slog.Warn("gateway retry", "path", path, "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		return decode(resp, out)
	}
	return fmt.Errorf("%w: exhausted %d retries", ErrGateway, maxRetries)
}

// post performs a single rate-limited POST. It is never retried.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		var body errorBody
		if json.Unmarshal(raw, &body) != nil {
			body.Error = string(raw)
		}
		return fromBody(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sleep waits with exponential backoff, honoring ctx.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// --- Wire types ---

type amountResponse struct {
	Amount decimal.Decimal `json:"amount"`
}

type timeResponse struct {
	Time time.Time `json:"time"`
}

type beginRequest struct {
	Sender string       `json:"sender"`
	Funds  []model.Coin `json:"funds"`
}

type sessionResponse struct {
	ID string `json:"id"`
}
