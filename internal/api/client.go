package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
)

// ErrRequest wraps every non-2xx response seen by Client.
var ErrRequest = errors.New("api: request failed")

// StatusError is a failed API response.
type StatusError struct {
	Status  int
	Class   string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Class)
}

func (e *StatusError) Unwrap() error { return ErrRequest }

// Client calls the pool API. Commands are never retried.
type Client struct {
	http  *http.Client
	base  string
	token string
}

// NewClient creates a client for the API mounted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
		base: strings.TrimRight(baseURL, "/"),
	}
}

// WithToken returns a copy of c that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	out := *c
	out.token = token
	return &out
}

// --- Commands ---

func (c *Client) Deposit(ctx context.Context, sender string, funds []model.Coin) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/deposit", DepositRequest{Sender: sender, Funds: funds})
}

func (c *Client) Withdraw(ctx context.Context, sender string, amount decimal.Decimal) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/withdraw", WithdrawRequest{Sender: sender, Amount: amount})
}

func (c *Client) Harvest(ctx context.Context, sender string) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/harvest", SenderRequest{Sender: sender})
}

func (c *Client) PlaceBid(ctx context.Context, sender string, round uint64) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/bids", BidRequest{Sender: sender, Round: round})
}

func (c *Client) Settle(ctx context.Context, sender string) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/bids/settle", SenderRequest{Sender: sender})
}

func (c *Client) ClearCurrentBid(ctx context.Context, sender string) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/bids/clear", SenderRequest{Sender: sender})
}

func (c *Client) ManualSwap(ctx context.Context, sender string, amount decimal.Decimal, marketID, asset string) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/swaps/manual", ManualSwapRequest{
		Sender: sender, Amount: amount, MarketID: marketID, Asset: asset,
	})
}

func (c *Client) UpdateConfig(ctx context.Context, sender string, cfg model.Config) (*agent.Result, error) {
	return c.command(ctx, http.MethodPut, "/config", ConfigRequest{Sender: sender, Config: cfg})
}

func (c *Client) SetRoute(ctx context.Context, sender, source, target, marketID string) (*agent.Result, error) {
	return c.command(ctx, http.MethodPost, "/routes", RouteRequest{
		Sender: sender, SourceDenom: source, TargetDenom: target, MarketID: marketID,
	})
}

func (c *Client) DeleteRoute(ctx context.Context, sender, source, target string) (*agent.Result, error) {
	return c.command(ctx, http.MethodDelete, "/routes", RouteRequest{
		Sender: sender, SourceDenom: source, TargetDenom: target,
	})
}

// --- Queries ---

func (c *Client) State(ctx context.Context) (*model.GlobalLedger, error) {
	var out model.GlobalLedger
	return &out, c.do(ctx, http.MethodGet, "/state", nil, &out)
}

func (c *Client) Config(ctx context.Context) (*model.Config, error) {
	var out model.Config
	return &out, c.do(ctx, http.MethodGet, "/config", nil, &out)
}

func (c *Client) Accounts(ctx context.Context) ([]model.UserAccount, error) {
	var out []model.UserAccount
	return out, c.do(ctx, http.MethodGet, "/accounts", nil, &out)
}

func (c *Client) User(ctx context.Context, address string) (*model.UserAccount, error) {
	var out model.UserAccount
	return &out, c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(address), nil, &out)
}

func (c *Client) CurrentBasket(ctx context.Context) (*model.AuctionBasket, error) {
	var out model.AuctionBasket
	return &out, c.do(ctx, http.MethodGet, "/basket", nil, &out)
}

func (c *Client) BidStatus(ctx context.Context) (*model.BidStatus, error) {
	var out model.BidStatus
	return &out, c.do(ctx, http.MethodGet, "/bids/status", nil, &out)
}

func (c *Client) SimulateSwap(ctx context.Context, amount decimal.Decimal, marketID, asset string) (*orderbook.Quote, error) {
	q := url.Values{}
	q.Set("amount", amount.String())
	q.Set("market_id", marketID)
	q.Set("asset", asset)
	var out orderbook.Quote
	return &out, c.do(ctx, http.MethodGet, "/simulate?"+q.Encode(), nil, &out)
}

func (c *Client) Valuation(ctx context.Context) (*ValuationResponse, error) {
	var out ValuationResponse
	return &out, c.do(ctx, http.MethodGet, "/valuation", nil, &out)
}

func (c *Client) MaxDeposit(ctx context.Context) (*agent.DepositCap, error) {
	var out agent.DepositCap
	return &out, c.do(ctx, http.MethodGet, "/deposit/max", nil, &out)
}

func (c *Client) Routes(ctx context.Context) ([]model.SwapRoute, error) {
	var out []model.SwapRoute
	return out, c.do(ctx, http.MethodGet, "/routes", nil, &out)
}

func (c *Client) Compensations(ctx context.Context) ([]model.Compensation, error) {
	var out []model.Compensation
	return out, c.do(ctx, http.MethodGet, "/compensations", nil, &out)
}

// --- Transport ---

func (c *Client) command(ctx context.Context, method, path string, body any) (*agent.Result, error) {
	var res agent.Result
	if err := c.do(ctx, method, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Status: resp.StatusCode, Class: e.Class, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
