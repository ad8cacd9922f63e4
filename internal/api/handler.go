// Package api exposes the pool agent over HTTP.
//
// Commands return the committed invocation. With an Authenticator the sender
// is the verified token subject and a sender in the body must match it.
// Without one the body's sender is trusted as is. Queries read committed
// state. Errors are {"error": "..."} with a status chosen by the error's
// class.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/model"
)

// Handler serves the agent's commands and queries.
type Handler struct {
	agent *agent.Agent
	auth  Authenticator
}

// NewHandler creates a handler over a. A nil auth trusts the sender named in
// each command body.
func NewHandler(a *agent.Agent, auth Authenticator) *Handler {
	return &Handler{agent: a, auth: auth}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	// Commands.
	r.Post("/deposit", h.Deposit)
	r.Post("/withdraw", h.Withdraw)
	r.Post("/harvest", h.Harvest)
	r.Post("/bids", h.PlaceBid)
	r.Post("/bids/settle", h.Settle)
	r.Post("/bids/clear", h.ClearCurrentBid)
	r.Post("/swaps/manual", h.ManualSwap)
	r.Put("/config", h.UpdateConfig)
	r.Post("/routes", h.SetRoute)
	r.Delete("/routes", h.DeleteRoute)

	// Queries.
	r.Get("/state", h.GetState)
	r.Get("/config", h.GetConfig)
	r.Get("/accounts", h.ListAccounts)
	r.Get("/accounts/{address}", h.GetAccount)
	r.Get("/basket", h.GetBasket)
	r.Get("/bids/status", h.GetBidStatus)
	r.Get("/simulate", h.SimulateSwap)
	r.Get("/valuation", h.GetValuation)
	r.Get("/deposit/max", h.GetMaxDeposit)
	r.Get("/routes", h.ListRoutes)
	r.Get("/compensations", h.ListCompensations)
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /deposit.
type DepositRequest struct {
	Sender string       `json:"sender"`
	Funds  []model.Coin `json:"funds"`
}

// WithdrawRequest is the JSON body for POST /withdraw.
type WithdrawRequest struct {
	Sender string          `json:"sender"`
	Amount decimal.Decimal `json:"amount"`
}

// SenderRequest is the JSON body of commands with no other input.
type SenderRequest struct {
	Sender string `json:"sender"`
}

// BidRequest is the JSON body for POST /bids.
type BidRequest struct {
	Sender string `json:"sender"`
	Round  uint64 `json:"round"`
}

// ManualSwapRequest is the JSON body for POST /swaps/manual.
type ManualSwapRequest struct {
	Sender   string          `json:"sender"`
	Amount   decimal.Decimal `json:"amount"`
	MarketID string          `json:"market_id"`
	Asset    string          `json:"asset"`
}

// ConfigRequest is the JSON body for PUT /config.
type ConfigRequest struct {
	Sender string       `json:"sender"`
	Config model.Config `json:"config"`
}

// RouteRequest is the JSON body for POST and DELETE /routes. MarketID is
// ignored on delete.
type RouteRequest struct {
	Sender      string `json:"sender"`
	SourceDenom string `json:"source_denom"`
	TargetDenom string `json:"target_denom"`
	MarketID    string `json:"market_id,omitempty"`
}

// ValuationResponse is the body of GET /valuation.
type ValuationResponse struct {
	Exchange decimal.Decimal `json:"exchange"`
	Router   decimal.Decimal `json:"router"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// --- Commands ---

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.Deposit(r.Context(), sender, req.Funds)
	respond(w, res, err)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.Withdraw(r.Context(), sender, req.Amount)
	respond(w, res, err)
}

func (h *Handler) Harvest(w http.ResponseWriter, r *http.Request) {
	var req SenderRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.Harvest(r.Context(), sender)
	respond(w, res, err)
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.PlaceBid(r.Context(), sender, req.Round)
	respond(w, res, err)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SenderRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.Settle(r.Context(), sender)
	respond(w, res, err)
}

func (h *Handler) ClearCurrentBid(w http.ResponseWriter, r *http.Request) {
	var req SenderRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.ClearCurrentBid(r.Context(), sender)
	respond(w, res, err)
}

func (h *Handler) ManualSwap(w http.ResponseWriter, r *http.Request) {
	var req ManualSwapRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.ManualSwap(r.Context(), sender, req.Amount, req.MarketID, req.Asset)
	respond(w, res, err)
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.UpdateConfig(r.Context(), sender, req.Config)
	respond(w, res, err)
}

func (h *Handler) SetRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.SetRoute(r.Context(), sender, req.SourceDenom, req.TargetDenom, req.MarketID)
	respond(w, res, err)
}

func (h *Handler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !decode(w, r, &req) {
		return
	}
	sender, ok := h.sender(w, r, req.Sender)
	if !ok {
		return
	}
	res, err := h.agent.DeleteRoute(r.Context(), sender, req.SourceDenom, req.TargetDenom)
	respond(w, res, err)
}

// --- Queries ---

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	g, err := h.agent.State(r.Context())
	respond(w, g, err)
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.agent.Config(r.Context())
	respond(w, cfg, err)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accs, err := h.agent.Accounts(r.Context())
	if accs == nil {
		accs = []model.UserAccount{}
	}
	respond(w, accs, err)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.agent.User(r.Context(), chi.URLParam(r, "address"))
	respond(w, acc, err)
}

func (h *Handler) GetBasket(w http.ResponseWriter, r *http.Request) {
	b, err := h.agent.CurrentBasket(r.Context())
	respond(w, b, err)
}

func (h *Handler) GetBidStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.agent.BidStatus(r.Context())
	respond(w, s, err)
}

// SimulateSwap handles GET /simulate?amount=&market_id=&asset=.
func (h *Handler) SimulateSwap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, "amount must be a decimal", http.StatusBadRequest)
		return
	}
	quote, err := h.agent.SimulateSwap(r.Context(), amount, q.Get("market_id"), q.Get("asset"))
	respond(w, quote, err)
}

func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	ex, err := h.agent.ExchangeValue(r.Context())
	if err != nil {
		respond(w, nil, err)
		return
	}
	rt, err := h.agent.RouterValue(r.Context())
	respond(w, ValuationResponse{Exchange: ex, Router: rt}, err)
}

func (h *Handler) GetMaxDeposit(w http.ResponseWriter, r *http.Request) {
	c, err := h.agent.MaxDeposit(r.Context())
	respond(w, c, err)
}

func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.agent.Routes(r.Context())
	respond(w, routes, err)
}

func (h *Handler) ListCompensations(w http.ResponseWriter, r *http.Request) {
	comps, err := h.agent.Compensations(r.Context())
	if comps == nil {
		comps = []model.Compensation{}
	}
	respond(w, comps, err)
}

// --- Helpers ---

// sender resolves who a command acts for. It writes a 401 or 403 and returns
// false when the request may not act as claimed.
func (h *Handler) sender(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	if h.auth == nil {
		return claimed, true
	}
	verified, err := h.auth.Sender(r)
	if err != nil {
		writeErrorClass(w, err.Error(), agent.ClassAuthorization, http.StatusUnauthorized)
		return "", false
	}
	if claimed != "" && claimed != verified {
		writeErrorClass(w, fmt.Sprintf("%s: %q", ErrSenderMismatch, claimed), agent.ClassAuthorization, http.StatusForbidden)
		return "", false
	}
	return verified, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		class := agent.Classify(err)
		status := StatusFor(class)
		if status >= http.StatusInternalServerError {
			slog.Error("request failed", "class", class.String(), "err", err)
		}
		writeErrorClass(w, err.Error(), class, status)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// StatusFor maps an error class to its HTTP status.
func StatusFor(c agent.Class) int {
	switch c {
	case agent.ClassAuthorization:
		return http.StatusForbidden
	case agent.ClassValidation:
		return http.StatusBadRequest
	case agent.ClassNotFound:
		return http.StatusNotFound
	case agent.ClassPrecondition:
		return http.StatusConflict
	case agent.ClassSubOperation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeErrorClass(w http.ResponseWriter, message string, class agent.Class, status int) {
	writeJSON(w, status, ErrorResponse{Error: message, Class: class.String()})
}
