package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
)

// Server exposes a host.Host over the gateway protocol.
type Server struct {
	host host.Host

	mu       sync.Mutex
	sessions map[string]host.Session
}

// NewServer wraps h.
func NewServer(h host.Host) *Server {
	return &Server{host: h, sessions: make(map[string]host.Session)}
}

// Routes mounts the protocol on a new router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/auction/basket", s.currentBasket)
		r.Get("/auction/last-result", s.lastResult)
		r.Get("/auction/params", s.auctionParams)
		r.Get("/exchange/markets/{marketID}", s.spotMarket)
		r.Get("/exchange/params", s.exchangeParams)
		r.Get("/exchange/orderbooks/{marketID}", s.orderbook)
		r.Get("/router/simulate", s.simulateSwap)
		r.Get("/chain/time", s.blockTime)
		r.Get("/bank/balances/{address}/{denom}", s.balance)

		r.Post("/sessions", s.begin)
		r.Post("/sessions/{sessionID}/dispatch", s.dispatch)
		r.Post("/sessions/{sessionID}/commit", s.commit)
		r.Post("/sessions/{sessionID}/rollback", s.rollback)
	})
	return r
}

func (s *Server) currentBasket(w http.ResponseWriter, r *http.Request) {
	b, err := s.host.CurrentBasket(r.Context())
	respond(w, b, err)
}

func (s *Server) lastResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.host.LastResult(r.Context())
	respond(w, res, err)
}

func (s *Server) auctionParams(w http.ResponseWriter, r *http.Request) {
	p, err := s.host.AuctionParams(r.Context())
	respond(w, p, err)
}

func (s *Server) spotMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.host.SpotMarket(r.Context(), chi.URLParam(r, "marketID"))
	respond(w, m, err)
}

func (s *Server) exchangeParams(w http.ResponseWriter, r *http.Request) {
	p, err := s.host.ExchangeParams(r.Context())
	respond(w, p, err)
}

func (s *Server) orderbook(w http.ResponseWriter, r *http.Request) {
	b, err := s.host.Orderbook(r.Context(), chi.URLParam(r, "marketID"))
	respond(w, b, err)
}

func (s *Server) simulateSwap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: "invalid amount"})
		return
	}
	out, err := s.host.SimulateSwap(r.Context(), q.Get("router"), q.Get("market_id"),
		model.Coin{Denom: q.Get("denom"), Amount: amount})
	respond(w, amountResponse{Amount: out}, err)
}

func (s *Server) blockTime(w http.ResponseWriter, r *http.Request) {
	t, err := s.host.BlockTime(r.Context())
	respond(w, timeResponse{Time: t}, err)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	b, err := s.host.Balance(r.Context(), chi.URLParam(r, "address"), chi.URLParam(r, "denom"))
	respond(w, amountResponse{Amount: b}, err)
}

func (s *Server) begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	sess, err := s.host.Begin(r.Context(), req.Sender, req.Funds)
	if err != nil {
		respond(w, nil, err)
		return
	}
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	respond(w, sessionResponse{ID: sess.ID()}, nil)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		respond(w, nil, host.ErrSessionClosed)
		return
	}
	var env host.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: "invalid envelope"})
		return
	}
	msg, err := host.Decode(&env)
	if err != nil {
		respond(w, nil, err)
		return
	}
	ack, err := sess.Dispatch(r.Context(), msg)
	respond(w, ack, err)
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.take(r)
	if !ok {
		respond(w, nil, host.ErrSessionClosed)
		return
	}
	respond(w, struct{}{}, sess.Commit(r.Context()))
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.take(r)
	if !ok {
		respond(w, struct{}{}, nil)
		return
	}
	respond(w, struct{}{}, sess.Rollback(r.Context()))
}

func (s *Server) session(r *http.Request) (host.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	return sess, ok
}

func (s *Server) take(r *http.Request) (host.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	return sess, ok
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		code, status := codeFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("gateway request failed", "err", err)
		}
		writeError(w, status, errorBody{Code: code, Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
