// Package agent is the auction pool agent. It pools deposits of a reference
// denom, bids them in the external auction, liquidates won baskets and
// distributes the profit pro-rata to depositors.
//
// Every command runs as one invocation: a store transaction and a host
// session opened together, a continuation chain driven to completion, then
// both committed, host first. Any failure before the host commit rolls both
// back, so no partial state is ever observable. A ledger commit that fails
// after the host committed leaves a Compensation record. A mutex serializes
// invocations (single writer). For horizontal scaling, replace with a
// distributed lock around invoke.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/reward"
	"github.com/atmx/auction-pool/internal/store"
	"github.com/atmx/auction-pool/internal/valuation"
	"github.com/atmx/auction-pool/internal/workflow"
)

// Command names, used in results, logs and metrics.
const (
	CmdBootstrap       = "bootstrap"
	CmdDeposit         = "deposit"
	CmdWithdraw        = "withdraw"
	CmdHarvest         = "harvest"
	CmdPlaceBid        = "place_bid"
	CmdSettle          = "settle"
	CmdClearCurrentBid = "clear_current_bid"
	CmdManualSwap      = "manual_swap"
	CmdUpdateConfig    = "update_config"
	CmdSetRoute        = "set_route"
	CmdDeleteRoute     = "delete_route"
)

// Result describes a committed invocation.
type Result struct {
	ID         string              `json:"id"`
	Command    string              `json:"command"`
	Sender     string              `json:"sender"`
	Attributes map[string]string   `json:"attributes"`
	Events     []model.Event       `json:"events,omitempty"`
	Steps      int                 `json:"steps"`
	Ledger     *model.GlobalLedger `json:"ledger,omitempty"` // set when the invocation changed it
}

// Observer is notified after every invocation.
type Observer interface {
	InvocationCommitted(res *Result, elapsed time.Duration)
	InvocationAborted(command string, err error, elapsed time.Duration)
}

// Options configures an Agent.
type Options struct {
	// Address is the agent's own identity on the host.
	Address string
	Host    host.Host
	Store   store.Store
	// BidValuation names the strategy placeBid sizes bids with. Defaults to
	// the router.
	BidValuation string
	Observers    []Observer
}

// Agent runs pool commands against a host and a store.
type Agent struct {
	mu           sync.Mutex
	addr         string
	host         host.Host
	store        store.Store
	bidValuation string
	exchange     *valuation.Exchange
	observers    []Observer
}

// New creates an agent.
func New(opts Options) (*Agent, error) {
	if opts.Address == "" {
		return nil, errors.New("agent: address is required")
	}
	if opts.Host == nil || opts.Store == nil {
		return nil, errors.New("agent: host and store are required")
	}
	if opts.BidValuation == "" {
		opts.BidValuation = valuation.NameRouter
	}
	if _, err := valuation.New(opts.BidValuation, opts.Host, ""); err != nil {
		return nil, err
	}
	return &Agent{
		addr:         opts.Address,
		host:         opts.Host,
		store:        opts.Store,
		bidValuation: opts.BidValuation,
		exchange:     &valuation.Exchange{Host: opts.Host},
		observers:    opts.Observers,
	}, nil
}

// Address returns the agent's own identity.
func (a *Agent) Address() string { return a.addr }

// Bootstrap stores the initial config and an empty ledger. The subaccount is
// derived from the agent address.
func (a *Agent) Bootstrap(ctx context.Context, cfg model.Config) (*Result, error) {
	return a.invoke(ctx, CmdBootstrap, cfg.Admin, nil, func(ctx context.Context, inv *invocation) error {
		if _, err := inv.tx.Config(ctx); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		cfg.Subaccount = model.SubaccountID(a.addr)
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := inv.tx.SaveConfig(ctx, &cfg); err != nil {
			return err
		}
		if err := inv.saveGlobal(ctx, reward.NewGlobal()); err != nil {
			return err
		}
		inv.attr("owner", cfg.Admin)
		inv.attr("router", cfg.Router)
		return nil
	})
}

// --- Invocation ---

// arena is the transient address space of one invocation. It is discarded
// when the invocation ends and is never readable as committed state.
type arena struct {
	// provisional is the bid awaiting the auction's acknowledgment.
	provisional *model.BidAttempt
	// settled accumulates liquidation proceeds. Nil outside settlement.
	settled *decimal.Decimal
}

type invocation struct {
	agent    *Agent
	tx       store.Tx
	sess     host.Session
	saga     *workflow.Saga
	resolver *workflow.Resolver
	arena    arena
	cfg      *model.Config
	res      *Result
}

func (inv *invocation) attr(key, value string) { inv.res.Attributes[key] = value }

func (inv *invocation) emit(typ string, attrs map[string]string) {
	inv.res.Events = append(inv.res.Events, model.Event{Type: typ, Attributes: attrs})
}

// config loads the pool config once per invocation.
func (inv *invocation) config(ctx context.Context) (*model.Config, error) {
	if inv.cfg != nil {
		return inv.cfg, nil
	}
	cfg, err := inv.tx.Config(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	inv.cfg = cfg
	return cfg, nil
}

func (inv *invocation) global(ctx context.Context) (*model.GlobalLedger, error) {
	g, err := inv.tx.Global(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return g, err
}

func (inv *invocation) saveGlobal(ctx context.Context, g *model.GlobalLedger) error {
	if err := inv.tx.SaveGlobal(ctx, g); err != nil {
		return err
	}
	snap := *g
	inv.res.Ledger = &snap
	return nil
}

// requireAdmin fails with ErrUnauthorized unless sender is the configured admin.
func (inv *invocation) requireAdmin(ctx context.Context) (*model.Config, error) {
	cfg, err := inv.config(ctx)
	if err != nil {
		return nil, err
	}
	if inv.res.Sender != cfg.Admin {
		return nil, fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, inv.res.Sender)
	}
	return cfg, nil
}

func (inv *invocation) payStep(to, denom string, amount decimal.Decimal) workflow.Step {
	return workflow.Dispatch(host.BankSendMsg{
		From:   inv.agent.addr,
		To:     to,
		Amount: []model.Coin{{Denom: denom, Amount: amount}},
	})
}

// pay queues a bank transfer from the agent.
func (inv *invocation) pay(to, denom string, amount decimal.Decimal) {
	inv.saga.Add(inv.payStep(to, denom, amount))
}

// invoke runs fn and its continuation chain as one atomic invocation.
func (a *Agent) invoke(ctx context.Context, command, sender string, funds []model.Coin,
	fn func(ctx context.Context, inv *invocation) error,
) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()

	res, err := a.run(ctx, command, sender, funds, fn)
	elapsed := time.Since(start)
	if err != nil {
		slog.Warn("invocation aborted", "command", command, "sender", sender, "err", err)
		for _, o := range a.observers {
			o.InvocationAborted(command, err, elapsed)
		}
		return nil, err
	}

	slog.Info("invocation committed",
		"id", res.ID,
		"command", command,
		"sender", sender,
		"steps", res.Steps,
		"attributes", res.Attributes,
	)
	for _, o := range a.observers {
		o.InvocationCommitted(res, elapsed)
	}
	return res, nil
}

func (a *Agent) run(ctx context.Context, command, sender string, funds []model.Coin,
	fn func(ctx context.Context, inv *invocation) error,
) (*Result, error) {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin store: %w", err)
	}
	hostSess, err := a.host.Begin(ctx, sender, funds)
	if err != nil {
		tx.Rollback(ctx)
		return nil, err
	}
	sess := &recordingSession{Session: hostSess}

	saga := workflow.New()
	inv := &invocation{
		agent:    a,
		tx:       tx,
		sess:     sess,
		saga:     saga,
		resolver: workflow.NewResolver(),
		res: &Result{
			ID:         saga.ID,
			Command:    command,
			Sender:     sender,
			Attributes: map[string]string{"method": command},
		},
	}
	a.registerContinuations(inv)

	abort := func(err error) (*Result, error) {
		tx.Rollback(ctx)
		sess.Rollback(ctx)
		return nil, err
	}
	if err := fn(ctx, inv); err != nil {
		return abort(err)
	}
	steps, err := workflow.Run(ctx, sess, saga, inv.resolver)
	if err != nil {
		return abort(err)
	}
	if inv.arena.settled != nil {
		return abort(fmt.Errorf("%w: settlement accumulator left open", workflow.ErrUnknownContinuation))
	}
	inv.res.Steps = steps

	// Host first: a failed host commit still rolls the ledger back.
	if err := sess.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: %w", ErrHostCommit, err)
	}
	if err := tx.Commit(ctx); err != nil {
		a.compensate(ctx, inv, funds, sess, err)
		return nil, fmt.Errorf("%w: %w", ErrLedgerCommit, err)
	}
	return inv.res, nil
}
