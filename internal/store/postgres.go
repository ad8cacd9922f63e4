package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/route"
)

// PostgresSchema creates the committed-state tables. Singleton tables hold
// at most one row, keyed id = 1.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS pool_config (
    id                        SMALLINT PRIMARY KEY CHECK (id = 1),
    reference_denom           TEXT    NOT NULL,
    admin                     TEXT    NOT NULL,
    router                    TEXT    NOT NULL,
    bid_time_buffer_secs      BIGINT  NOT NULL,
    withdraw_time_buffer_secs BIGINT  NOT NULL,
    max_offset_bps            BIGINT  NOT NULL CHECK (max_offset_bps BETWEEN 0 AND 10000),
    winner_reward_bps         BIGINT  NOT NULL CHECK (winner_reward_bps BETWEEN 0 AND 10000),
    subaccount                TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS global_ledger (
    id                   SMALLINT PRIMARY KEY CHECK (id = 1),
    reward_index         NUMERIC NOT NULL,
    profit_to_distribute NUMERIC NOT NULL,
    accumulated_profit   NUMERIC NOT NULL,
    total_supply         NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS user_accounts (
    address        TEXT PRIMARY KEY,
    deposited      NUMERIC NOT NULL,
    reward_index   NUMERIC NOT NULL,
    pending_reward NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS swap_routes (
    denom_lo     TEXT NOT NULL,
    denom_hi     TEXT NOT NULL,
    market_id    TEXT NOT NULL,
    source_denom TEXT NOT NULL,
    target_denom TEXT NOT NULL,
    PRIMARY KEY (denom_lo, denom_hi)
);

CREATE TABLE IF NOT EXISTS bid_attempt (
    id           SMALLINT PRIMARY KEY CHECK (id = 1),
    amount       NUMERIC NOT NULL,
    round        BIGINT  NOT NULL,
    submitted_by TEXT    NOT NULL,
    basket       JSONB   NOT NULL
);

CREATE TABLE IF NOT EXISTS compensations (
    id          TEXT        PRIMARY KEY,
    command     TEXT        NOT NULL,
    sender      TEXT        NOT NULL,
    session_id  TEXT        NOT NULL,
    funds       JSONB       NOT NULL,
    messages    JSONB       NOT NULL,
    error       TEXT        NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies PostgresSchema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Begin opens a serializable transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Config(ctx context.Context) (*model.Config, error) {
	var c model.Config
	err := t.tx.QueryRow(ctx,
		`SELECT reference_denom, admin, router, bid_time_buffer_secs, withdraw_time_buffer_secs,
		        max_offset_bps, winner_reward_bps, subaccount
		 FROM pool_config WHERE id = 1`).
		Scan(&c.ReferenceDenom, &c.Admin, &c.Router, &c.BidTimeBufferSecs, &c.WithdrawTimeBufferSecs,
			&c.MaxOffsetBps, &c.WinnerRewardBps, &c.Subaccount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("config")
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &c, nil
}

func (t *pgTx) SaveConfig(ctx context.Context, c *model.Config) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO pool_config (id, reference_denom, admin, router, bid_time_buffer_secs,
		                          withdraw_time_buffer_secs, max_offset_bps, winner_reward_bps, subaccount)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     reference_denom = EXCLUDED.reference_denom,
		     admin = EXCLUDED.admin,
		     router = EXCLUDED.router,
		     bid_time_buffer_secs = EXCLUDED.bid_time_buffer_secs,
		     withdraw_time_buffer_secs = EXCLUDED.withdraw_time_buffer_secs,
		     max_offset_bps = EXCLUDED.max_offset_bps,
		     winner_reward_bps = EXCLUDED.winner_reward_bps,
		     subaccount = EXCLUDED.subaccount`,
		c.ReferenceDenom, c.Admin, c.Router, c.BidTimeBufferSecs, c.WithdrawTimeBufferSecs,
		c.MaxOffsetBps, c.WinnerRewardBps, c.Subaccount,
	)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (t *pgTx) Global(ctx context.Context) (*model.GlobalLedger, error) {
	var index, profit, accumulated, supply string
	err := t.tx.QueryRow(ctx,
		`SELECT reward_index::TEXT, profit_to_distribute::TEXT, accumulated_profit::TEXT, total_supply::TEXT
		 FROM global_ledger WHERE id = 1`).
		Scan(&index, &profit, &accumulated, &supply)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("global ledger")
	}
	if err != nil {
		return nil, fmt.Errorf("get global ledger: %w", err)
	}
	return globalFromText(index, profit, accumulated, supply)
}

func (t *pgTx) SaveGlobal(ctx context.Context, g *model.GlobalLedger) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO global_ledger (id, reward_index, profit_to_distribute, accumulated_profit, total_supply)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		     reward_index = EXCLUDED.reward_index,
		     profit_to_distribute = EXCLUDED.profit_to_distribute,
		     accumulated_profit = EXCLUDED.accumulated_profit,
		     total_supply = EXCLUDED.total_supply`,
		g.Index.String(), g.ProfitToDistribute.String(), g.AccumulatedProfit.String(), g.TotalSupply.String(),
	)
	if err != nil {
		return fmt.Errorf("save global ledger: %w", err)
	}
	return nil
}

func (t *pgTx) Account(ctx context.Context, address string) (*model.UserAccount, error) {
	var deposited, index, pending string
	err := t.tx.QueryRow(ctx,
		`SELECT deposited::TEXT, reward_index::TEXT, pending_reward::TEXT
		 FROM user_accounts WHERE address = $1`, address).
		Scan(&deposited, &index, &pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("account " + address)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return accountFromText(address, deposited, index, pending)
}

func (t *pgTx) SaveAccount(ctx context.Context, a *model.UserAccount) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_accounts (address, deposited, reward_index, pending_reward)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (address) DO UPDATE SET
		     deposited = EXCLUDED.deposited,
		     reward_index = EXCLUDED.reward_index,
		     pending_reward = EXCLUDED.pending_reward`,
		a.Address, a.Deposited.String(), a.Index.String(), a.PendingReward.String(),
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.Address, err)
	}
	return nil
}

func (t *pgTx) DeleteAccount(ctx context.Context, address string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_accounts WHERE address = $1`, address); err != nil {
		return fmt.Errorf("delete account %s: %w", address, err)
	}
	return nil
}

func (t *pgTx) Accounts(ctx context.Context) ([]model.UserAccount, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT address, deposited::TEXT, reward_index::TEXT, pending_reward::TEXT
		 FROM user_accounts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.UserAccount
	for rows.Next() {
		var address, deposited, index, pending string
		if err := rows.Scan(&address, &deposited, &index, &pending); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acc, err := accountFromText(address, deposited, index, pending)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

func (t *pgTx) Route(ctx context.Context, key route.Key) (*model.SwapRoute, error) {
	lo, hi := key.Denoms()
	var r model.SwapRoute
	err := t.tx.QueryRow(ctx,
		`SELECT market_id, source_denom, target_denom FROM swap_routes
		 WHERE denom_lo = $1 AND denom_hi = $2`, lo, hi).
		Scan(&r.MarketID, &r.SourceDenom, &r.TargetDenom)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, routeNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get route %s: %w", key, err)
	}
	return &r, nil
}

func (t *pgTx) SaveRoute(ctx context.Context, key route.Key, r model.SwapRoute) error {
	lo, hi := key.Denoms()
	_, err := t.tx.Exec(ctx,
		`INSERT INTO swap_routes (denom_lo, denom_hi, market_id, source_denom, target_denom)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (denom_lo, denom_hi) DO UPDATE SET
		     market_id = EXCLUDED.market_id,
		     source_denom = EXCLUDED.source_denom,
		     target_denom = EXCLUDED.target_denom`,
		lo, hi, r.MarketID, r.SourceDenom, r.TargetDenom,
	)
	if err != nil {
		return fmt.Errorf("save route %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) DeleteRoute(ctx context.Context, key route.Key) error {
	lo, hi := key.Denoms()
	tag, err := t.tx.Exec(ctx, `DELETE FROM swap_routes WHERE denom_lo = $1 AND denom_hi = $2`, lo, hi)
	if err != nil {
		return fmt.Errorf("delete route %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return routeNotFound(key)
	}
	return nil
}

func (t *pgTx) Routes(ctx context.Context) ([]route.Entry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT denom_lo, denom_hi, market_id, source_denom, target_denom
		 FROM swap_routes ORDER BY denom_lo, denom_hi`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var out []route.Entry
	for rows.Next() {
		var lo, hi string
		var r model.SwapRoute
		if err := rows.Scan(&lo, &hi, &r.MarketID, &r.SourceDenom, &r.TargetDenom); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		key, err := route.NewKey(lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, route.Entry{Key: key, Route: r})
	}
	return out, rows.Err()
}

func (t *pgTx) BidAttempt(ctx context.Context) (*model.BidAttempt, error) {
	var amount, by, basket string
	var round int64
	err := t.tx.QueryRow(ctx,
		`SELECT amount::TEXT, round, submitted_by, basket::TEXT FROM bid_attempt WHERE id = 1`).
		Scan(&amount, &round, &by, &basket)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("bid attempt")
	}
	if err != nil {
		return nil, fmt.Errorf("get bid attempt: %w", err)
	}
	return attemptFromText(amount, round, by, basket)
}

func (t *pgTx) SaveBidAttempt(ctx context.Context, a *model.BidAttempt) error {
	basket, err := encodeBasket(a.Basket)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO bid_attempt (id, amount, round, submitted_by, basket)
		 VALUES (1, $1::NUMERIC, $2, $3, $4::JSONB)
		 ON CONFLICT (id) DO UPDATE SET
		     amount = EXCLUDED.amount,
		     round = EXCLUDED.round,
		     submitted_by = EXCLUDED.submitted_by,
		     basket = EXCLUDED.basket`,
		a.Amount.String(), int64(a.Round), a.SubmittedBy, basket,
	)
	if err != nil {
		return fmt.Errorf("save bid attempt: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteBidAttempt(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM bid_attempt WHERE id = 1`); err != nil {
		return fmt.Errorf("delete bid attempt: %w", err)
	}
	return nil
}

func (t *pgTx) SaveCompensation(ctx context.Context, c *model.Compensation) error {
	funds, err := encodeBasket(c.Funds)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO compensations (id, command, sender, session_id, funds, messages, error, recorded_at)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6::JSONB, $7, $8)`,
		c.ID, c.Command, c.Sender, c.SessionID, funds, encodeMessages(c.Messages), c.Error, c.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("save compensation %s: %w", c.ID, err)
	}
	return nil
}

func (t *pgTx) Compensations(ctx context.Context) ([]model.Compensation, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, command, sender, session_id, funds::TEXT, messages::TEXT, error, recorded_at
		 FROM compensations ORDER BY recorded_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list compensations: %w", err)
	}
	defer rows.Close()

	var out []model.Compensation
	for rows.Next() {
		var c model.Compensation
		var funds, msgs string
		if err := rows.Scan(&c.ID, &c.Command, &c.Sender, &c.SessionID, &funds, &msgs, &c.Error, &c.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan compensation: %w", err)
		}
		if c.Funds, err = decodeBasket(funds); err != nil {
			return nil, err
		}
		c.Messages = json.RawMessage(msgs)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// --- Row decoding shared with the SQLite store ---

func globalFromText(index, profit, accumulated, supply string) (*model.GlobalLedger, error) {
	var g model.GlobalLedger
	var err error
	if g.Index, err = parseDecimal("reward_index", index); err != nil {
		return nil, err
	}
	if g.ProfitToDistribute, err = parseDecimal("profit_to_distribute", profit); err != nil {
		return nil, err
	}
	if g.AccumulatedProfit, err = parseDecimal("accumulated_profit", accumulated); err != nil {
		return nil, err
	}
	if g.TotalSupply, err = parseDecimal("total_supply", supply); err != nil {
		return nil, err
	}
	return &g, nil
}

func accountFromText(address, deposited, index, pending string) (*model.UserAccount, error) {
	a := model.UserAccount{Address: address}
	var err error
	if a.Deposited, err = parseDecimal("deposited", deposited); err != nil {
		return nil, err
	}
	if a.Index, err = parseDecimal("reward_index", index); err != nil {
		return nil, err
	}
	if a.PendingReward, err = parseDecimal("pending_reward", pending); err != nil {
		return nil, err
	}
	return &a, nil
}

func attemptFromText(amount string, round int64, by, basket string) (*model.BidAttempt, error) {
	a := model.BidAttempt{Round: uint64(round), SubmittedBy: by}
	var err error
	if a.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	if a.Basket, err = decodeBasket(basket); err != nil {
		return nil, err
	}
	return &a, nil
}
