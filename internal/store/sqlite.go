package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/route"
)

// sqliteSchema mirrors PostgresSchema. Decimals are TEXT so no precision is
// lost to SQLite's numeric affinity.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pool_config (
    id                        INTEGER PRIMARY KEY CHECK (id = 1),
    reference_denom           TEXT    NOT NULL,
    admin                     TEXT    NOT NULL,
    router                    TEXT    NOT NULL,
    bid_time_buffer_secs      INTEGER NOT NULL,
    withdraw_time_buffer_secs INTEGER NOT NULL,
    max_offset_bps            INTEGER NOT NULL,
    winner_reward_bps         INTEGER NOT NULL,
    subaccount                TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS global_ledger (
    id                   INTEGER PRIMARY KEY CHECK (id = 1),
    reward_index         TEXT NOT NULL,
    profit_to_distribute TEXT NOT NULL,
    accumulated_profit   TEXT NOT NULL,
    total_supply         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_accounts (
    address        TEXT PRIMARY KEY,
    deposited      TEXT NOT NULL,
    reward_index   TEXT NOT NULL,
    pending_reward TEXT NOT NULL
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
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    amount       TEXT    NOT NULL,
    round        INTEGER NOT NULL,
    submitted_by TEXT    NOT NULL,
    basket       TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS compensations (
    id          TEXT    PRIMARY KEY,
    command     TEXT    NOT NULL,
    sender      TEXT    NOT NULL,
    session_id  TEXT    NOT NULL,
    funds       TEXT    NOT NULL,
    messages    TEXT    NOT NULL,
    error       TEXT    NOT NULL,
    recorded_at INTEGER NOT NULL -- unix nanoseconds
);
`

// SQLiteStore implements Store on an embedded SQLite database (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps one :memory: database
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Config(ctx context.Context) (*model.Config, error) {
	var c model.Config
	err := t.tx.QueryRowContext(ctx,
		`SELECT reference_denom, admin, router, bid_time_buffer_secs, withdraw_time_buffer_secs,
		        max_offset_bps, winner_reward_bps, subaccount
		 FROM pool_config WHERE id = 1`).
		Scan(&c.ReferenceDenom, &c.Admin, &c.Router, &c.BidTimeBufferSecs, &c.WithdrawTimeBufferSecs,
			&c.MaxOffsetBps, &c.WinnerRewardBps, &c.Subaccount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("config")
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &c, nil
}

func (t *sqliteTx) SaveConfig(ctx context.Context, c *model.Config) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO pool_config (id, reference_denom, admin, router, bid_time_buffer_secs,
		                          withdraw_time_buffer_secs, max_offset_bps, winner_reward_bps, subaccount)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     reference_denom = excluded.reference_denom,
		     admin = excluded.admin,
		     router = excluded.router,
		     bid_time_buffer_secs = excluded.bid_time_buffer_secs,
		     withdraw_time_buffer_secs = excluded.withdraw_time_buffer_secs,
		     max_offset_bps = excluded.max_offset_bps,
		     winner_reward_bps = excluded.winner_reward_bps,
		     subaccount = excluded.subaccount`,
		c.ReferenceDenom, c.Admin, c.Router, c.BidTimeBufferSecs, c.WithdrawTimeBufferSecs,
		c.MaxOffsetBps, c.WinnerRewardBps, c.Subaccount,
	)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (t *sqliteTx) Global(ctx context.Context) (*model.GlobalLedger, error) {
	var index, profit, accumulated, supply string
	err := t.tx.QueryRowContext(ctx,
		`SELECT reward_index, profit_to_distribute, accumulated_profit, total_supply
		 FROM global_ledger WHERE id = 1`).
		Scan(&index, &profit, &accumulated, &supply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("global ledger")
	}
	if err != nil {
		return nil, fmt.Errorf("get global ledger: %w", err)
	}
	return globalFromText(index, profit, accumulated, supply)
}

func (t *sqliteTx) SaveGlobal(ctx context.Context, g *model.GlobalLedger) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO global_ledger (id, reward_index, profit_to_distribute, accumulated_profit, total_supply)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     reward_index = excluded.reward_index,
		     profit_to_distribute = excluded.profit_to_distribute,
		     accumulated_profit = excluded.accumulated_profit,
		     total_supply = excluded.total_supply`,
		g.Index.String(), g.ProfitToDistribute.String(), g.AccumulatedProfit.String(), g.TotalSupply.String(),
	)
	if err != nil {
		return fmt.Errorf("save global ledger: %w", err)
	}
	return nil
}

func (t *sqliteTx) Account(ctx context.Context, address string) (*model.UserAccount, error) {
	var deposited, index, pending string
	err := t.tx.QueryRowContext(ctx,
		`SELECT deposited, reward_index, pending_reward FROM user_accounts WHERE address = ?`, address).
		Scan(&deposited, &index, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("account " + address)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return accountFromText(address, deposited, index, pending)
}

func (t *sqliteTx) SaveAccount(ctx context.Context, a *model.UserAccount) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_accounts (address, deposited, reward_index, pending_reward)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (address) DO UPDATE SET
		     deposited = excluded.deposited,
		     reward_index = excluded.reward_index,
		     pending_reward = excluded.pending_reward`,
		a.Address, a.Deposited.String(), a.Index.String(), a.PendingReward.String(),
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.Address, err)
	}
	return nil
}

func (t *sqliteTx) DeleteAccount(ctx context.Context, address string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM user_accounts WHERE address = ?`, address); err != nil {
		return fmt.Errorf("delete account %s: %w", address, err)
	}
	return nil
}

func (t *sqliteTx) Accounts(ctx context.Context) ([]model.UserAccount, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT address, deposited, reward_index, pending_reward FROM user_accounts ORDER BY address`)
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

func (t *sqliteTx) Route(ctx context.Context, key route.Key) (*model.SwapRoute, error) {
	lo, hi := key.Denoms()
	var r model.SwapRoute
	err := t.tx.QueryRowContext(ctx,
		`SELECT market_id, source_denom, target_denom FROM swap_routes
		 WHERE denom_lo = ? AND denom_hi = ?`, lo, hi).
		Scan(&r.MarketID, &r.SourceDenom, &r.TargetDenom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, routeNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get route %s: %w", key, err)
	}
	return &r, nil
}

func (t *sqliteTx) SaveRoute(ctx context.Context, key route.Key, r model.SwapRoute) error {
	lo, hi := key.Denoms()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO swap_routes (denom_lo, denom_hi, market_id, source_denom, target_denom)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (denom_lo, denom_hi) DO UPDATE SET
		     market_id = excluded.market_id,
		     source_denom = excluded.source_denom,
		     target_denom = excluded.target_denom`,
		lo, hi, r.MarketID, r.SourceDenom, r.TargetDenom,
	)
	if err != nil {
		return fmt.Errorf("save route %s: %w", key, err)
	}
	return nil
}

func (t *sqliteTx) DeleteRoute(ctx context.Context, key route.Key) error {
	lo, hi := key.Denoms()
	res, err := t.tx.ExecContext(ctx, `DELETE FROM swap_routes WHERE denom_lo = ? AND denom_hi = ?`, lo, hi)
	if err != nil {
		return fmt.Errorf("delete route %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return routeNotFound(key)
	}
	return nil
}

func (t *sqliteTx) Routes(ctx context.Context) ([]route.Entry, error) {
	rows, err := t.tx.QueryContext(ctx,
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

func (t *sqliteTx) BidAttempt(ctx context.Context) (*model.BidAttempt, error) {
	var amount, by, basket string
	var round int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT amount, round, submitted_by, basket FROM bid_attempt WHERE id = 1`).
		Scan(&amount, &round, &by, &basket)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("bid attempt")
	}
	if err != nil {
		return nil, fmt.Errorf("get bid attempt: %w", err)
	}
	return attemptFromText(amount, round, by, basket)
}

func (t *sqliteTx) SaveBidAttempt(ctx context.Context, a *model.BidAttempt) error {
	basket, err := encodeBasket(a.Basket)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO bid_attempt (id, amount, round, submitted_by, basket)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     amount = excluded.amount,
		     round = excluded.round,
		     submitted_by = excluded.submitted_by,
		     basket = excluded.basket`,
		a.Amount.String(), int64(a.Round), a.SubmittedBy, basket,
	)
	if err != nil {
		return fmt.Errorf("save bid attempt: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteBidAttempt(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM bid_attempt WHERE id = 1`); err != nil {
		return fmt.Errorf("delete bid attempt: %w", err)
	}
	return nil
}

func (t *sqliteTx) SaveCompensation(ctx context.Context, c *model.Compensation) error {
	funds, err := encodeBasket(c.Funds)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO compensations (id, command, sender, session_id, funds, messages, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Command, c.Sender, c.SessionID, funds, encodeMessages(c.Messages), c.Error, c.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save compensation %s: %w", c.ID, err)
	}
	return nil
}

func (t *sqliteTx) Compensations(ctx context.Context) ([]model.Compensation, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, command, sender, session_id, funds, messages, error, recorded_at
		 FROM compensations ORDER BY recorded_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list compensations: %w", err)
	}
	defer rows.Close()

	var out []model.Compensation
	for rows.Next() {
		var c model.Compensation
		var funds, msgs string
		var at int64
		if err := rows.Scan(&c.ID, &c.Command, &c.Sender, &c.SessionID, &funds, &msgs, &c.Error, &at); err != nil {
			return nil, fmt.Errorf("scan compensation: %w", err)
		}
		if c.Funds, err = decodeBasket(funds); err != nil {
			return nil, err
		}
		c.Messages = json.RawMessage(msgs)
		c.RecordedAt = time.Unix(0, at).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *sqliteTx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
