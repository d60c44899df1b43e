package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pool sized by minConns/maxConns and verifies it.
func Connect(ctx context.Context, dsn string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = minConns
	poolCfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Acquire(ctx context.Context) (Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &pgConn{pgQueries: pgQueries{db: conn}, conn: conn}, nil
}

// querier is the subset shared by *pgxpool.Conn and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgConn struct {
	pgQueries
	conn *pgxpool.Conn
}

func (c *pgConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{pgQueries: pgQueries{db: tx}, tx: tx}, nil
}

func (c *pgConn) Release() {
	c.conn.Release()
}

type pgTx struct {
	pgQueries
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback ignores pgx.ErrTxClosed so it is safe to defer after Commit.
func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

type pgQueries struct {
	db querier
}

func (q pgQueries) GetAccount(ctx context.Context, uid string) (*model.Account, error) {
	var a model.Account
	var balance, loan, limit string

	err := q.db.QueryRow(ctx,
		`SELECT uid, balance::TEXT, loan_balance::TEXT, credit_limit::TEXT
		 FROM accounts WHERE uid = $1`, uid).
		Scan(&a.UID, &balance, &loan, &limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", uid, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	a.LoanBalance, _ = decimal.NewFromString(loan)
	a.CreditLimit, _ = decimal.NewFromString(limit)
	return &a, nil
}

// setClause accumulates "col = $n" fragments for partial updates.
type setClause struct {
	cols []string
	args []any
}

func (c *setClause) add(col, cast string, v any) {
	c.args = append(c.args, v)
	c.cols = append(c.cols, fmt.Sprintf("%s = $%d%s", col, len(c.args), cast))
}

func (c *setClause) sql() string { return strings.Join(c.cols, ", ") }

// next returns the placeholder for the first WHERE argument.
func (c *setClause) next() int { return len(c.args) + 1 }

func (q pgQueries) UpdateAccount(ctx context.Context, uid string, patch model.AccountPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	var set setClause
	if patch.Balance != nil {
		set.add("balance", "::NUMERIC", patch.Balance.String())
	}
	if patch.LoanBalance != nil {
		set.add("loan_balance", "::NUMERIC", patch.LoanBalance.String())
	}
	if patch.CreditLimit != nil {
		set.add("credit_limit", "::NUMERIC", patch.CreditLimit.String())
	}
	query := fmt.Sprintf(`UPDATE accounts SET %s WHERE uid = $%d`, set.sql(), set.next())
	tag, err := q.db.Exec(ctx, query, append(set.args, uid)...)
	if err != nil {
		return fmt.Errorf("update account %s: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update account %s: no rows", uid)
	}
	return nil
}

func (q pgQueries) GetStock(ctx context.Context, ticker string) (*model.Stock, error) {
	var st model.Stock
	var price string
	var prevClose *string

	err := q.db.QueryRow(ctx,
		`SELECT ticker, price::TEXT, previous_close::TEXT FROM stocks WHERE ticker = $1`, ticker).
		Scan(&st.Ticker, &price, &prevClose)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", ticker, err)
	}
	st.Price, _ = decimal.NewFromString(price)
	st.PreviousClose = nullDecimal(prevClose)
	return &st, nil
}

// nullDecimal parses a nullable NUMERIC read as TEXT.
func nullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

func (q pgQueries) GetCurrentStockHolding(ctx context.Context, uid, ticker string) (*model.StockHolding, error) {
	var h model.StockHolding
	err := q.db.QueryRow(ctx,
		`SELECT uid, ticker, quantity, timestamp
		 FROM stock_holdings
		 WHERE uid = $1 AND ticker = $2
		 ORDER BY timestamp DESC
		 LIMIT 1`, uid, ticker).
		Scan(&h.UID, &h.Ticker, &h.Quantity, &h.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stock holding %s/%s: %w", uid, ticker, err)
	}
	return &h, nil
}

func (q pgQueries) InsertStockHolding(ctx context.Context, h *model.StockHolding) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO stock_holdings (uid, ticker, quantity, timestamp)
		 VALUES ($1, $2, $3, $4)`,
		h.UID, h.Ticker, h.Quantity, h.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert stock holding %s/%s: %w", h.UID, h.Ticker, err)
	}
	return nil
}

func (q pgQueries) ListCurrentStockHoldings(ctx context.Context, uid string) ([]model.ValuedHolding, error) {
	rows, err := q.db.Query(ctx,
		`SELECT cur.uid, cur.ticker, cur.quantity, cur.timestamp,
		        COALESCE(s.price, 0)::TEXT AS price,
		        s.previous_close::TEXT
		 FROM (
		     SELECT DISTINCT ON (ticker) uid, ticker, quantity, timestamp
		     FROM stock_holdings
		     WHERE uid = $1
		     ORDER BY ticker, timestamp DESC
		 ) cur
		 LEFT JOIN stocks s ON s.ticker = cur.ticker
		 WHERE cur.quantity > 0
		 ORDER BY cur.ticker`, uid)
	if err != nil {
		return nil, fmt.Errorf("list holdings %s: %w", uid, err)
	}
	defer rows.Close()

	var holdings []model.ValuedHolding
	for rows.Next() {
		var vh model.ValuedHolding
		var priceS string
		var prevClose *string
		if err := rows.Scan(&vh.UID, &vh.Ticker, &vh.Quantity, &vh.Timestamp, &priceS, &prevClose); err != nil {
			return nil, err
		}
		vh.Price, _ = decimal.NewFromString(priceS)
		vh.Value = vh.Price.Mul(decimal.NewFromInt(vh.Quantity))
		vh.PreviousClose = nullDecimal(prevClose)
		holdings = append(holdings, vh)
	}
	return holdings, rows.Err()
}

func (q pgQueries) ListStockHoldings(ctx context.Context, uid, ticker string) ([]model.StockHolding, error) {
	rows, err := q.db.Query(ctx,
		`SELECT uid, ticker, quantity, timestamp
		 FROM stock_holdings
		 WHERE uid = $1 AND ticker = $2
		 ORDER BY timestamp`, uid, ticker)
	if err != nil {
		return nil, fmt.Errorf("list stock history %s/%s: %w", uid, ticker, err)
	}
	defer rows.Close()

	var snaps []model.StockHolding
	for rows.Next() {
		var h model.StockHolding
		if err := rows.Scan(&h.UID, &h.Ticker, &h.Quantity, &h.Timestamp); err != nil {
			return nil, err
		}
		snaps = append(snaps, h)
	}
	return snaps, rows.Err()
}

func (q pgQueries) ListTopShareholders(ctx context.Context, ticker string, limit int) ([]model.StockHolding, error) {
	rows, err := q.db.Query(ctx,
		`SELECT uid, ticker, quantity, timestamp
		 FROM (
		     SELECT DISTINCT ON (uid) uid, ticker, quantity, timestamp
		     FROM stock_holdings
		     WHERE ticker = $1
		     ORDER BY uid, timestamp DESC
		 ) cur
		 WHERE quantity > 0
		 ORDER BY quantity DESC, uid
		 LIMIT $2`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("list shareholders %s: %w", ticker, err)
	}
	defer rows.Close()

	var holders []model.StockHolding
	for rows.Next() {
		var h model.StockHolding
		if err := rows.Scan(&h.UID, &h.Ticker, &h.Quantity, &h.Timestamp); err != nil {
			return nil, err
		}
		holders = append(holders, h)
	}
	return holders, rows.Err()
}

func (q pgQueries) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	var it model.Item
	err := q.db.QueryRow(ctx,
		`SELECT item_id, name, type, COALESCE(rarity, '') FROM items WHERE item_id = $1`, itemID).
		Scan(&it.ItemID, &it.Name, &it.Type, &it.Rarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	return &it, nil
}

func (q pgQueries) GetItemHolding(ctx context.Context, uid, itemID string) (*model.ItemHolding, error) {
	var h model.ItemHolding
	err := q.db.QueryRow(ctx,
		`SELECT uid, item_id, quantity FROM item_holdings WHERE uid = $1 AND item_id = $2`, uid, itemID).
		Scan(&h.UID, &h.ItemID, &h.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item holding %s/%s: %w", uid, itemID, err)
	}
	return &h, nil
}

func (q pgQueries) ListItemHoldings(ctx context.Context, uid string) ([]model.ItemHolding, error) {
	rows, err := q.db.Query(ctx,
		`SELECT uid, item_id, quantity FROM item_holdings WHERE uid = $1 ORDER BY item_id`, uid)
	if err != nil {
		return nil, fmt.Errorf("list inventory %s: %w", uid, err)
	}
	defer rows.Close()

	var inv []model.ItemHolding
	for rows.Next() {
		var h model.ItemHolding
		if err := rows.Scan(&h.UID, &h.ItemID, &h.Quantity); err != nil {
			return nil, err
		}
		inv = append(inv, h)
	}
	return inv, rows.Err()
}

func (q pgQueries) InsertItemHolding(ctx context.Context, h *model.ItemHolding) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO item_holdings (uid, item_id, quantity) VALUES ($1, $2, $3)`,
		h.UID, h.ItemID, h.Quantity,
	)
	if err != nil {
		return fmt.Errorf("insert item holding %s/%s: %w", h.UID, h.ItemID, err)
	}
	return nil
}

func (q pgQueries) UpdateItemHolding(ctx context.Context, uid, itemID string, patch model.ItemHoldingPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE item_holdings SET quantity = $1 WHERE uid = $2 AND item_id = $3`,
		*patch.Quantity, uid, itemID,
	)
	if err != nil {
		return fmt.Errorf("update item holding %s/%s: %w", uid, itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update item holding %s/%s: no rows", uid, itemID)
	}
	return nil
}

const requestColumns = `level_id, bounty::TEXT, COALESCE(name, ''), COALESCE(creator, ''), COALESCE(requester_uid, '')`

func scanRequest(row pgx.Row) (*model.Request, error) {
	var r model.Request
	var bounty string
	if err := row.Scan(&r.LevelID, &bounty, &r.Name, &r.Creator, &r.RequesterUID); err != nil {
		return nil, err
	}
	r.Bounty, _ = decimal.NewFromString(bounty)
	return &r, nil
}

func (q pgQueries) GetRequest(ctx context.Context, levelID string) (*model.Request, error) {
	r, err := scanRequest(q.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE level_id = $1`, levelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", levelID, err)
	}
	return r, nil
}

func (q pgQueries) InsertRequest(ctx context.Context, r *model.Request) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO requests (level_id, bounty, name, creator, requester_uid)
		 VALUES ($1, $2::NUMERIC, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''))`,
		r.LevelID, r.Bounty.String(), r.Name, r.Creator, r.RequesterUID,
	)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", r.LevelID, err)
	}
	return nil
}

func (q pgQueries) UpdateRequest(ctx context.Context, levelID string, patch model.RequestPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	var set setClause
	if patch.Bounty != nil {
		set.add("bounty", "::NUMERIC", patch.Bounty.String())
	}
	if patch.Name != nil {
		set.add("name", "", *patch.Name)
	}
	if patch.Creator != nil {
		set.add("creator", "", *patch.Creator)
	}
	if patch.RequesterUID != nil {
		set.add("requester_uid", "", *patch.RequesterUID)
	}
	query := fmt.Sprintf(`UPDATE requests SET %s WHERE level_id = $%d`, set.sql(), set.next())
	tag, err := q.db.Exec(ctx, query, append(set.args, levelID)...)
	if err != nil {
		return fmt.Errorf("update request %s: %w", levelID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update request %s: no rows", levelID)
	}
	return nil
}

func (q pgQueries) ListRequestsByBounty(ctx context.Context, limit int) ([]model.Request, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+requestColumns+`
		 FROM requests
		 ORDER BY bounty DESC, level_id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

func (q pgQueries) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO transactions (id, type, uid, balance_change, timestamp,
		                           ticker, quantity, price, total_price, credit_change,
		                           destination, is_destination_user, memo)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5,
		         NULLIF($6, ''), $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         NULLIF($11, ''), $12, NULLIF($13, ''))`,
		t.ID, string(t.Type), t.UID, t.BalanceChange.String(), t.Timestamp,
		t.Ticker, t.Quantity, t.Price.String(), t.TotalPrice.String(), t.CreditChange.String(),
		t.Destination, t.IsDestinationUser, t.Memo,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (q pgQueries) ListTransactions(ctx context.Context, uid string, limit int) ([]model.Transaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id::TEXT, type, uid, balance_change::TEXT, timestamp,
		        COALESCE(ticker, ''), quantity, price::TEXT, total_price::TEXT, credit_change::TEXT,
		        COALESCE(destination, ''), is_destination_user, COALESCE(memo, '')
		 FROM transactions
		 WHERE uid = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", uid, err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var typ, changeS, priceS, totalS, creditS string

		if err := rows.Scan(&t.ID, &typ, &t.UID, &changeS, &t.Timestamp,
			&t.Ticker, &t.Quantity, &priceS, &totalS, &creditS,
			&t.Destination, &t.IsDestinationUser, &t.Memo); err != nil {
			return nil, err
		}

		t.Type = model.TransactionType(typ)
		t.BalanceChange, _ = decimal.NewFromString(changeS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.TotalPrice, _ = decimal.NewFromString(totalS)
		t.CreditChange, _ = decimal.NewFromString(creditS)

		txs = append(txs, t)
	}
	return txs, rows.Err()
}
