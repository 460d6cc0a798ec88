// Package sqlite is the append-only record store for submitted trades and
// monitor alerts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"alpha_autotrader/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    ticker TEXT NOT NULL,
    action TEXT NOT NULL,
    quantity TEXT NOT NULL,
    entry_price TEXT NOT NULL,
    order_id TEXT,
    client_order_id TEXT,
    strategy TEXT,
    validator_sentiment TEXT,
    consensus_direction TEXT,
    consensus_confidence REAL,
    confidence REAL,
    reasoning TEXT,
    block_reason TEXT,
    snapshot TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_client_order ON trades(client_order_id) WHERE client_order_id <> '';

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ticker TEXT NOT NULL,
    trigger TEXT NOT NULL,
    current_price TEXT NOT NULL,
    trigger_price TEXT NOT NULL,
    pnl_pct TEXT NOT NULL,
    outcome TEXT NOT NULL,
    order_id TEXT,
    created_at DATETIME NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return addColumn(db, "trades", "block_reason", "TEXT")
}

// addColumn upgrades tables created before the column existed.
func addColumn(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("table info %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Append stores one trade record.
func (s *Store) Append(ctx context.Context, r models.TradeRecord) error {
	snap, err := json.Marshal(r.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO trades (cycle_id, ticker, action, quantity, entry_price, order_id, client_order_id,
    strategy, validator_sentiment, consensus_direction, consensus_confidence, confidence, reasoning,
    block_reason, snapshot, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.Ticker, string(r.Action), r.Quantity.String(), r.EntryPrice.String(),
		r.OrderID, r.ClientOrderID, r.Strategy, string(r.ValidatorSentiment),
		r.ConsensusDirection, r.ConsensusConf, r.Decision.Confidence, r.Decision.Reasoning,
		r.BlockReason, string(snap), created.UTC())
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", r.Ticker, err)
	}
	return nil
}

// AppendAlert stores one monitor alert.
func (s *Store) AppendAlert(ctx context.Context, a models.Alert) error {
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (ticker, trigger, current_price, trigger_price, pnl_pct, outcome, order_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Ticker, a.Trigger, a.CurrentPrice.String(), a.TriggerPrice.String(), a.PnLPct.String(),
		a.Outcome, a.OrderID, at.UTC())
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.Ticker, err)
	}
	return nil
}

// RecentTrades returns the newest trades first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT cycle_id, ticker, action, quantity, entry_price, order_id, client_order_id, strategy,
    validator_sentiment, consensus_direction, consensus_confidence, confidence, reasoning, block_reason, created_at
FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			r                 models.TradeRecord
			action, qty, px   string
			orderID, clientID sql.NullString
			strategy, sent    sql.NullString
			dir, reasoning    sql.NullString
			blockReason       sql.NullString
			consConf, conf    sql.NullFloat64
		)
		if err := rows.Scan(&r.CycleID, &r.Ticker, &action, &qty, &px, &orderID, &clientID, &strategy,
			&sent, &dir, &consConf, &conf, &reasoning, &blockReason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		r.Action = models.Action(action)
		r.Quantity, _ = decimal.NewFromString(qty)
		r.EntryPrice, _ = decimal.NewFromString(px)
		r.OrderID = orderID.String
		r.ClientOrderID = clientID.String
		r.Strategy = strategy.String
		r.ValidatorSentiment = models.Sentiment(sent.String)
		r.ConsensusDirection = dir.String
		r.ConsensusConf = consConf.Float64
		r.BlockReason = blockReason.String
		r.Decision = models.PortfolioDecision{
			Action:     r.Action,
			Quantity:   r.Quantity,
			Confidence: conf.Float64,
			Reasoning:  reasoning.String,
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountAlerts returns how many alerts were stored for ticker.
func (s *Store) CountAlerts(ctx context.Context, ticker string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE ticker = ?`, ticker).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}
