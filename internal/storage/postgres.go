// Package storage persists strategies and completed backtest runs in
// PostgreSQL.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"optionbt/internal/engine"
	"optionbt/internal/signal"
)

// DB represents a database connection
type DB struct {
	*sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection and ensures the schema exists.
func New(params ConnectionParams) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS strategies (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			rules JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS backtest_runs (
			id SERIAL PRIMARY KEY,
			strategy_slug TEXT,
			derivative TEXT NOT NULL,
			start_date TIMESTAMP NOT NULL,
			end_date TIMESTAMP NOT NULL,
			interval_minutes INT NOT NULL,
			total_trades INT NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			total_net_pnl DOUBLE PRECISION NOT NULL,
			max_drawdown DOUBLE PRECISION NOT NULL,
			profit_factor DOUBLE PRECISION NOT NULL,
			sharpe DOUBLE PRECISION NOT NULL,
			error_msg TEXT,
			completed BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS backtest_trades (
			id SERIAL PRIMARY KEY,
			run_id INT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
			trade_no INT NOT NULL,
			direction TEXT NOT NULL,
			entry_time TIMESTAMP NOT NULL,
			exit_time TIMESTAMP NOT NULL,
			spot_entry DOUBLE PRECISION NOT NULL,
			spot_exit DOUBLE PRECISION NOT NULL,
			strike DOUBLE PRECISION NOT NULL,
			option_entry DOUBLE PRECISION NOT NULL,
			option_exit DOUBLE PRECISION NOT NULL,
			lots INT NOT NULL,
			lot_size INT NOT NULL,
			gross_pnl DOUBLE PRECISION NOT NULL,
			brokerage DOUBLE PRECISION NOT NULL,
			net_pnl DOUBLE PRECISION NOT NULL,
			entry_source TEXT NOT NULL,
			exit_source TEXT NOT NULL,
			exit_reason TEXT NOT NULL,
			signal_name TEXT
		)
	`)
	return err
}

// GetStrategyConfig loads a stored strategy's rule configuration by slug.
// Returns (nil, nil) when no such strategy exists.
func (db *DB) GetStrategyConfig(slug string) (*signal.Config, error) {
	var raw []byte
	err := db.QueryRow(`SELECT rules FROM strategies WHERE slug = $1`, slug).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cfg, err := signal.ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("strategy %s has invalid rules: %w", slug, err)
	}
	return &cfg, nil
}

// SaveStrategy inserts or updates a strategy's rule configuration.
func (db *DB) SaveStrategy(slug, name string, cfg *signal.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO strategies (slug, name, rules, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (slug)
		DO UPDATE SET
			name = EXCLUDED.name,
			rules = EXCLUDED.rules,
			updated_at = now()
	`, slug, name, raw)
	return err
}

// SaveResult stores a completed run and its trades atomically, returning
// the run id.
func (db *DB) SaveResult(result *engine.Result) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRow(`
		INSERT INTO backtest_runs (
			strategy_slug, derivative, start_date, end_date, interval_minutes,
			total_trades, win_rate, total_net_pnl, max_drawdown, profit_factor,
			sharpe, error_msg, completed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`,
		result.Config.StrategySlug, result.Config.Derivative,
		result.Config.StartDate, result.Config.EndDate, result.Config.IntervalMinutes,
		result.TotalTrades, result.WinRate, result.TotalNetPnL, result.MaxDrawdown,
		result.ProfitFactor, result.Sharpe, result.ErrorMsg, result.Completed, time.Now(),
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO backtest_trades (
			run_id, trade_no, direction, entry_time, exit_time,
			spot_entry, spot_exit, strike, option_entry, option_exit,
			lots, lot_size, gross_pnl, brokerage, net_pnl,
			entry_source, exit_source, exit_reason, signal_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range result.Trades {
		_, err := stmt.Exec(
			runID, t.TradeNo, string(t.Direction), t.EntryTime, t.ExitTime,
			t.SpotEntry, t.SpotExit, t.Strike, t.OptionEntry, t.OptionExit,
			t.Lots, t.LotSize, t.GrossPnL, t.Brokerage, t.NetPnL,
			string(t.EntrySource), string(t.ExitSource), string(t.ExitReason), t.SignalName,
		)
		if err != nil {
			return 0, fmt.Errorf("insert trade %d: %w", t.TradeNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}
