package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one ordered, idempotent schema step.
type migration struct {
	version     int
	description string
	sql         string
}

// migrations is the ordered list applied by Migrate. Never edit an already
// shipped entry; append a new one instead.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema",
		sql: `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	broker TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS theses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	symbols TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'DRAFT',
	confidence_target REAL NOT NULL DEFAULT 0,
	domain TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thesis_universe_keywords (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thesis_id INTEGER NOT NULL REFERENCES theses(id),
	keyword TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_thesis_keywords_thesis ON thesis_universe_keywords(thesis_id);

CREATE TABLE IF NOT EXISTS thesis_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thesis_id INTEGER NOT NULL REFERENCES theses(id),
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS principles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	statement TEXT NOT NULL,
	weight REAL NOT NULL DEFAULT 1.0,
	validated INTEGER NOT NULL DEFAULT 0,
	invalidated INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL DEFAULT 'LONG',
	shares REAL NOT NULL DEFAULT 0,
	avg_cost REAL NOT NULL DEFAULT 0,
	sector TEXT NOT NULL DEFAULT 'Unknown',
	updated_at TEXT NOT NULL,
	UNIQUE(symbol, side)
);

CREATE TABLE IF NOT EXISTS lots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id INTEGER NOT NULL REFERENCES positions(id),
	symbol TEXT NOT NULL,
	shares REAL NOT NULL,
	cost_basis REAL NOT NULL,
	acquired_date TEXT NOT NULL,
	closed_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_lots_symbol_date ON lots(symbol, acquired_date, id);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id INTEGER REFERENCES signals(id),
	order_id INTEGER,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	shares REAL NOT NULL,
	price REAL NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	executed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id INTEGER REFERENCES signals(id),
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	shares REAL NOT NULL,
	type TEXT NOT NULL,
	limit_price REAL,
	status TEXT NOT NULL,
	filled_price REAL,
	filled_shares REAL,
	message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	cancelled_at TEXT
);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thesis_id INTEGER REFERENCES theses(id),
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	size_pct REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	reason TEXT NOT NULL DEFAULT '',
	funding_plan TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	decided_at TEXT,
	expires_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status);

CREATE TABLE IF NOT EXISTS what_ifs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id INTEGER NOT NULL REFERENCES signals(id),
	decision TEXT NOT NULL,
	price_at_pass REAL NOT NULL,
	current_price REAL NOT NULL DEFAULT 0,
	pnl REAL NOT NULL DEFAULT 0,
	pnl_pct REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_value (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL UNIQUE,
	cash REAL NOT NULL,
	total_value REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS exposure_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	long_value REAL NOT NULL,
	short_value REAL NOT NULL,
	gross_value REAL NOT NULL,
	net_value REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_limits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	max_position_pct REAL NOT NULL,
	max_sector_pct REAL NOT NULL,
	max_gross_exposure REAL NOT NULL,
	net_exposure_min REAL NOT NULL,
	net_exposure_max REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	daily_loss_limit REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS kill_switch (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	active INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	activated_by TEXT NOT NULL DEFAULT '',
	activated_at TEXT
);

CREATE TABLE IF NOT EXISTS drawdown_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	drawdown REAL NOT NULL,
	peak_value REAL NOT NULL,
	trough_value REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trading_windows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	opens_at TEXT NOT NULL,
	closes_at TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trading_windows_symbol ON trading_windows(symbol);

CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	cron_expression TEXT NOT NULL DEFAULT '',
	last_run TEXT,
	next_run TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	error_log TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_type TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id INTEGER,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	date TEXT NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume INTEGER NOT NULL DEFAULT 0,
	UNIQUE(symbol, date)
);

CREATE TABLE IF NOT EXISTS congress_trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	politician TEXT NOT NULL,
	symbol TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	amount_range TEXT NOT NULL DEFAULT '',
	transaction_date TEXT NOT NULL,
	reported_date TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	processed INTEGER NOT NULL DEFAULT 0,
	UNIQUE(politician, symbol, transaction_date)
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outcome_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thesis_id INTEGER NOT NULL REFERENCES theses(id),
	snapshot_date TEXT NOT NULL,
	conviction REAL NOT NULL DEFAULT 0,
	avg_return_pct REAL NOT NULL DEFAULT 0,
	best_symbol TEXT NOT NULL DEFAULT '',
	best_return_pct REAL NOT NULL DEFAULT 0,
	worst_symbol TEXT NOT NULL DEFAULT '',
	worst_return_pct REAL NOT NULL DEFAULT 0,
	thesis_age_days INTEGER NOT NULL DEFAULT 0,
	calibration_score REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	UNIQUE(thesis_id, snapshot_date)
);

CREATE TABLE IF NOT EXISTS source_stats (
	source TEXT PRIMARY KEY,
	wins INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0
);
`,
	},
}

// Migrate applies every migration whose version is not yet recorded in
// schema_migrations, in order, each inside its own transaction.
func (s *Store) Migrate() error {
	ctx := context.Background()

	if _, err := s.conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := s.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		err := s.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.sql); err != nil {
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, datetime('now'))`,
				m.version, m.description,
			); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.log.Info().Int("version", m.version).Str("description", m.description).Msg("applied migration")
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}
