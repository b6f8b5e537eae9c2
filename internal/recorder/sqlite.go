package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"RebalanceSentinel/internal/model"
)

// SQLiteRecorder persists snapshots to a SQLite database. Decimal columns are
// stored as TEXT so values round-trip exactly.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so the HTTP API can read history while cycles write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log.With().Str("component", "recorder").Logger()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id              TEXT PRIMARY KEY,
			generation      INTEGER NOT NULL,
			timestamp       INTEGER NOT NULL,
			trigger_type    TEXT,
			account         TEXT,
			price_status    TEXT,
			prices_at       INTEGER,
			total_value     TEXT,
			needs_rebalance INTEGER,
			total_drift     TEXT,
			threshold       TEXT,
			target_origin   TEXT,
			started_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_account_ts ON snapshots(account, timestamp)`,

		`CREATE TABLE IF NOT EXISTS quotes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_id TEXT NOT NULL,
			asset_code  TEXT NOT NULL,
			price       TEXT NOT NULL,
			source      TEXT NOT NULL,
			quoted_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_snapshot ON quotes(snapshot_id)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_id     TEXT NOT NULL,
			asset_code      TEXT NOT NULL,
			issuer          TEXT,
			amount          TEXT,
			value           TEXT,
			current_percent TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_holdings_snapshot ON holdings(snapshot_id)`,

		`CREATE TABLE IF NOT EXISTS drift_records (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_id     TEXT NOT NULL,
			asset_code      TEXT NOT NULL,
			current_percent TEXT,
			target_percent  TEXT,
			drift           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drift_snapshot ON drift_records(snapshot_id)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_id TEXT NOT NULL,
			asset_code  TEXT NOT NULL,
			action      TEXT,
			amount      TEXT,
			percent     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_snapshot ON trades(snapshot_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordSnapshot writes the snapshot and its child rows in one transaction.
func (r *SQLiteRecorder) RecordSnapshot(snap *model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	needs, totalDrift, threshold := 0, "", ""
	if snap.Drift != nil {
		if snap.Drift.NeedsRebalance {
			needs = 1
		}
		totalDrift = snap.Drift.TotalDrift.String()
		threshold = snap.Drift.ThresholdPercent.String()
	}

	_, err = tx.Exec(`INSERT INTO snapshots
		(id, generation, timestamp, trigger_type, account, price_status, prices_at,
		 total_value, needs_rebalance, total_drift, threshold, target_origin, started_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		snap.ID.String(), snap.Generation, snap.SettledAt.Unix(), string(snap.Trigger),
		snap.Account, string(snap.PriceStatus), unixOrZero(snap.PricesAt),
		snap.Valuation.TotalValue.String(), needs, totalDrift, threshold,
		string(snap.TargetOrigin), snap.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for _, code := range snap.Quotes.Codes() {
		q := snap.Quotes[code]
		if _, err := tx.Exec(`INSERT INTO quotes (snapshot_id, asset_code, price, source, quoted_at)
			VALUES (?,?,?,?,?)`,
			snap.ID.String(), q.AssetCode, q.Price.String(), string(q.Source), unixOrZero(q.Timestamp),
		); err != nil {
			return fmt.Errorf("insert quote %s: %w", code, err)
		}
	}

	for _, h := range snap.Valuation.Holdings {
		if _, err := tx.Exec(`INSERT INTO holdings (snapshot_id, asset_code, issuer, amount, value, current_percent)
			VALUES (?,?,?,?,?,?)`,
			snap.ID.String(), h.AssetCode, h.Issuer, h.Amount.String(), h.Value.String(), h.CurrentPercent.String(),
		); err != nil {
			return fmt.Errorf("insert holding %s: %w", h.AssetCode, err)
		}
	}

	if snap.Drift != nil {
		for _, d := range snap.Drift.Records {
			if _, err := tx.Exec(`INSERT INTO drift_records (snapshot_id, asset_code, current_percent, target_percent, drift)
				VALUES (?,?,?,?,?)`,
				snap.ID.String(), d.AssetCode, d.CurrentPercent.String(), d.TargetPercent.String(), d.Drift.String(),
			); err != nil {
				return fmt.Errorf("insert drift %s: %w", d.AssetCode, err)
			}
		}
	}

	for _, t := range snap.Trades {
		if _, err := tx.Exec(`INSERT INTO trades (snapshot_id, asset_code, action, amount, percent)
			VALUES (?,?,?,?,?)`,
			snap.ID.String(), t.AssetCode, string(t.Action), t.Amount.String(), t.Percent.String(),
		); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.AssetCode, err)
		}
	}

	return tx.Commit()
}

// ValueHistory only includes snapshots that valued holdings.
func (r *SQLiteRecorder) ValueHistory(account string, since time.Time, limit int) ([]model.ValuePoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(`SELECT timestamp, total_value FROM (
			SELECT timestamp, total_value FROM snapshots
			WHERE account = ? AND timestamp >= ? AND price_status != ?
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`,
		account, since.Unix(), string(model.PriceUnavailable), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query value history: %w", err)
	}
	defer rows.Close()

	var points []model.ValuePoint
	for rows.Next() {
		var ts int64
		var raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, fmt.Errorf("scan value history: %w", err)
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			r.log.Warn().Str("value", raw).Msg("skipping unparseable total value")
			continue
		}
		points = append(points, model.ValuePoint{At: time.Unix(ts, 0).UTC(), Value: value.InexactFloat64()})
	}
	return points, rows.Err()
}

// Prune removes old snapshots together with their child rows.
func (r *SQLiteRecorder) Prune(before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.Unix()
	for _, table := range []string{"quotes", "holdings", "drift_records", "trades"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE snapshot_id IN
			(SELECT id FROM snapshots WHERE timestamp < ?)`, cutoff); err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
	}
	res, err := tx.Exec(`DELETE FROM snapshots WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info().Int64("rows", n).Time("before", before).Msg("pruned snapshot history")
	}
	return n, nil
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
