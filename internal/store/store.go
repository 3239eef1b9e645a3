// Package store provides the single embedded relational persistence layer
// of spec §4.9: a WAL-mode SQLite database holding strategies, backtest
// runs, live sessions, risk profiles, market-data cache index rows, trades,
// positions, daily PnL, and the audit log, plus a sharded on-disk
// content-addressed tree for strategy source text.
//
// Grounded on the teacher's own `store/store.go` atomic-write-then-rename
// idiom (write to a .tmp file, then os.Rename over the target) for the
// sharded strategy tree, generalized here from single-file JSON position
// snapshots to a full relational schema backed by modernc.org/sqlite — the
// pure-Go SQLite driver already present in the retrieved pack
// (`poorman-SynapseStrike`).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"quantcore/pkg/types"
)

// schemaVersion is the current monotone migration number.
const schemaVersion = 1

// Store owns the SQLite connection and the sharded strategy-source tree.
type Store struct {
	db          *sql.DB
	strategyDir string

	mu sync.Mutex // serializes strategy-tree writes (DB itself is safe for concurrent use)
}

// Open opens (creating if absent) the SQLite database at dbPath in WAL
// mode, runs pending migrations, and prepares the strategyDir tree.
func Open(dbPath, strategyDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	if err := os.MkdirAll(strategyDir, 0o755); err != nil {
		return nil, fmt.Errorf("create strategy dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite recommends a single writer connection

	s := &Store{db: db, strategyDir: strategyDir}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates every table if absent and stamps schema_version.
// Runs once at Open, not per-call (see DESIGN.md's "audit log re-creation"
// Open Question resolution).
func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS strategies (
			version_hash TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			source TEXT NOT NULL,
			config_schema TEXT,
			parent_hash TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			strategy_hash TEXT NOT NULL,
			trading_pair TEXT NOT NULL,
			venue TEXT,
			start_date TEXT,
			end_date TEXT,
			aggregation TEXT,
			parameters TEXT,
			status TEXT NOT NULL,
			progress_fraction REAL NOT NULL DEFAULT 0,
			started_at TEXT,
			completed_at TEXT,
			metrics TEXT,
			trade_log TEXT,
			equity_curve TEXT,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS live_sessions (
			id TEXT PRIMARY KEY,
			strategy_hash TEXT NOT NULL,
			trading_pair TEXT NOT NULL,
			venue TEXT,
			lifecycle_state TEXT NOT NULL,
			risk_profile_id TEXT,
			parameters TEXT,
			operator TEXT,
			started_at TEXT,
			paused_at TEXT,
			stopped_at TEXT,
			audit_trail TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS risk_profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			max_drawdown_pct REAL NOT NULL,
			single_order_size_cap REAL NOT NULL,
			daily_loss_limit REAL NOT NULL,
			max_concurrent_strategies INTEGER NOT NULL,
			kill_switch_active INTEGER NOT NULL DEFAULT 0,
			created_at TEXT,
			updated_at TEXT,
			modification_log TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS market_data_cache (
			instrument TEXT NOT NULL,
			aggregation TEXT NOT NULL,
			start_date TEXT,
			end_date TEXT,
			record_count INTEGER,
			file_path TEXT,
			content_hash TEXT,
			fetched_at TEXT,
			PRIMARY KEY (instrument, aggregation)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			instrument TEXT NOT NULL,
			side TEXT,
			price REAL,
			quantity REAL,
			fee REAL,
			is_taker INTEGER,
			executed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			session_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			side TEXT,
			quantity REAL,
			avg_entry_price REAL,
			realized_pnl REAL,
			unrealized_pnl REAL,
			updated_at TEXT,
			PRIMARY KEY (session_id, instrument)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_pnl (
			session_id TEXT NOT NULL,
			date TEXT NOT NULL,
			realized_pnl REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT,
			entity_id TEXT,
			details TEXT,
			session_id TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("stamp schema_version: %w", err)
		}
	}
	return nil
}

// shardedPath returns the sharded tree path for a content hash: the first
// two hex characters become the directory name.
func (s *Store) shardedPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.strategyDir, hash)
	}
	return filepath.Join(s.strategyDir, hash[:2], hash)
}

// SaveStrategy writes the strategy's source to the sharded tree (atomic
// write-then-rename) and its metadata row, unless the hash already exists
// — duplicate saves are idempotent and never re-write.
func (s *Store) SaveStrategy(strat types.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM strategies WHERE version_hash = ?`, strat.VersionHash).Scan(&exists); err != nil {
		return fmt.Errorf("check existing strategy: %w", err)
	}
	if exists > 0 {
		return nil
	}

	path := s.shardedPath(strat.VersionHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strat.Source), 0o600); err != nil {
		return fmt.Errorf("write strategy source: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename strategy source: %w", err)
	}

	schema, err := json.Marshal(strat.ConfigSchema)
	if err != nil {
		return fmt.Errorf("marshal config schema: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO strategies (version_hash, name, description, source, config_schema, parent_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strat.VersionHash, strat.Name, strat.Description, strat.Source, string(schema), strat.ParentHash, strat.CreatedAt.Format(time.RFC3339))
	return err
}

// LoadStrategy reads a strategy's metadata row, including the source text
// stored in it. The copy in the sharded tree is not read, and the source is
// not re-hashed against version_hash. An unknown hash yields (nil, nil).
func (s *Store) LoadStrategy(hash string) (*types.Strategy, error) {
	row := s.db.QueryRow(`SELECT version_hash, name, description, source, config_schema, parent_hash, created_at FROM strategies WHERE version_hash = ?`, hash)

	var strat types.Strategy
	var schema string
	var createdAt string
	if err := row.Scan(&strat.VersionHash, &strat.Name, &strat.Description, &strat.Source, &schema, &strat.ParentHash, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	strat.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if schema != "" {
		if err := json.Unmarshal([]byte(schema), &strat.ConfigSchema); err != nil {
			return nil, fmt.Errorf("unmarshal config schema: %w", err)
		}
	}
	return &strat, nil
}

// HasCompletedBacktest reports whether a strategy hash has at least one
// Completed backtest run, satisfying lifecycle.BacktestLookup.
func (s *Store) HasCompletedBacktest(strategyHash string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM backtest_runs WHERE strategy_hash = ? AND status = ?`,
		strategyHash, types.BacktestCompleted).Scan(&count)
	return count > 0, err
}

// SaveBacktestJob upserts one BacktestJob row, satisfying backtest.JobStore.
func (s *Store) SaveBacktestJob(job types.BacktestJob) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(job.Metrics)
	if err != nil {
		return err
	}
	tradeLog, err := json.Marshal(job.TradeLog)
	if err != nil {
		return err
	}
	equityCurve, err := json.Marshal(job.EquityCurve)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO backtest_runs
		(id, strategy_hash, trading_pair, venue, start_date, end_date, aggregation, parameters, status, progress_fraction, started_at, completed_at, metrics, trade_log, equity_curve, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, progress_fraction=excluded.progress_fraction,
			started_at=excluded.started_at, completed_at=excluded.completed_at,
			metrics=excluded.metrics, trade_log=excluded.trade_log,
			equity_curve=excluded.equity_curve, error=excluded.error`,
		job.ID, job.StrategyHash, job.TradingPair, job.Venue,
		job.StartDate.Format(time.RFC3339), job.EndDate.Format(time.RFC3339), string(job.Aggregation),
		string(params), string(job.Status), job.ProgressFrac,
		formatTimeOrEmpty(job.StartedAt), formatTimeOrEmpty(job.CompletedAt),
		string(metrics), string(tradeLog), string(equityCurve), job.Error)
	return err
}

// GetRiskProfile loads a risk profile by id, satisfying lifecycle.RiskProfileLookup.
func (s *Store) GetRiskProfile(id string) (*types.RiskProfile, error) {
	row := s.db.QueryRow(`SELECT id, name, max_drawdown_pct, single_order_size_cap, daily_loss_limit, max_concurrent_strategies, kill_switch_active, created_at, updated_at, modification_log FROM risk_profiles WHERE id = ?`, id)

	var p types.RiskProfile
	var killSwitch int
	var createdAt, updatedAt, modLog string
	if err := row.Scan(&p.ID, &p.Name, &p.MaxDrawdownPct, &p.SingleOrderSizeCap, &p.DailyLossLimit, &p.MaxConcurrentStrategies, &killSwitch, &createdAt, &updatedAt, &modLog); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("risk profile %s not found", id)
		}
		return nil, err
	}
	p.KillSwitchActive = killSwitch != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if modLog != "" {
		json.Unmarshal([]byte(modLog), &p.ModificationLog)
	}
	return &p, nil
}

// SaveRiskProfile upserts one risk profile row.
func (s *Store) SaveRiskProfile(p types.RiskProfile) error {
	modLog, err := json.Marshal(p.ModificationLog)
	if err != nil {
		return err
	}
	killSwitch := 0
	if p.KillSwitchActive {
		killSwitch = 1
	}
	_, err = s.db.Exec(`INSERT INTO risk_profiles
		(id, name, max_drawdown_pct, single_order_size_cap, daily_loss_limit, max_concurrent_strategies, kill_switch_active, created_at, updated_at, modification_log)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, max_drawdown_pct=excluded.max_drawdown_pct,
			single_order_size_cap=excluded.single_order_size_cap, daily_loss_limit=excluded.daily_loss_limit,
			max_concurrent_strategies=excluded.max_concurrent_strategies, kill_switch_active=excluded.kill_switch_active,
			updated_at=excluded.updated_at, modification_log=excluded.modification_log`,
		p.ID, p.Name, p.MaxDrawdownPct, p.SingleOrderSizeCap, p.DailyLossLimit, p.MaxConcurrentStrategies,
		killSwitch, formatTimeOrEmpty(p.CreatedAt), formatTimeOrEmpty(p.UpdatedAt), string(modLog))
	return err
}

// SetKillSwitchActive latches kill_switch_active on one risk profile,
// satisfying lifecycle.RiskProfileSetter. Latching is a one-way operation
// from the core's perspective (spec §4.6 kill-switch, §4.5 one-way latch);
// this helper only ever sets the flag to true.
func (s *Store) SetKillSwitchActive(id string) error {
	p, err := s.GetRiskProfile(id)
	if err != nil {
		return err
	}
	if p.KillSwitchActive {
		return nil
	}
	p.KillSwitchActive = true
	p.UpdatedAt = time.Now()
	p.ModificationLog = append(p.ModificationLog, "kill_switch_active set by kill-switch")
	return s.SaveRiskProfile(*p)
}

// SaveLiveSession upserts one live session row.
func (s *Store) SaveLiveSession(session types.LiveSession) error {
	params, err := json.Marshal(session.Parameters)
	if err != nil {
		return err
	}
	auditTrail, err := json.Marshal(session.AuditTrail)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO live_sessions
		(id, strategy_hash, trading_pair, venue, lifecycle_state, risk_profile_id, parameters, operator, started_at, paused_at, stopped_at, audit_trail)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			lifecycle_state=excluded.lifecycle_state, paused_at=excluded.paused_at,
			stopped_at=excluded.stopped_at, audit_trail=excluded.audit_trail`,
		session.ID, session.StrategyHash, session.TradingPair, session.Venue, string(session.LifecycleState),
		session.RiskProfileID, string(params), session.Operator, formatTimeOrEmpty(session.StartedAt),
		formatTimePtrOrEmpty(session.PausedAt), formatTimePtrOrEmpty(session.StoppedAt), string(auditTrail))
	return err
}

// AppendAudit writes one append-only audit-log row.
func (s *Store) AppendAudit(rec types.AuditRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO audit_log (timestamp, action, entity_type, entity_id, details, session_id)
		VALUES (?,?,?,?,?,?)`,
		rec.Timestamp.Format(time.RFC3339), rec.Action, rec.EntityType, rec.EntityID, string(details), rec.SessionID)
	return err
}

// UpsertCacheIndex writes one market-data cache index row.
func (s *Store) UpsertCacheIndex(entry types.CacheIndexEntry) error {
	_, err := s.db.Exec(`INSERT INTO market_data_cache
		(instrument, aggregation, start_date, end_date, record_count, file_path, content_hash, fetched_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(instrument, aggregation) DO UPDATE SET
			start_date=excluded.start_date, end_date=excluded.end_date, record_count=excluded.record_count,
			file_path=excluded.file_path, content_hash=excluded.content_hash, fetched_at=excluded.fetched_at`,
		entry.Instrument, string(entry.Aggregation), entry.StartDate.Format(time.RFC3339), entry.EndDate.Format(time.RFC3339),
		entry.RecordCount, entry.FilePath, entry.ContentHash, entry.FetchedAt.Format(time.RFC3339))
	return err
}

// GetCacheIndex loads one market-data cache index row, if present.
func (s *Store) GetCacheIndex(instrument string, agg types.BarAggregation) (*types.CacheIndexEntry, error) {
	row := s.db.QueryRow(`SELECT instrument, aggregation, start_date, end_date, record_count, file_path, content_hash, fetched_at
		FROM market_data_cache WHERE instrument = ? AND aggregation = ?`, instrument, string(agg))

	var e types.CacheIndexEntry
	var aggregation, start, end, fetched string
	if err := row.Scan(&e.Instrument, &aggregation, &start, &end, &e.RecordCount, &e.FilePath, &e.ContentHash, &fetched); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.Aggregation = types.BarAggregation(aggregation)
	e.StartDate, _ = time.Parse(time.RFC3339, start)
	e.EndDate, _ = time.Parse(time.RFC3339, end)
	e.FetchedAt, _ = time.Parse(time.RFC3339, fetched)
	return &e, nil
}

// ListCacheIndex returns every cached (instrument, aggregation) series.
func (s *Store) ListCacheIndex() ([]types.CacheIndexEntry, error) {
	rows, err := s.db.Query(`SELECT instrument, aggregation, start_date, end_date, record_count, file_path, content_hash, fetched_at
		FROM market_data_cache ORDER BY instrument, aggregation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CacheIndexEntry
	for rows.Next() {
		var e types.CacheIndexEntry
		var aggregation, start, end, fetched string
		if err := rows.Scan(&e.Instrument, &aggregation, &start, &end, &e.RecordCount, &e.FilePath, &e.ContentHash, &fetched); err != nil {
			return nil, err
		}
		e.Aggregation = types.BarAggregation(aggregation)
		e.StartDate, _ = time.Parse(time.RFC3339, start)
		e.EndDate, _ = time.Parse(time.RFC3339, end)
		e.FetchedAt, _ = time.Parse(time.RFC3339, fetched)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteCacheIndex removes one cached (instrument, aggregation) index row.
// The caller is responsible for removing the backing file, if desired.
func (s *Store) DeleteCacheIndex(instrument string, agg types.BarAggregation) error {
	_, err := s.db.Exec(`DELETE FROM market_data_cache WHERE instrument = ? AND aggregation = ?`, instrument, string(agg))
	return err
}

func formatTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatTimePtrOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTimeOrEmpty(*t)
}
