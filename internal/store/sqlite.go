package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coregate/gateway/internal/gwtypes"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS model_mappings (
			logical_model_id TEXT PRIMARY KEY,
			provider_name TEXT NOT NULL,
			provider_model_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			context_window INTEGER NOT NULL DEFAULT 0,
			pricing TEXT NOT NULL DEFAULT '{}',
			capabilities TEXT NOT NULL DEFAULT '{}',
			routing_strategy TEXT NOT NULL DEFAULT '',
			avg_latency_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS aliases (
			from_id TEXT PRIMARY KEY,
			to_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fallback_rules (
			model_id TEXT PRIMARY KEY,
			fallback_models TEXT NOT NULL DEFAULT '[]',
			error_codes TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY,
			preferred_model TEXT NOT NULL DEFAULT '',
			routing_strategy TEXT NOT NULL DEFAULT '',
			disable_override BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cost_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			timestamp_unix INTEGER NOT NULL,
			provider TEXT NOT NULL,
			model_id TEXT NOT NULL,
			operation_type TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_records_user ON cost_records(user_id, project_id, timestamp_unix)`,
		`CREATE TABLE IF NOT EXISTS budgets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			amount_usd REAL NOT NULL DEFAULT 0,
			window_start_unix INTEGER NOT NULL DEFAULT 0,
			window_end_unix INTEGER NOT NULL DEFAULT 0,
			reset_period TEXT NOT NULL DEFAULT '',
			alert_threshold_pct REAL NOT NULL DEFAULT 0,
			enforce_budget BOOLEAN NOT NULL DEFAULT 0,
			spent_usd REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budgets_user ON budgets(user_id, project_id)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Model mappings

func (s *SQLiteStore) ListModelMappings(ctx context.Context) ([]gwtypes.ModelMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT logical_model_id, provider_name, provider_model_id, display_name, context_window, pricing, capabilities, routing_strategy, avg_latency_ms FROM model_mappings`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var mappings []gwtypes.ModelMapping
	for rows.Next() {
		var m gwtypes.ModelMapping
		var pricingJSON, capsJSON string
		if err := rows.Scan(&m.LogicalModelID, &m.ProviderName, &m.ProviderModelID, &m.DisplayName,
			&m.ContextWindow, &pricingJSON, &capsJSON, &m.RoutingStrategy, &m.AvgLatencyMs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pricingJSON), &m.Pricing); err != nil {
			return nil, fmt.Errorf("unmarshal pricing for %s: %w", m.LogicalModelID, err)
		}
		if err := json.Unmarshal([]byte(capsJSON), &m.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities for %s: %w", m.LogicalModelID, err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (s *SQLiteStore) SaveModelMapping(ctx context.Context, m gwtypes.ModelMapping) error {
	pricingJSON, err := json.Marshal(m.Pricing)
	if err != nil {
		return fmt.Errorf("marshal pricing: %w", err)
	}
	capsJSON, err := json.Marshal(m.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO model_mappings (logical_model_id, provider_name, provider_model_id, display_name, context_window, pricing, capabilities, routing_strategy, avg_latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(logical_model_id) DO UPDATE SET
		   provider_name=excluded.provider_name,
		   provider_model_id=excluded.provider_model_id,
		   display_name=excluded.display_name,
		   context_window=excluded.context_window,
		   pricing=excluded.pricing,
		   capabilities=excluded.capabilities,
		   routing_strategy=excluded.routing_strategy,
		   avg_latency_ms=excluded.avg_latency_ms`,
		m.LogicalModelID, m.ProviderName, m.ProviderModelID, m.DisplayName, m.ContextWindow,
		string(pricingJSON), string(capsJSON), m.RoutingStrategy, m.AvgLatencyMs)
	return err
}

func (s *SQLiteStore) DeleteModelMapping(ctx context.Context, logicalModelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM model_mappings WHERE logical_model_id = ?`, logicalModelID)
	return err
}

// Aliases

func (s *SQLiteStore) ListAliases(ctx context.Context) ([]gwtypes.Alias, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_id, to_id FROM aliases`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var aliases []gwtypes.Alias
	for rows.Next() {
		var a gwtypes.Alias
		if err := rows.Scan(&a.From, &a.To); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func (s *SQLiteStore) SaveAlias(ctx context.Context, a gwtypes.Alias) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (from_id, to_id) VALUES (?, ?)
		 ON CONFLICT(from_id) DO UPDATE SET to_id=excluded.to_id`,
		a.From, a.To)
	return err
}

func (s *SQLiteStore) DeleteAlias(ctx context.Context, from string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM aliases WHERE from_id = ?`, from)
	return err
}

// Fallback rules

func (s *SQLiteStore) ListFallbackRules(ctx context.Context) ([]gwtypes.FallbackRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_id, fallback_models, error_codes FROM fallback_rules`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []gwtypes.FallbackRule
	for rows.Next() {
		var r gwtypes.FallbackRule
		var fallbackJSON, errorsJSON string
		if err := rows.Scan(&r.ModelID, &fallbackJSON, &errorsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fallbackJSON), &r.FallbackModels); err != nil {
			return nil, fmt.Errorf("unmarshal fallback_models for %s: %w", r.ModelID, err)
		}
		if err := json.Unmarshal([]byte(errorsJSON), &r.ErrorCodes); err != nil {
			return nil, fmt.Errorf("unmarshal error_codes for %s: %w", r.ModelID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) SaveFallbackRule(ctx context.Context, r gwtypes.FallbackRule) error {
	fallbackJSON, err := json.Marshal(r.FallbackModels)
	if err != nil {
		return fmt.Errorf("marshal fallback_models: %w", err)
	}
	errorsJSON, err := json.Marshal(r.ErrorCodes)
	if err != nil {
		return fmt.Errorf("marshal error_codes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fallback_rules (model_id, fallback_models, error_codes) VALUES (?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET fallback_models=excluded.fallback_models, error_codes=excluded.error_codes`,
		r.ModelID, string(fallbackJSON), string(errorsJSON))
	return err
}

// User preferences

func (s *SQLiteStore) ListUserPreferences(ctx context.Context) ([]gwtypes.UserPreference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, preferred_model, routing_strategy, disable_override FROM user_preferences`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var prefs []gwtypes.UserPreference
	for rows.Next() {
		var p gwtypes.UserPreference
		if err := rows.Scan(&p.UserID, &p.PreferredModel, &p.RoutingStrategy, &p.DisableOverride); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

func (s *SQLiteStore) SaveUserPreference(ctx context.Context, p gwtypes.UserPreference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, preferred_model, routing_strategy, disable_override) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   preferred_model=excluded.preferred_model,
		   routing_strategy=excluded.routing_strategy,
		   disable_override=excluded.disable_override`,
		p.UserID, p.PreferredModel, p.RoutingStrategy, p.DisableOverride)
	return err
}

// Cost ledger

func (s *SQLiteStore) LogCost(ctx context.Context, rec gwtypes.CostRecord) error {
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cost_records (id, user_id, project_id, request_id, timestamp_unix, provider, model_id, operation_type, input_tokens, output_tokens, total_tokens, cost_usd, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.ProjectID, rec.RequestID, rec.TimestampUnix, rec.Provider, rec.ModelID,
		rec.OperationType, rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.CostUSD, string(tagsJSON))
	return err
}

func (s *SQLiteStore) ListCostRecords(ctx context.Context, userID, projectID string, since time.Time) ([]gwtypes.CostRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, project_id, request_id, timestamp_unix, provider, model_id, operation_type, input_tokens, output_tokens, total_tokens, cost_usd, tags
		 FROM cost_records WHERE user_id = ? AND project_id = ? AND timestamp_unix >= ? ORDER BY timestamp_unix DESC`,
		userID, projectID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []gwtypes.CostRecord
	for rows.Next() {
		var r gwtypes.CostRecord
		var tagsJSON string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ProjectID, &r.RequestID, &r.TimestampUnix, &r.Provider, &r.ModelID,
			&r.OperationType, &r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.CostUSD, &tagsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) PruneOldCostRecords(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM cost_records WHERE timestamp_unix < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Budgets

func (s *SQLiteStore) ListBudgets(ctx context.Context, userID, projectID string) ([]gwtypes.Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, project_id, amount_usd, window_start_unix, window_end_unix, reset_period, alert_threshold_pct, enforce_budget, spent_usd
		 FROM budgets WHERE user_id = ? AND project_id = ?`, userID, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var budgets []gwtypes.Budget
	for rows.Next() {
		var b gwtypes.Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.ProjectID, &b.AmountUSD, &b.Window.StartUnix, &b.Window.EndUnix,
			&b.Window.ResetPeriod, &b.AlertThresholdPct, &b.EnforceBudget, &b.SpentUSD); err != nil {
			return nil, err
		}
		b.WindowStartUnix = b.Window.StartUnix
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (s *SQLiteStore) SaveBudget(ctx context.Context, b gwtypes.Budget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, project_id, amount_usd, window_start_unix, window_end_unix, reset_period, alert_threshold_pct, enforce_budget, spent_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   amount_usd=excluded.amount_usd,
		   window_start_unix=excluded.window_start_unix,
		   window_end_unix=excluded.window_end_unix,
		   reset_period=excluded.reset_period,
		   alert_threshold_pct=excluded.alert_threshold_pct,
		   enforce_budget=excluded.enforce_budget,
		   spent_usd=excluded.spent_usd`,
		b.ID, b.UserID, b.ProjectID, b.AmountUSD, b.Window.StartUnix, b.Window.EndUnix,
		b.Window.ResetPeriod, b.AlertThresholdPct, b.EnforceBudget, b.SpentUSD)
	return err
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

// Audit logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
