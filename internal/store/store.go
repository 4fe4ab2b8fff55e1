// Package store defines the durable repository contract (§4.12): the
// relational persistence schema narrowed to exactly what the gateway's
// hot-reloadable routing config, cost ledger, and audit trail need.
// Grounded on eugener-gandalf's internal/storage interfaces (RouteStore
// and friends, backed by modernc.org/sqlite), generalized from its
// provider/model/API-key schema to the gwtypes
// ModelMapping/Alias/FallbackRule/Budget/CostRecord schema.
package store

import (
	"context"
	"time"

	"github.com/coregate/gateway/internal/gwtypes"
)

// Store is the persistence interface backing the gateway's hot-reloadable
// routing config, ledger, vault, and admin audit trail. It is satisfied by
// an in-memory implementation (Memory) and a durable modernc.org/sqlite
// implementation (SQLiteStore). It also satisfies internal/ledger.Store.
type Store interface {
	// Routing configuration rows. The router's Catalog is built from the
	// JSON config file (internal/config); nothing loads it from these rows.
	ListModelMappings(ctx context.Context) ([]gwtypes.ModelMapping, error)
	SaveModelMapping(ctx context.Context, m gwtypes.ModelMapping) error
	DeleteModelMapping(ctx context.Context, logicalModelID string) error

	ListAliases(ctx context.Context) ([]gwtypes.Alias, error)
	SaveAlias(ctx context.Context, a gwtypes.Alias) error
	DeleteAlias(ctx context.Context, from string) error

	ListFallbackRules(ctx context.Context) ([]gwtypes.FallbackRule, error)
	SaveFallbackRule(ctx context.Context, r gwtypes.FallbackRule) error

	ListUserPreferences(ctx context.Context) ([]gwtypes.UserPreference, error)
	SaveUserPreference(ctx context.Context, p gwtypes.UserPreference) error

	// Cost ledger (C9). LogCost/ListBudgets/SaveBudget also satisfy
	// internal/ledger.Store, so a Store can be handed directly to
	// ledger.New as its backing store.
	LogCost(ctx context.Context, rec gwtypes.CostRecord) error
	ListCostRecords(ctx context.Context, userID, projectID string, since time.Time) ([]gwtypes.CostRecord, error)
	PruneOldCostRecords(ctx context.Context, retention time.Duration) (int64, error)

	ListBudgets(ctx context.Context, userID, projectID string) ([]gwtypes.Budget, error)
	SaveBudget(ctx context.Context, b gwtypes.Budget) error

	// Vault persistence (§4.13): the encrypted blob is opaque to the store.
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)

	// Admin audit trail: who changed what mapping/budget/rule, when.
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit, offset int) ([]AuditEntry, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// AuditEntry captures an admin mutation for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`              // e.g. "mapping.upsert", "budget.save", "vault.unlock"
	Resource  string    `json:"resource"`             // e.g. a LogicalModelID or UserID
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}
