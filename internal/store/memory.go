package store

import (
	"context"
	"sync"
	"time"

	"github.com/coregate/gateway/internal/gwtypes"
)

// Memory is an in-process Store, used for local development and tests
// where a SQLite file isn't warranted. Safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	mappings    map[string]gwtypes.ModelMapping
	aliases     map[string]gwtypes.Alias
	fallbacks   map[string]gwtypes.FallbackRule
	preferences map[string]gwtypes.UserPreference
	costs       []gwtypes.CostRecord
	budgets     map[string]gwtypes.Budget // keyed by userID+"/"+projectID+"/"+id
	vaultSalt   []byte
	vaultData   map[string]string
	audit       []AuditEntry
	auditSeq    int64
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		mappings:    make(map[string]gwtypes.ModelMapping),
		aliases:     make(map[string]gwtypes.Alias),
		fallbacks:   make(map[string]gwtypes.FallbackRule),
		preferences: make(map[string]gwtypes.UserPreference),
		budgets:     make(map[string]gwtypes.Budget),
	}
}

func (m *Memory) ListModelMappings(ctx context.Context) ([]gwtypes.ModelMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gwtypes.ModelMapping, 0, len(m.mappings))
	for _, v := range m.mappings {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) SaveModelMapping(ctx context.Context, mm gwtypes.ModelMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[mm.LogicalModelID] = mm
	return nil
}

func (m *Memory) DeleteModelMapping(ctx context.Context, logicalModelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, logicalModelID)
	return nil
}

func (m *Memory) ListAliases(ctx context.Context) ([]gwtypes.Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gwtypes.Alias, 0, len(m.aliases))
	for _, v := range m.aliases {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) SaveAlias(ctx context.Context, a gwtypes.Alias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[a.From] = a
	return nil
}

func (m *Memory) DeleteAlias(ctx context.Context, from string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.aliases, from)
	return nil
}

func (m *Memory) ListFallbackRules(ctx context.Context) ([]gwtypes.FallbackRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gwtypes.FallbackRule, 0, len(m.fallbacks))
	for _, v := range m.fallbacks {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) SaveFallbackRule(ctx context.Context, r gwtypes.FallbackRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[r.ModelID] = r
	return nil
}

func (m *Memory) ListUserPreferences(ctx context.Context) ([]gwtypes.UserPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gwtypes.UserPreference, 0, len(m.preferences))
	for _, v := range m.preferences {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) SaveUserPreference(ctx context.Context, p gwtypes.UserPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[p.UserID] = p
	return nil
}

func (m *Memory) LogCost(ctx context.Context, rec gwtypes.CostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = append(m.costs, rec)
	return nil
}

func (m *Memory) ListCostRecords(ctx context.Context, userID, projectID string, since time.Time) ([]gwtypes.CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []gwtypes.CostRecord
	for _, r := range m.costs {
		if r.UserID == userID && r.ProjectID == projectID && r.TimestampUnix >= since.Unix() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) PruneOldCostRecords(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-retention).Unix()
	kept := m.costs[:0]
	var pruned int64
	for _, r := range m.costs {
		if r.TimestampUnix < cutoff {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	m.costs = kept
	return pruned, nil
}

func (m *Memory) ListBudgets(ctx context.Context, userID, projectID string) ([]gwtypes.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []gwtypes.Budget
	for _, b := range m.budgets {
		if b.UserID == userID && b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) SaveBudget(ctx context.Context, b gwtypes.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[b.UserID+"/"+b.ProjectID+"/"+b.ID] = b
	return nil
}

func (m *Memory) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vaultSalt = append([]byte(nil), salt...)
	clone := make(map[string]string, len(data))
	for k, v := range data {
		clone[k] = v
	}
	m.vaultData = clone
	return nil
}

func (m *Memory) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vaultData == nil {
		return nil, nil, nil
	}
	clone := make(map[string]string, len(m.vaultData))
	for k, v := range m.vaultData {
		clone[k] = v
	}
	return append([]byte(nil), m.vaultSalt...), clone, nil
}

func (m *Memory) LogAudit(ctx context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditSeq++
	entry.ID = m.auditSeq
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) ListAuditLogs(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	// Most recent first, matching SQLiteStore's ORDER BY timestamp DESC.
	out := make([]AuditEntry, 0, len(m.audit))
	for i := len(m.audit) - 1; i >= 0; i-- {
		out = append(out, m.audit[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
