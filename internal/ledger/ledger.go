// Package ledger implements the cost/usage ledger (C9): append-only cost
// records, budget enforcement, and window reset bookkeeping, grounded on
// eugener-gandalf's internal/app/keymanager.go (cached per-key spend
// lookup, budget-exceeded as a typed condition), generalized from a single
// per-API-key monthly cap to a multi-window Budget model.
//
// Monetary arithmetic is fixed-point decimal with 12 fractional digits,
// using math/big.Rat: no example repo in this pack imports a third-party
// decimal library, so this is the one ambient concern built on the
// standard library (see DESIGN.md).
package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/coregate/gateway/internal/gwtypes"
)

const fractionalDigits = 12

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(fractionalDigits), nil)

// Store is the subset of the durable repository (§4.12) the ledger writes
// through and reads budgets from.
type Store interface {
	LogCost(ctx context.Context, rec gwtypes.CostRecord) error
	ListBudgets(ctx context.Context, userID, projectID string) ([]gwtypes.Budget, error)
	SaveBudget(ctx context.Context, b gwtypes.Budget) error
}

// MetricsSink receives per-record usage/cost observations for export.
type MetricsSink interface {
	ObserveCost(provider, modelID, operationType string, costUSD float64)
	ObserveTokens(provider, modelID string, promptTokens, completionTokens int)
}

// Ledger tracks usage/cost records and enforces budgets.
type Ledger struct {
	store   Store
	metrics MetricsSink
	nowFunc func() time.Time

	mu         sync.Mutex // guards best-effort budget spend bookkeeping
	idSeq      uint64
	idSeqMu    sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithMetricsSink(m MetricsSink) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithNowFunc(f func() time.Time) Option {
	return func(l *Ledger) { l.nowFunc = f }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, nowFunc: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) nextID(prefix string) string {
	l.idSeqMu.Lock()
	l.idSeq++
	id := l.idSeq
	l.idSeqMu.Unlock()
	return prefix + "-" + time.Now().UTC().Format("20060102T150405") + "-" + itoa(id)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// costRat computes tokens * pricePerToken as an exact big.Rat.
func costRat(tokens int, pricePerToken float64) *big.Rat {
	price := new(big.Rat).SetFloat64(pricePerToken)
	if price == nil {
		price = new(big.Rat)
	}
	return new(big.Rat).Mul(price, new(big.Rat).SetInt64(int64(tokens)))
}

// roundBankers rounds r to fractionalDigits using round-half-to-even, and
// returns the float64 USD amount — the only point this ledger leaves exact
// rational arithmetic, per §4.9's "banker's rounding on final USD emission".
func roundBankers(r *big.Rat) float64 {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scale))
	num := scaled.Num()
	den := scaled.Denom()
	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	twiceRem := new(big.Int).Mul(rem, big.NewInt(2))
	cmp := twiceRem.CmpAbs(den)
	if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
		if num.Sign() >= 0 {
			q.Add(q, big.NewInt(1))
		} else {
			q.Sub(q, big.NewInt(1))
		}
	}
	result := new(big.Rat).SetFrac(q, scale)
	f, _ := result.Float64()
	return f
}

// TrackCompletion computes cost from resp.usage × mapping pricing, writes a
// CostRecord, and increments matching budgets' in-window spend.
func (l *Ledger) TrackCompletion(ctx context.Context, mapping gwtypes.ModelMapping, resp gwtypes.Response, userID, requestID, projectID string, tags []string) (gwtypes.CostRecord, error) {
	cost := costRat(resp.Usage.PromptTokens, mapping.Pricing.InputPerToken)
	cost.Add(cost, costRat(resp.Usage.CompletionTokens, mapping.Pricing.OutputPerToken))
	return l.record(ctx, mapping, "completion", resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost, userID, requestID, projectID, tags)
}

// TrackEmbedding is TrackCompletion's analogue for embedding calls (no
// completion tokens, only input pricing applies).
func (l *Ledger) TrackEmbedding(ctx context.Context, mapping gwtypes.ModelMapping, resp gwtypes.EmbeddingResponse, userID, requestID, projectID string, tags []string) (gwtypes.CostRecord, error) {
	cost := costRat(resp.Usage.PromptTokens, mapping.Pricing.InputPerToken)
	return l.record(ctx, mapping, "embedding", resp.Usage.PromptTokens, 0, cost, userID, requestID, projectID, tags)
}

// TrackFineTune uses the fine-tune rate and a caller-supplied training
// token amount.
func (l *Ledger) TrackFineTune(ctx context.Context, mapping gwtypes.ModelMapping, trainingTokens int, userID, requestID, projectID string, tags []string) (gwtypes.CostRecord, error) {
	cost := costRat(trainingTokens, mapping.Pricing.FineTunePerToken)
	return l.record(ctx, mapping, "fine_tune", trainingTokens, 0, cost, userID, requestID, projectID, tags)
}

// TrackPartial records usage observed up to a mid-stream cancellation, per
// §4.10's "operationType=completion_partial" rule.
func (l *Ledger) TrackPartial(ctx context.Context, mapping gwtypes.ModelMapping, promptTokens, completionTokens int, userID, requestID, projectID string, tags []string) (gwtypes.CostRecord, error) {
	cost := costRat(promptTokens, mapping.Pricing.InputPerToken)
	cost.Add(cost, costRat(completionTokens, mapping.Pricing.OutputPerToken))
	return l.record(ctx, mapping, "completion_partial", promptTokens, completionTokens, cost, userID, requestID, projectID, tags)
}

func (l *Ledger) record(ctx context.Context, mapping gwtypes.ModelMapping, opType string, inputTokens, outputTokens int, cost *big.Rat, userID, requestID, projectID string, tags []string) (gwtypes.CostRecord, error) {
	costUSD := roundBankers(cost)
	rec := gwtypes.CostRecord{
		ID:            l.nextID("cr"),
		UserID:        userID,
		ProjectID:     projectID,
		RequestID:     requestID,
		TimestampUnix: l.nowFunc().Unix(),
		Provider:      mapping.ProviderName,
		ModelID:       mapping.LogicalModelID,
		OperationType: opType,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		TotalTokens:   inputTokens + outputTokens,
		CostUSD:       costUSD,
		Tags:          tags,
	}
	// §5: cost records are written after the response is returned; callers
	// do not block on the write. The caller decides whether to do this in
	// a goroutine; the ledger itself just performs one write per call.
	if err := l.store.LogCost(ctx, rec); err != nil {
		return rec, err
	}
	l.accrueSpend(ctx, userID, projectID, costUSD)
	if l.metrics != nil {
		l.metrics.ObserveCost(mapping.ProviderName, mapping.LogicalModelID, opType, costUSD)
		l.metrics.ObserveTokens(mapping.ProviderName, mapping.LogicalModelID, inputTokens, outputTokens)
	}
	return rec, nil
}

func (l *Ledger) accrueSpend(ctx context.Context, userID, projectID string, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	budgets, err := l.store.ListBudgets(ctx, userID, projectID)
	if err != nil {
		return
	}
	now := l.nowFunc()
	for _, b := range budgets {
		b = resetIfDue(b, now)
		b.SpentUSD += costUSD
		_ = l.store.SaveBudget(ctx, b)
	}
}

// resetIfDue applies a missed window reset lazily, deterministically from
// clock time, per §4.9. Reset is idempotent: calling it again before the
// next boundary is a no-op.
func resetIfDue(b gwtypes.Budget, now time.Time) gwtypes.Budget {
	if b.Window.ResetPeriod == gwtypes.ResetNone {
		return b
	}
	start := time.Unix(b.WindowStartUnix, 0).UTC()
	if b.WindowStartUnix == 0 {
		b.WindowStartUnix = now.Unix()
		return b
	}
	var boundary time.Time
	switch b.Window.ResetPeriod {
	case gwtypes.ResetDaily:
		boundary = start.AddDate(0, 0, 1)
	case gwtypes.ResetWeekly:
		boundary = start.AddDate(0, 0, 7)
	case gwtypes.ResetMonthly:
		boundary = start.AddDate(0, 1, 0)
	default:
		return b
	}
	if now.Before(boundary) {
		return b
	}
	b.SpentUSD = 0
	b.WindowStartUnix = now.Unix()
	return b
}

// IsWithinBudget checks each budget applicable to (userID, projectID) on
// its own: it adds estimatedCostUSD to that budget's current in-window spend
// and returns whether every applicable enforced budget stays <= its amount.
// A budget with EnforceBudget=false never causes a false return (it only
// signals an alert upstream via the bool it returns alongside).
func (l *Ledger) IsWithinBudget(ctx context.Context, userID, projectID string, estimatedCostUSD float64) (ok bool, alert bool, err error) {
	budgets, err := l.store.ListBudgets(ctx, userID, projectID)
	if err != nil {
		return false, false, err
	}
	now := l.nowFunc()
	ok = true
	for _, b := range budgets {
		b = resetIfDue(b, now)
		projected := b.SpentUSD + estimatedCostUSD
		if b.AlertThresholdPct > 0 && b.AmountUSD > 0 && projected/b.AmountUSD >= b.AlertThresholdPct {
			alert = true
		}
		if projected > b.AmountUSD {
			if b.EnforceBudget {
				ok = false
			} else {
				alert = true
			}
		}
	}
	return ok, alert, nil
}
