// Package costtracker accumulates per-call token cost across an analysis
// run, enforces budgets, and watches for runaway cost escalation.
package costtracker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// pricePerK holds USD cost per 1,000 tokens for one model.
type pricePerK struct {
	input  float64
	output float64
}

// pricingTable is a compile-time table keyed by model id. Prices pinned
// 2026-01 against each provider's published rate card; rebuilding the
// binary is the upgrade channel (per the tracker's pricing contract).
var pricingTable = map[string]pricePerK{
	"claude-opus-4-6": {input: 0.005, output: 0.025},
	"gpt-5.2":         {input: 0.010, output: 0.030},
	"glm-5":           {input: 0.0005, output: 0.002},
	"kimi-k2.5":       {input: 0.0006, output: 0.003},
	"minimax-m2.5":    {input: 0.00015, output: 0.0012},
}

// defaultPrice is used for any model id not present in pricingTable, so an
// unrecognized or newly added model never estimates as free.
var defaultPrice = pricePerK{input: 0.005, output: 0.015}

func priceFor(model string) pricePerK {
	if p, ok := pricingTable[model]; ok {
		return p
	}
	return defaultPrice
}

// Call is a single per-call cost record.
type Call struct {
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	File         string    `json:"file"`
	Timestamp    time.Time `json:"timestamp"`
}

// Tracker accumulates cost across calls. Safe for concurrent use, mirroring
// the engine's other shared-resource trackers.
type Tracker struct {
	mu          sync.Mutex
	calls       []Call
	totalCost   float64
	byFile      map[string]float64
	byModel     map[string]float64
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		byFile:  make(map[string]float64),
		byModel: make(map[string]float64),
	}
}

// Estimate is a pure computation of USD cost for a hypothetical call,
// using the static pricing table. It does not mutate the tracker.
func Estimate(model string, inputTokens, expectedOutputTokens int) float64 {
	p := priceFor(model)
	return float64(inputTokens)/1000*p.input + float64(expectedOutputTokens)/1000*p.output
}

// Record appends a call record, updates the running aggregates, and
// returns the cost it recorded. Record never rejects — enforcement against
// a budget is the engine's responsibility, per the tracker's contract.
func (t *Tracker) Record(model string, inputTokens, outputTokens int, file string) float64 {
	cost := Estimate(model, inputTokens, outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, Call{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		File:         file,
		Timestamp:    time.Now().UTC(),
	})
	t.totalCost += cost
	t.byFile[file] += cost
	t.byModel[model] += cost
	return cost
}

// TotalCost returns the accumulated cost across every recorded call.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// Remaining returns budget - total_cost, or the large finite stand-in inf
// (1e18) when budget <= 0 (no budget set).
func (t *Tracker) Remaining(budget float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if budget <= 0 {
		return inf
	}
	return budget - t.totalCost
}

const inf = 1e18 // practical stand-in for +Inf that still round-trips through JSON

// BudgetCheck is the result of CheckBudget.
type BudgetCheck struct {
	OK    bool
	Delta float64 // amount by which planned_cost would exceed the budget, when !OK
}

// CheckBudget reports whether spending plannedCost in addition to cost
// already recorded would exceed budget. A budget <= 0 means unbounded.
func (t *Tracker) CheckBudget(plannedCost, budget float64) BudgetCheck {
	t.mu.Lock()
	defer t.mu.Unlock()
	if budget <= 0 {
		return BudgetCheck{OK: true}
	}
	projected := t.totalCost + plannedCost
	if projected <= budget {
		return BudgetCheck{OK: true}
	}
	return BudgetCheck{OK: false, Delta: projected - budget}
}

// EscalationWarning carries the ratio of recent to prior call-cost means
// that triggered detect_escalation.
type EscalationWarning struct {
	Ratio        float64
	RecentMean   float64
	PriorMean    float64
}

// DetectEscalation compares the mean cost of the last `window` calls
// against the mean of the `window` calls before that. If the recent mean
// exceeds k times the prior mean (default k=2.5), it returns a warning.
// Returns nil if there is not yet a full prior window to compare against.
func (t *Tracker) DetectEscalation(window int, k float64) *EscalationWarning {
	if window <= 0 {
		window = 5
	}
	if k <= 0 {
		k = 2.5
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.calls) < window*2 {
		return nil
	}

	n := len(t.calls)
	recent := t.calls[n-window:]
	prior := t.calls[n-2*window : n-window]

	recentMean := meanCost(recent)
	priorMean := meanCost(prior)

	if priorMean <= 0 {
		return nil
	}
	ratio := recentMean / priorMean
	if ratio <= k {
		return nil
	}
	return &EscalationWarning{Ratio: ratio, RecentMean: recentMean, PriorMean: priorMean}
}

func meanCost(calls []Call) float64 {
	if len(calls) == 0 {
		return 0
	}
	var sum float64
	for _, c := range calls {
		sum += c.CostUSD
	}
	return sum / float64(len(calls))
}

// snapshot is the JSON-serializable form of a Tracker, used by
// to_dict/from_dict for checkpoint persistence.
type snapshot struct {
	Calls     []Call             `json:"calls"`
	TotalCost float64            `json:"total_cost"`
	ByFile    map[string]float64 `json:"by_file"`
	ByModel   map[string]float64 `json:"by_model"`
}

// ToDict serializes the tracker's full state for checkpoint persistence.
func (t *Tracker) ToDict() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	calls := make([]Call, len(t.calls))
	copy(calls, t.calls)
	byFile := make(map[string]float64, len(t.byFile))
	for k, v := range t.byFile {
		byFile[k] = v
	}
	byModel := make(map[string]float64, len(t.byModel))
	for k, v := range t.byModel {
		byModel[k] = v
	}

	return map[string]any{
		"calls":      calls,
		"total_cost": t.totalCost,
		"by_file":    byFile,
		"by_model":   byModel,
	}
}

// FromDict restores a Tracker from a value produced by ToDict (after a
// JSON round trip, so map[string]any / []any shapes are also accepted).
func FromDict(d map[string]any) (*Tracker, error) {
	raw, err := reencode(d)
	if err != nil {
		return nil, fmt.Errorf("costtracker: from_dict: %w", err)
	}

	t := New()
	t.calls = raw.Calls
	t.totalCost = raw.TotalCost
	if raw.ByFile != nil {
		t.byFile = raw.ByFile
	}
	if raw.ByModel != nil {
		t.byModel = raw.ByModel
	}
	return t, nil
}

// reencode round-trips an arbitrary map through JSON into the typed
// snapshot shape. This tolerates both a snapshot produced in-process by
// ToDict and one decoded generically from a checkpoint file on disk.
func reencode(d map[string]any) (*snapshot, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var s snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
