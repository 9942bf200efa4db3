// Package cost tracks the daily ResourceAccount ledger (§3) and extracts
// token usage from LLM responses.
package cost

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/antigravity-dev/ain/internal/store"
)

// TokenUsage represents input and output token counts for one LLM call.
type TokenUsage struct {
	Input  int
	Output int
}

var (
	tokenRe  = regexp.MustCompile(`Tokens: (\d+) input, (\d+) output`)
	inputRe  = regexp.MustCompile(`Input tokens: (\d+)`)
	outputRe = regexp.MustCompile(`Output tokens: (\d+)`)
)

// ExtractTokenUsage parses token counts reported in free-form agent output,
// falling back to a length-based estimate when a provider doesn't report
// usage fields explicitly.
func ExtractTokenUsage(output string, prompt string) TokenUsage {
	usage := TokenUsage{}

	if m := tokenRe.FindStringSubmatch(output); len(m) == 3 {
		usage.Input, _ = strconv.Atoi(m[1])
		usage.Output, _ = strconv.Atoi(m[2])
	} else {
		if m := inputRe.FindStringSubmatch(output); len(m) == 2 {
			usage.Input, _ = strconv.Atoi(m[1])
		}
		if m := outputRe.FindStringSubmatch(output); len(m) == 2 {
			usage.Output, _ = strconv.Atoi(m[1])
		}
	}

	if usage.Input == 0 {
		usage.Input = estimateTokens(prompt)
	}
	if usage.Output == 0 {
		usage.Output = estimateTokens(output)
	}
	return usage
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// CalculateCost converts token counts into a USD estimate given per-million-token pricing.
func CalculateCost(usage TokenUsage, inputPriceMtok, outputPriceMtok float64) float64 {
	inputCost := (float64(usage.Input) / 1_000_000.0) * inputPriceMtok
	outputCost := (float64(usage.Output) / 1_000_000.0) * outputPriceMtok
	return inputCost + outputCost
}

// Ledger is the in-memory ResourceAccount with day-rollover persistence.
// Invariant (§3): on local-day boundary the account is persisted to the
// store's ring of daily records and reset, without losing in-flight events
// (§5 "day-rollover check persists the closing tally ... without losing
// in-flight events" — achieved here by rolling over before recording the
// new call, never after).
type Ledger struct {
	mu sync.Mutex

	st       *store.Store
	dayStart time.Time

	inputTokens  int
	outputTokens int
	estimatedCost float64
	callCount    int
}

// NewLedger constructs a Ledger backed by st, starting at the current local day.
func NewLedger(st *store.Store) *Ledger {
	return &Ledger{st: st, dayStart: localMidnight(time.Now())}
}

func localMidnight(t time.Time) time.Time {
	t = t.Local()
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Record adds usage + cost to the running tally, rolling the day over first
// if the wall clock has crossed local midnight since the last call.
func (l *Ledger) Record(usage TokenUsage, costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := localMidnight(time.Now())
	if now.After(l.dayStart) {
		if err := l.flushLocked(); err != nil {
			return err
		}
		l.dayStart = now
		l.inputTokens, l.outputTokens, l.estimatedCost, l.callCount = 0, 0, 0, 0
	}

	l.inputTokens += usage.Input
	l.outputTokens += usage.Output
	l.estimatedCost += costUSD
	l.callCount++

	return l.flushLocked()
}

// flushLocked persists the current tally under the current dayStart, then
// prunes the ledger table down to the 30 most recent daily rows (§3 "retain
// <=30 daily resource-ledger rows"). Called with mu held.
func (l *Ledger) flushLocked() error {
	if l.st == nil {
		return nil
	}
	if err := l.st.UpsertResourceLedgerRow(store.ResourceLedgerRow{
		DayStart:      l.dayStart,
		InputTokens:   l.inputTokens,
		OutputTokens:  l.outputTokens,
		EstimatedCost: l.estimatedCost,
		CallCount:     l.callCount,
	}); err != nil {
		return err
	}
	return l.st.PruneResourceLedger(maxLedgerRows)
}

// maxLedgerRows is the ring-buffer size for the daily resource ledger (§3).
const maxLedgerRows = 30

// Snapshot returns the current day's running totals.
func (l *Ledger) Snapshot() (input, output int, costUSD float64, calls int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inputTokens, l.outputTokens, l.estimatedCost, l.callCount
}

// ExceedsDailyCap reports whether the current tally has crossed either cap
// (a zero cap means "no cap").
func (l *Ledger) ExceedsDailyCap(tokenCap int, costCapUSD float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tokenCap > 0 && (l.inputTokens+l.outputTokens) >= tokenCap {
		return true
	}
	if costCapUSD > 0 && l.estimatedCost >= costCapUSD {
		return true
	}
	return false
}
