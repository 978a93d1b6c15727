package advisor

import "sync"

// Budget is the per-run allowance for diagnosis calls. A zero limit means
// that dimension is unbounded.
type Budget struct {
	mu            sync.Mutex
	maxTokens     int
	maxCostUSD    float64
	costPerMToken float64
	usedTokens    int
}

func NewBudget(maxTokens int, maxCostUSD, costPerMToken float64) *Budget {
	return &Budget{maxTokens: maxTokens, maxCostUSD: maxCostUSD, costPerMToken: costPerMToken}
}

// Reserve reports whether a call expected to use tokens fits in what is left.
func (b *Budget) Reserve(tokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxTokens > 0 && b.usedTokens+tokens > b.maxTokens {
		return false
	}
	if b.maxCostUSD > 0 && b.costLocked(b.usedTokens+tokens) > b.maxCostUSD {
		return false
	}
	return true
}

// Charge records tokens actually consumed.
func (b *Budget) Charge(tokens int) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.usedTokens += tokens
	b.mu.Unlock()
}

// Used returns the tokens spent and their estimated cost.
func (b *Budget) Used() (int, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usedTokens, b.costLocked(b.usedTokens)
}

func (b *Budget) costLocked(tokens int) float64 {
	return float64(tokens) * b.costPerMToken / 1e6
}
