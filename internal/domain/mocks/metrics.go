package mocks

import (
	"sync"
	"time"
)

// Metrics is a mock implementation of ports.Metrics that counts calls.
type Metrics struct {
	mu           sync.Mutex
	Drafts       map[string]int
	Transactions map[string]int
	Reviews      map[string]int
}

// NewMetrics creates a new mock Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Drafts:       make(map[string]int),
		Transactions: make(map[string]int),
		Reviews:      make(map[string]int),
	}
}

// DraftWritten counts a draft by action.
func (m *Metrics) DraftWritten(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Drafts[action]++
}

// TransactionClosed counts a closed transaction scope by outcome.
func (m *Metrics) TransactionClosed(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transactions[outcome]++
}

// ReviewFinished counts a review by outcome.
func (m *Metrics) ReviewFinished(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reviews[outcome]++
}

// Snapshot returns copies of the counters.
func (m *Metrics) Snapshot() (drafts, transactions, reviews map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := func(src map[string]int) map[string]int {
		dst := make(map[string]int, len(src))
		for k, v := range src {
			dst[k] = v
		}
		return dst
	}
	return clone(m.Drafts), clone(m.Transactions), clone(m.Reviews)
}
