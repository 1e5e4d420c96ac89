package usecase

import (
	"fmt"
	"maps"
	"sync"
)

// Policy enforces per-tool invocation ceilings for a single agent run.
// Tools without a configured limit are never rejected.
type Policy struct {
	mu     sync.Mutex
	limits map[string]int
	counts map[string]int
}

// NewPolicy creates a run-scoped policy. limits is copied.
func NewPolicy(limits map[string]int) *Policy {
	return &Policy{
		limits: maps.Clone(limits),
		counts: make(map[string]int),
	}
}

// CheckAndIncrement reports whether tool may run once more and, if so,
// counts the invocation. A rejected call leaves the counter unchanged.
func (p *Policy) CheckAndIncrement(tool string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limit, ok := p.limits[tool]; ok && p.counts[tool] >= limit {
		return false
	}
	p.counts[tool]++
	return true
}

// Count returns how many calls of tool were allowed so far.
func (p *Policy) Count(tool string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[tool]
}

// Limit returns the ceiling for tool and whether one is configured.
func (p *Policy) Limit(tool string) (int, bool) {
	limit, ok := p.limits[tool]
	return limit, ok
}

// RejectionReason is the text shown to the model for a refused call.
func (p *Policy) RejectionReason(tool string) string {
	limit, _ := p.Limit(tool)
	return fmt.Sprintf("policy limit reached: %s may be called at most %d time(s) per question; answer with the information already gathered", tool, limit)
}
