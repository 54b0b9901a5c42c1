// Package mock provides a configurable test double for [summary.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/arthurnavah/echoline/pkg/provider/summary"
)

// Compile-time interface check.
var _ summary.Provider = (*Provider)(nil)

// Provider is a test double for [summary.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is returned by Summarize when Err is nil.
	Result string

	// Err is returned by Summarize when non-nil.
	Err error

	// calls counts Summarize invocations; LastText records the latest input.
	calls    int
	LastText string
}

// Calls returns how many times Summarize was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Summarize implements [summary.Provider].
func (p *Provider) Summarize(_ context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.LastText = text
	if p.Err != nil {
		return "", p.Err
	}
	return p.Result, nil
}
