package browser

import (
	"math/rand/v2"
	"sync"
)

// DefaultUserAgents is the identity pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// IdentityPool hands out a random user agent per session.
type IdentityPool struct {
	agents []string
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewIdentityPool builds a pool. An empty list falls back to DefaultUserAgents;
// a nil src uses a randomly seeded generator.
func NewIdentityPool(agents []string, src rand.Source) *IdentityPool {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &IdentityPool{
		agents: append([]string(nil), agents...),
		rng:    rand.New(src),
	}
}

// Pick returns a uniformly chosen user agent.
func (p *IdentityPool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[p.rng.IntN(len(p.agents))]
}

// Size returns the number of identities in the pool.
func (p *IdentityPool) Size() int {
	return len(p.agents)
}
