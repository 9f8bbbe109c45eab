package relay

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultUserAgents are browser identities presented to upstream hosts.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// AgentPool hands out a random browser User-Agent per request.
type AgentPool struct {
	mu     sync.Mutex
	agents []string
	rnd    *rand.Rand
}

// NewAgentPool uses agents, or DefaultUserAgents when agents is empty.
func NewAgentPool(agents []string) *AgentPool {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &AgentPool{
		agents: append([]string(nil), agents...),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pick returns one of the pool's agents.
func (p *AgentPool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[p.rnd.Intn(len(p.agents))]
}
