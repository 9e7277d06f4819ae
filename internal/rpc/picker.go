package rpc

import (
	"errors"
	"sync"
	"time"
)

// ErrNoHealthyRPC is returned when no healthy RPC endpoint is available.
var ErrNoHealthyRPC = errors.New("no healthy RPC endpoint available")

// Algorithm defines how an RPC endpoint is selected.
type Algorithm string

const (
	AlgorithmFastest    Algorithm = "fastest"
	AlgorithmRoundRobin Algorithm = "round-robin"
	AlgorithmFailover   Algorithm = "failover"

	// Nodes more than this many blocks behind the best are discarded.
	staleBlockThreshold = 3
	// Fastest winner is reused for this long before re-benchmarking.
	cacheTTL = 5 * time.Minute
)

// Endpoint is one RPC URL with its measured attributes.
type Endpoint struct {
	URL         string
	Latency     time.Duration
	BlockNumber uint64
	Healthy     bool
}

// Picker selects an RPC endpoint according to the configured algorithm.
type Picker struct {
	algo        Algorithm
	mu          sync.Mutex
	rrIndex     int
	cachedURL   string
	cacheExpiry time.Time
	now         func() time.Time
}

// NewPicker creates a new Picker. Unknown algorithms behave as "fastest".
func NewPicker(algo Algorithm) *Picker {
	return &Picker{algo: algo, now: time.Now}
}

// Pick selects an endpoint from endpoints.
func (p *Picker) Pick(endpoints []Endpoint) (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := fresh(endpoints)
	if len(healthy) == 0 {
		return nil, ErrNoHealthyRPC
	}

	switch p.algo {
	case AlgorithmRoundRobin:
		idx := p.rrIndex % len(healthy)
		p.rrIndex = idx + 1
		return healthy[idx], nil
	case AlgorithmFailover:
		return healthy[0], nil
	default:
		return p.fastest(healthy), nil
	}
}

func (p *Picker) fastest(healthy []*Endpoint) *Endpoint {
	if p.cachedURL != "" && p.now().Before(p.cacheExpiry) {
		for _, e := range healthy {
			if e.URL == p.cachedURL {
				return e
			}
		}
	}
	winner := healthy[0]
	for _, e := range healthy[1:] {
		if e.Latency < winner.Latency {
			winner = e
		}
	}
	p.cachedURL = winner.URL
	p.cacheExpiry = p.now().Add(cacheTTL)
	return winner
}

// fresh keeps healthy endpoints that are within staleBlockThreshold of the
// highest block seen, preserving input order.
func fresh(endpoints []Endpoint) []*Endpoint {
	var best uint64
	for _, e := range endpoints {
		if e.Healthy && e.BlockNumber > best {
			best = e.BlockNumber
		}
	}
	var out []*Endpoint
	for i := range endpoints {
		e := &endpoints[i]
		if !e.Healthy || best-e.BlockNumber > staleBlockThreshold {
			continue
		}
		out = append(out, e)
	}
	return out
}
