package rpc

import (
	"context"
	"sync"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
)

// Benchmark pings every URL in parallel and returns one Endpoint per URL, in
// input order.
func Benchmark(ctx context.Context, urls []string) []Endpoint {
	out := make([]Endpoint, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			latency, block, err := chain.NewEVMClient(url).Ping(ctx)
			out[idx] = Endpoint{URL: url, Latency: latency, BlockNumber: block, Healthy: err == nil}
		}(i, u)
	}
	wg.Wait()
	return out
}

// SelectBest picks the best RPC URL from urls using the named algorithm.
// A single URL is returned without being benchmarked. An empty algorithm means
// "fastest".
func SelectBest(ctx context.Context, urls []string, algorithm string) (string, error) {
	switch len(urls) {
	case 0:
		return "", ErrNoHealthyRPC
	case 1:
		return urls[0], nil
	}
	algo := Algorithm(algorithm)
	if algo == "" {
		algo = AlgorithmFastest
	}
	winner, err := NewPicker(algo).Pick(Benchmark(ctx, urls))
	if err != nil {
		return "", err
	}
	return winner.URL, nil
}
