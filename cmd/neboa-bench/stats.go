package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// phaseStats collects latencies and errors of one bench phase from many
// workers.
type phaseStats struct {
	name      string
	mu        sync.Mutex
	latencies []time.Duration
	errors    []error
	started   time.Time
	elapsed   time.Duration
}

func newPhaseStats(name string) *phaseStats {
	return &phaseStats{name: name, started: time.Now()}
}

func (p *phaseStats) record(d time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latencies = append(p.latencies, d)
	if err != nil {
		p.errors = append(p.errors, err)
	}
}

func (p *phaseStats) finish() {
	p.elapsed = time.Since(p.started)
}

// percentile returns the q-th latency, 0 <= q <= 1, of a sorted slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * q)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

type summary struct {
	Ops        int
	Errors     int
	Throughput float64
	Avg        time.Duration
	P50        time.Duration
	P99        time.Duration
}

func (p *phaseStats) summary() summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := summary{Ops: len(p.latencies), Errors: len(p.errors)}
	if s.Ops == 0 {
		return s
	}
	sorted := make([]time.Duration, len(p.latencies))
	copy(sorted, p.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	s.Avg = total / time.Duration(s.Ops)
	s.P50 = percentile(sorted, 0.50)
	s.P99 = percentile(sorted, 0.99)
	if p.elapsed > 0 {
		s.Throughput = float64(s.Ops) / p.elapsed.Seconds()
	}
	return s
}

func (p *phaseStats) report(w io.Writer) {
	s := p.summary()
	fmt.Fprintf(w, "\n%s:\n", p.name)
	fmt.Fprintf(w, "   Duration:    %v\n", p.elapsed)
	fmt.Fprintf(w, "   Ops:         %d\n", s.Ops)
	fmt.Fprintf(w, "   Throughput:  %.2f ops/sec\n", s.Throughput)
	fmt.Fprintf(w, "   Avg Latency: %v\n", s.Avg)
	fmt.Fprintf(w, "   P50 Latency: %v\n", s.P50)
	fmt.Fprintf(w, "   P99 Latency: %v\n", s.P99)
	if s.Ops > 0 {
		fmt.Fprintf(w, "   Errors:      %d (%.2f%%)\n", s.Errors, float64(s.Errors)/float64(s.Ops)*100)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, err := range p.errors {
		if i == 5 {
			break
		}
		fmt.Fprintf(w, "   Error Sample: %v\n", err)
	}
}
