package r2mig

import "time"

// withRates fills throughput and ETA from the elapsed time since started.
func withRates(p Progress, started, now time.Time) Progress {
	elapsed := now.Sub(started)
	if elapsed <= 0 || p.ProcessedItems <= 0 {
		return p
	}
	p.ThroughputItemsPerSecond = float64(p.ProcessedItems) / elapsed.Seconds()
	if remaining := p.TotalItems - p.ProcessedItems; remaining > 0 {
		p.EstimatedRemainingTime = time.Duration(float64(remaining) / p.ThroughputItemsPerSecond * float64(time.Second))
	}
	return p
}
