package pipeline

import "time"

// Metrics summarizes a pipeline's records. Read-only snapshot, safe to keep
// after the round ends.
type Metrics struct {
	Total     int
	Pending   int
	Executing int
	Completed int
	Errored   int
	Stalled   int

	TotalExecutionTime time.Duration
	MeanExecutionTime  time.Duration
}

// Metrics computes counts by status plus total and mean execution time over
// terminal records.
func (p *Pipeline) Metrics() Metrics {
	stalled := map[string]bool{}
	for _, r := range p.Stalled() {
		stalled[r.ID] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{Total: len(p.records), Stalled: len(stalled)}
	terminal := 0
	for _, r := range p.records {
		switch r.Status {
		case StatusPending:
			m.Pending++
		case StatusExecuting:
			m.Executing++
		case StatusCompleted:
			m.Completed++
		case StatusError:
			m.Errored++
		}
		if r.Status.IsTerminal() {
			terminal++
			m.TotalExecutionTime += r.ExecutionTime
		}
	}
	if terminal > 0 {
		m.MeanExecutionTime = m.TotalExecutionTime / time.Duration(terminal)
	}
	return m
}
