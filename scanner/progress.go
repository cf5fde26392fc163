package scanner

// Progress is a transient snapshot emitted at completion milestones.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Done reports whether every port has finished.
func (p Progress) Done() bool { return p.Total > 0 && p.Completed >= p.Total }

// milestoneInterval spaces notifications roughly every 5%, or every port
// when fewer than 20 are scanned.
func milestoneInterval(total int) int {
	if interval := total / 20; interval > 1 {
		return interval
	}
	return 1
}

// progressTracker counts completions. It is owned by a single goroutine.
type progressTracker struct {
	completed int
	total     int
	interval  int
}

func newProgressTracker(total int) *progressTracker {
	return &progressTracker{total: total, interval: milestoneInterval(total)}
}

// complete records one finished port and returns a snapshot when that
// completion lands on a milestone or is the last one.
func (t *progressTracker) complete() (Progress, bool) {
	t.completed++
	if t.completed%t.interval != 0 && t.completed != t.total {
		return Progress{}, false
	}
	return Progress{
		Completed: t.completed,
		Total:     t.total,
		Percent:   float64(t.completed) / float64(t.total) * 100,
	}, true
}
