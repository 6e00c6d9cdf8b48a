package pipeline

import (
	"context"
	"sync"

	"github.com/you/hypecut/internal/core"
)

// Job names one dump file to process.
type Job struct {
	VODID string
	Path  string
}

// Runner fans jobs out over a bounded number of concurrent runs. VODs are
// independent, so runs never coordinate beyond the store's transactions.
type Runner struct {
	p   *Pipeline
	sem chan struct{}

	// OnResult, when set, observes every finished run, watcher-triggered
	// ones included. Set it before the first RunAll call; it may be
	// invoked from multiple goroutines.
	OnResult func(core.RunResult)
}

// NewRunner caps concurrent runs at n (minimum 1).
func NewRunner(p *Pipeline, n int) *Runner {
	if n < 1 {
		n = 1
	}
	return &Runner{p: p, sem: make(chan struct{}, n)}
}

func (r *Runner) observe(result core.RunResult) {
	if r.OnResult != nil {
		r.OnResult(result)
	}
}

// RunAll processes every job and returns results in job order. It always
// runs to completion; individual failures land in their RunResult. A
// cancelled context fails the jobs that have not started yet.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) []core.RunResult {
	results := make([]core.RunResult, len(jobs))
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-ctx.Done():
				results[i] = core.RunResult{
					VODID:  job.VODID,
					Status: core.RunFailed,
					Stage:  StageAcquire,
					Err:    ctx.Err(),
				}
				r.observe(results[i])
				return
			}
			results[i] = r.p.RunFile(ctx, job.VODID, job.Path)
			r.observe(results[i])
		}(i, job)
	}

	wg.Wait()
	return results
}
