// Package worker bounds the concurrency of outbound provider calls. Jobs are
// queued per session and served round-robin so one busy session cannot starve
// the rest.
package worker

// Job is one unit of work tied to a session.
type Job struct {
	SessionID string
	Kind      string
	Run       func()
}

type stopJob struct{}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan any
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan any),
	}
}

func (w *Worker) Start() {
	go func() {
		for raw := range w.jobChannel {
			if _, ok := raw.(stopJob); ok {
				w.pool.retire(w.jobChannel)
				return
			}
			job := raw.(Job)
			job.Run()
			w.pool.Release(w.jobChannel)
		}
	}()
}
