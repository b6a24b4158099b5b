package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned when the inbound job queue is full.
var ErrBusy = errors.New("worker queue full")

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher fans jobs out to a bounded worker pool, round-robin over
// sessions so each session gets at most its fair share of workers.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*sessionQueue
	ready     *list.List // LRU of session ids with pending jobs
	positions map[string]*list.Element
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	d := &Dispatcher{
		pool:      newJobChannelPool(minWorkers, maxWorkers, idleTimeout),
		jobQueue:  make(chan Job, queueSize),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit queues a job without blocking. ErrBusy means the caller should shed
// load rather than wait.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrBusy
	}
}

// Do runs fn on a pooled worker and waits for it to finish or the context to
// expire. fn itself is responsible for honoring ctx.
func (d *Dispatcher) Do(ctx context.Context, sessionID, kind string, fn func()) error {
	done := make(chan struct{})
	err := d.Submit(Job{
		SessionID: sessionID,
		Kind:      kind,
		Run: func() {
			defer close(done)
			fn()
		},
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// the job still runs to completion on the worker; the caller just
		// stops waiting for it
		return ctx.Err()
	}
}

// CancelSession drops any jobs still queued for the session.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, sessionID)
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			job := <-d.jobQueue // force congestion
			d.enqueueJob(job)
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.SessionID] = d.ready.PushBack(job.SessionID)
}

// dispatchOne hands the front session's next job to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign %s job for session %s", job.Kind, sessionID)
	workerChan <- job
	return true
}
