package executors

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Job is one pending execution attempt for an order. A job is queued at most
// once per order at intake; retries re-enqueue it with a later NextRunAt.
type Job struct {
	OrderID   uint
	Attempt   int
	NextRunAt time.Time
}

// Queue feeds execution jobs to a pool of workers. Jobs for different orders
// run in parallel; failed submissions are retried with exponential backoff
// until the attempt budget is spent.
type Queue struct {
	worker *Worker
	config Config
	jobs   chan Job
	wg     sync.WaitGroup
}

func NewQueue(worker *Worker, config Config) *Queue {
	size := config.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Queue{
		worker: worker,
		config: config,
		jobs:   make(chan Job, size),
	}
}

// Enqueue schedules the first execution attempt for an order.
func (q *Queue) Enqueue(orderID uint) {
	q.jobs <- Job{OrderID: orderID, Attempt: 1, NextRunAt: time.Now()}
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	count := q.config.WorkerCount
	if count <= 0 {
		count = 1
	}

	logger.WithField("workers", count).Info("Execution worker pool starting")

	for i := 0; i < count; i++ {
		q.wg.Add(1)
		go q.runWorker(ctx)
	}

	<-ctx.Done()
	q.wg.Wait()
	logger.Info("Execution worker pool stopped")
}

func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			if delay := time.Until(job.NextRunAt); delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	err := q.worker.ExecuteOrder(ctx, job.OrderID, job.Attempt)
	if err == nil {
		return
	}

	logger.WithFields(map[string]interface{}{
		"order_id": job.OrderID,
		"attempt":  job.Attempt,
	}).WithError(err).Warn("Execution attempt failed")

	maxAttempts := q.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	if job.Attempt >= maxAttempts {
		q.worker.MarkRejected(ctx, job.OrderID, err)
		return
	}

	// base delay doubles each attempt: base, 2*base, 4*base
	backoff := q.config.RetryBaseDelay
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	backoff = backoff << (job.Attempt - 1)

	retry := Job{
		OrderID:   job.OrderID,
		Attempt:   job.Attempt + 1,
		NextRunAt: time.Now().Add(backoff),
	}

	select {
	case q.jobs <- retry:
	case <-ctx.Done():
	}
}
