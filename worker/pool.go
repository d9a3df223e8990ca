package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "marketlake/config"
	"marketlake/internal/queue"
	"marketlake/logger"
	"marketlake/models"
)

// Pool fans the task channel out over a fixed set of workers and feeds
// outcomes back on the result channel. Retry results are rescheduled by
// the pool itself once their backoff elapses.
type Pool struct {
	config *appconfig.Config
	worker *Worker
	queue  *queue.Queue

	ctx     context.Context
	wg      sync.WaitGroup
	retryWG sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
}

func NewPool(cfg *appconfig.Config, w *Worker, q *queue.Queue) *Pool {
	return &Pool{
		config: cfg,
		worker: w,
		queue:  q,
		log:    logger.GetLogger(),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	for i := 0; i < p.config.Worker.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}

	p.log.WithComponent("worker_pool").WithFields(logger.Fields{
		"workers": p.config.Worker.MaxWorkers,
	}).Info("worker pool started")

	return nil
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	log := p.log.WithComponent("worker_pool").WithFields(logger.Fields{"worker_id": id})
	log.Debug("worker started")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("worker stopped")
			return
		case task, ok := <-p.queue.Tasks:
			if !ok {
				log.Debug("task channel closed")
				return
			}
			result := p.worker.Execute(p.ctx, task)
			if result.Status == models.StatusRetry {
				p.scheduleRetry(result)
			}
			p.queue.SendResult(p.ctx, result)
		}
	}
}

// scheduleRetry re-enqueues the task with a bumped attempt count once its
// backoff window has passed. Cancellation drops pending retries.
func (p *Pool) scheduleRetry(result models.TaskResult) {
	delay := time.Until(result.NextEligible)
	if delay < 0 {
		delay = 0
	}

	p.retryWG.Add(1)
	go func() {
		defer p.retryWG.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-p.ctx.Done():
		case <-timer.C:
			p.queue.SendTask(p.ctx, result.Task.WithAttempt(result.Task.Attempt+1))
		}
	}()
}

// Stop waits for in-flight tasks and pending retry timers to finish. The
// context passed to Start must already be cancelled or the task channel
// closed, otherwise workers keep consuming.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.retryWG.Wait()

	p.log.WithComponent("worker_pool").Info("worker pool stopped")
}
