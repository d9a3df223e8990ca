package planner

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

// Runner drives planning rounds on a fixed interval and keeps the
// in-flight window set so a slow round never enqueues the same window
// twice. Results coming back clear or keep the window depending on the
// outcome; retries stay in flight because the pool re-enqueues them.
type Runner struct {
	config  *appconfig.Config
	planner *Planner
	queue   *queue.Queue

	ctx      context.Context
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	inflight map[string]bool
	log      *logger.Log
}

func NewRunner(cfg *appconfig.Config, p *Planner, q *queue.Queue) *Runner {
	return &Runner{
		config:   cfg,
		planner:  p,
		queue:    q,
		inflight: make(map[string]bool),
		log:      logger.GetLogger(),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("planner runner already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.wg.Add(2)
	go r.planLoop()
	go r.resultLoop()

	r.log.WithComponent("planner_runner").WithFields(logger.Fields{
		"interval": r.config.Planner.Interval,
	}).Info("planner runner started")

	return nil
}

func (r *Runner) planLoop() {
	defer r.wg.Done()

	// First round immediately, then on the ticker.
	r.runOnce()

	ticker := time.NewTicker(r.config.Planner.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Runner) runOnce() {
	log := r.log.WithComponent("planner_runner")

	plan, err := r.planner.Plan(r.ctx, time.Now())
	if err != nil {
		log.WithError(err).Error("planning round aborted")
		return
	}

	enqueued := 0
	for _, task := range plan.Tasks {
		key := taskKey(task)

		r.mu.Lock()
		if r.inflight[key] {
			r.mu.Unlock()
			continue
		}
		r.inflight[key] = true
		r.mu.Unlock()

		if !r.queue.SendTask(r.ctx, task) {
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
			return
		}
		enqueued++
	}

	if enqueued > 0 {
		log.WithFields(logger.Fields{"enqueued": enqueued}).Info("tasks enqueued")
	}
}

func (r *Runner) resultLoop() {
	defer r.wg.Done()

	log := r.log.WithComponent("planner_runner")

	for {
		select {
		case <-r.ctx.Done():
			return
		case result, ok := <-r.queue.Results:
			if !ok {
				return
			}

			fields := logger.Fields{
				"task":    result.Task.String(),
				"status":  string(result.Status),
				"state":   string(result.State),
				"attempt": result.Task.Attempt,
			}

			switch result.Status {
			case models.StatusSuccess:
				fields["rows"] = result.Rows
				fields["raw_uri"] = result.RawURI
				log.WithFields(fields).Info("task result")
				r.clear(result.Task)
			case models.StatusRetry:
				fields["reason"] = result.Reason
				fields["next_eligible"] = result.NextEligible
				log.WithFields(fields).Debug("task result")
			case models.StatusFailed:
				fields["reason"] = result.Reason
				fields["error_kind"] = string(result.ErrorKind)
				log.WithFields(fields).Warn("task result")
				r.clear(result.Task)
			}
		}
	}
}

func (r *Runner) clear(task models.FetchTask) {
	r.mu.Lock()
	delete(r.inflight, taskKey(task))
	r.mu.Unlock()
}

func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.log.WithComponent("planner_runner").Info("planner runner stopped")
}

// taskKey identifies a window independent of attempt count.
func taskKey(task models.FetchTask) string {
	return task.Symbol + "|" + task.WindowStart.UTC().Format(time.RFC3339)
}
