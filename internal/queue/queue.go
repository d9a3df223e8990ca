package queue

import (
	"context"
	"sync"
	"time"

	"marketlake/logger"
	"marketlake/models"
)

type Stats struct {
	TasksSent      int64
	TasksDropped   int64
	ResultsSent    int64
	ResultsDropped int64
}

// Queue connects the planner to the worker pool and the workers back to
// the coordinator. Both channels are bounded so a stalled consumer shows
// up as backpressure instead of unbounded memory.
type Queue struct {
	Tasks   chan models.FetchTask
	Results chan models.TaskResult

	stats               Stats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewQueue(taskBufferSize, resultBufferSize int) *Queue {
	log := logger.GetLogger()

	q := &Queue{
		Tasks:   make(chan models.FetchTask, taskBufferSize),
		Results: make(chan models.TaskResult, resultBufferSize),
		log:     log,
	}

	log.WithComponent("queue").WithFields(logger.Fields{
		"task_buffer_size":   taskBufferSize,
		"result_buffer_size": resultBufferSize,
	}).Info("queue initialized")

	return q
}

// SendTask enqueues a task, blocking until there is room or the context
// is cancelled. Returns false when the context ended first.
func (q *Queue) SendTask(ctx context.Context, task models.FetchTask) bool {
	select {
	case q.Tasks <- task:
		q.statsMutex.Lock()
		q.stats.TasksSent++
		q.statsMutex.Unlock()
		logger.RecordChannelMessage("tasks", len(q.Tasks))
		return true
	case <-ctx.Done():
		q.statsMutex.Lock()
		q.stats.TasksDropped++
		q.statsMutex.Unlock()
		return false
	}
}

// SendResult enqueues a task outcome, blocking like SendTask.
func (q *Queue) SendResult(ctx context.Context, result models.TaskResult) bool {
	select {
	case q.Results <- result:
		q.statsMutex.Lock()
		q.stats.ResultsSent++
		q.statsMutex.Unlock()
		logger.RecordChannelMessage("results", len(q.Results))
		return true
	case <-ctx.Done():
		q.statsMutex.Lock()
		q.stats.ResultsDropped++
		q.statsMutex.Unlock()
		return false
	}
}

func (q *Queue) StartMetricsReporting(ctx context.Context) {
	q.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				q.metricsReportTicker.Stop()
				return
			case <-q.metricsReportTicker.C:
				q.logQueueStats()
			}
		}
	}()
}

func (q *Queue) logQueueStats() {
	q.statsMutex.RLock()
	stats := q.stats
	q.statsMutex.RUnlock()

	q.log.WithComponent("queue").WithFields(logger.Fields{
		"tasks_sent":      stats.TasksSent,
		"tasks_dropped":   stats.TasksDropped,
		"results_sent":    stats.ResultsSent,
		"results_dropped": stats.ResultsDropped,
		"task_chan_len":   len(q.Tasks),
		"task_chan_cap":   cap(q.Tasks),
		"result_chan_len": len(q.Results),
		"result_chan_cap": cap(q.Results),
	}).Info("queue statistics")
}

func (q *Queue) Close() {
	if q.metricsReportTicker != nil {
		q.metricsReportTicker.Stop()
	}

	close(q.Tasks)
	close(q.Results)

	q.log.WithComponent("queue").Info("queue channels closed")
}

func (q *Queue) GetStats() Stats {
	q.statsMutex.RLock()
	defer q.statsMutex.RUnlock()
	return q.stats
}
