package queue

import (
	"context"
	"testing"
	"time"

	"marketlake/models"
)

func TestNewQueue(t *testing.T) {
	q := NewQueue(1, 1)
	if cap(q.Tasks) != 1 || cap(q.Results) != 1 {
		t.Fatalf("unexpected capacities: %d/%d", cap(q.Tasks), cap(q.Results))
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.StartMetricsReporting(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	q.Close()
}

func TestSendTask(t *testing.T) {
	q := NewQueue(1, 1)
	defer q.Close()

	task := models.FetchTask{Symbol: "AAPL"}
	if !q.SendTask(context.Background(), task) {
		t.Fatal("SendTask returned false with buffer space available")
	}
	got := <-q.Tasks
	if got.Symbol != "AAPL" {
		t.Errorf("unexpected task: %+v", got)
	}

	stats := q.GetStats()
	if stats.TasksSent != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSendTaskCancelled(t *testing.T) {
	q := NewQueue(1, 1)
	defer q.Close()

	// Fill the buffer so the next send must block.
	q.SendTask(context.Background(), models.FetchTask{Symbol: "AAPL"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.SendTask(ctx, models.FetchTask{Symbol: "MSFT"}) {
		t.Fatal("SendTask succeeded on cancelled context with full buffer")
	}

	stats := q.GetStats()
	if stats.TasksDropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSendResult(t *testing.T) {
	q := NewQueue(1, 1)
	defer q.Close()

	result := models.TaskResult{Status: models.StatusSuccess}
	if !q.SendResult(context.Background(), result) {
		t.Fatal("SendResult returned false with buffer space available")
	}
	got := <-q.Results
	if got.Status != models.StatusSuccess {
		t.Errorf("unexpected result: %+v", got)
	}
}
