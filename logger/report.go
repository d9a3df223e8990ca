package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsPlanner     int64
	errorsWorker      int64
	warnsPlanner      int64
	warnsWorker       int64
	apiFetches        int64
	bronzeWrites      int64
	tasksSucceeded    int64
	tasksRetried      int64
	tasksFailed       int64
	watermarkAdvances int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "planner") {
		atomic.AddInt64(&warnsPlanner, 1)
	} else if strings.Contains(component, "worker") {
		atomic.AddInt64(&warnsWorker, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "planner") {
		atomic.AddInt64(&errorsPlanner, 1)
	} else if strings.Contains(component, "worker") {
		atomic.AddInt64(&errorsWorker, 1)
	}
}

// IncrementAPIFetch counts one market-data API request of the given payload size.
func IncrementAPIFetch(size int) {
	atomic.AddInt64(&apiFetches, 1)
	recordChannel("api_fetch", size)
}

// IncrementBronzeWrite counts one object landed in the bronze layer.
func IncrementBronzeWrite(size int64) {
	atomic.AddInt64(&bronzeWrites, 1)
	recordChannel("bronze_write", int(size))
}

// IncrementWatermarkAdvance counts one successful watermark manifest update.
func IncrementWatermarkAdvance() {
	atomic.AddInt64(&watermarkAdvances, 1)
}

// RecordTaskOutcome tallies terminal and retry task results for the report.
func RecordTaskOutcome(status string) {
	switch status {
	case "success":
		atomic.AddInt64(&tasksSucceeded, 1)
	case "retry":
		atomic.AddInt64(&tasksRetried, 1)
	case "failed":
		atomic.AddInt64(&tasksFailed, 1)
	}
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and ingestion statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_planner":     atomic.LoadInt64(&errorsPlanner),
		"errors_worker":      atomic.LoadInt64(&errorsWorker),
		"warns_planner":      atomic.LoadInt64(&warnsPlanner),
		"warns_worker":       atomic.LoadInt64(&warnsWorker),
		"api_fetches":        atomic.LoadInt64(&apiFetches),
		"bronze_writes":      atomic.LoadInt64(&bronzeWrites),
		"tasks_succeeded":    atomic.LoadInt64(&tasksSucceeded),
		"tasks_retried":      atomic.LoadInt64(&tasksRetried),
		"tasks_failed":       atomic.LoadInt64(&tasksFailed),
		"watermark_advances": atomic.LoadInt64(&watermarkAdvances),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"disk_mb":            int64(diskStats.Used) / 1024 / 1024,
		"channels":           channelData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsPlanner"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_planner"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsWorker"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_worker"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsPlanner"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_planner"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsWorker"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_worker"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("APIFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["api_fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("BronzeWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["bronze_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TasksSucceeded"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["tasks_succeeded"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TasksRetried"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["tasks_retried"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TasksFailed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["tasks_failed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WatermarkAdvances"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["watermark_advances"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
