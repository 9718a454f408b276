package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"transfer-relay/observability"
)

// TelemetryWorker periodically logs relay counters alongside the process's
// own resource usage (CPU, RSS, OS status).
type TelemetryWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	monitoring     *observability.MonitoringManager
}

func NewTelemetryWorker(log *slog.Logger, metricInterval time.Duration, monitoring *observability.MonitoringManager) *TelemetryWorker {
	return &TelemetryWorker{
		log:            log,
		metricInterval: metricInterval,
		monitoring:     monitoring,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.metricInterval)
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, status, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}

			stats := w.monitoring.Snapshot()
			w.log.Info("relay telemetry",
				"active_sessions", stats.ActiveSessions,
				"sessions_completed", stats.SessionsCompleted,
				"sessions_failed", stats.SessionsFailed,
				"chunks_forwarded", stats.ChunksForwarded,
				"bytes_relayed", stats.BytesRelayed,
				"decode_failures", stats.DecodeFailures,
				"relay_speed_mbs", stats.RelaySpeedMBs,
				"cpu_percent", cpu,
				"ram_bytes", rss,
				"pid_status", status,
			)
		}
	}
}

// getSelfStats retrieves technical metrics (memory, CPU and OS status) for
// the given process.
func getSelfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
