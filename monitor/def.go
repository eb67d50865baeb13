package monitor

import (
	"OnnxDepth/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const SampleInterval = 500 * time.Millisecond

var (
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})

	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "depth_requests_total",
		Help: "Total number of depth estimation requests processed",
	})

	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depth_failures_total",
		Help: "Total number of failed depth estimation requests",
	}, []string{"reason"})

	StageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depth_stage_seconds",
		Help:    "Wall time of each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"stage"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(memUsage, cpuUsage, RequestsTotal, FailuresTotal, StageSeconds)
}

func Registry() *prometheus.Registry {
	return registry
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// ObserveStage matches depth.StageObserver.
func ObserveStage(stage string, elapsed time.Duration) {
	StageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func CheckProcessInfo(p *process.Process) error {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return err
	}
	memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return err
	}
	cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	return nil
}

// StartMon 在 port 上提供 /metrics，并每 500ms 采样一次进程信息，直到 ctx 结束
func StartMon(ctx context.Context, port int) error {
	pid, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if err := CheckProcessInfo(pid); err != nil {
				logger.Log().Debug("process sampling failed", zap.Error(err))
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
