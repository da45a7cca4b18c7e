package metrics

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ServerSample holds CPU and memory figures for the supervised server.
type ServerSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ServerCollector samples the server process on demand and exposes the
// values as gauges labelled by env.
type ServerCollector struct {
	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewServerCollector() *ServerCollector {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      name,
			Help:      help,
		}, []string{"env"})
	}
	return &ServerCollector{
		cpuPercent: gauge("cpu_percent", "CPU usage of the server process."),
		memoryMB:   gauge("memory_mb", "Resident memory of the server process in MB."),
		numThreads: gauge("num_threads", "Number of threads of the server process."),
		numFDs:     gauge("num_fds", "Open file descriptors of the server process (Unix only)."),
	}
}

// RegisterMetrics registers the gauges with r, ignoring duplicates.
func (c *ServerCollector) RegisterMetrics(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Sample reads the current figures for pid and updates the gauges.
func (c *ServerCollector) Sample(env string, pid int) (ServerSample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ServerSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ServerSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	s := ServerSample{
		PID:       int32(pid),
		MemoryMB:  float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS: memInfo.RSS,
		MemoryVMS: memInfo.VMS,
		Timestamp: time.Now(),
	}
	// zero when unavailable
	s.CPUPercent, _ = proc.CPUPercent()
	s.NumThreads, _ = proc.NumThreads()
	if runtime.GOOS != "windows" {
		s.NumFDs, _ = proc.NumFDs()
	}

	c.cpuPercent.WithLabelValues(env).Set(s.CPUPercent)
	c.memoryMB.WithLabelValues(env).Set(s.MemoryMB)
	c.numThreads.WithLabelValues(env).Set(float64(s.NumThreads))
	if runtime.GOOS != "windows" && s.NumFDs > 0 {
		c.numFDs.WithLabelValues(env).Set(float64(s.NumFDs))
	}
	return s, nil
}
