// Package metrics defines the prometheus collectors exported by the
// kernel and the replay engine. A nil *Metrics is valid and records
// nothing, so components never need to check whether metrics are on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "axiom"

// Metrics holds all collectors.
type Metrics struct {
	// Syscall metrics
	Syscalls        *prometheus.CounterVec
	SyscallDuration *prometheus.HistogramVec
	Denials         *prometheus.CounterVec

	// Log metrics
	Commits   *prometheus.CounterVec
	SysEvents prometheus.Counter

	// IPC metrics
	Messages *prometheus.CounterVec
	Blocked  prometheus.Gauge

	// Replay metrics
	ReplayRuns    *prometheus.CounterVec
	ReplayCommits prometheus.Counter
}

// New registers every collector on reg. Passing a fresh registry keeps
// tests independent of the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Syscalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syscalls_total",
				Help:      "Syscalls handled, by name and outcome",
			},
			[]string{"syscall", "outcome"},
		),
		SyscallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "syscall_duration_seconds",
				Help:      "Time spent inside the gateway per syscall",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"syscall"},
		),
		Denials: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_denials_total",
				Help:      "Capability checks that failed, by error code",
			},
			[]string{"code"},
		),
		Commits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Commits appended to the log, by kind",
			},
			[]string{"kind"},
		),
		SysEvents: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sysevents_total",
				Help:      "SysLog events recorded",
			},
		),
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ipc_messages_total",
				Help:      "IPC operations, by operation and path",
			},
			[]string{"op", "path"},
		),
		Blocked: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blocked_processes",
				Help:      "Processes currently blocked in receive or call",
			},
		),
		ReplayRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replay_runs_total",
				Help:      "Replay runs, by result",
			},
			[]string{"result"},
		),
		ReplayCommits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replay_commits_total",
				Help:      "Commits applied by replay",
			},
		),
	}
}

// ObserveSyscall records one syscall and its duration.
func (m *Metrics) ObserveSyscall(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Syscalls.WithLabelValues(name, outcome).Inc()
	m.SyscallDuration.WithLabelValues(name).Observe(d.Seconds())
}

// Denied records a failed capability check.
func (m *Metrics) Denied(code string) {
	if m == nil {
		return
	}
	m.Denials.WithLabelValues(code).Inc()
}

// CommitAppended records one appended commit.
func (m *Metrics) CommitAppended(kind string) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(kind).Inc()
}

// EventLogged records one SysLog event.
func (m *Metrics) EventLogged() {
	if m == nil {
		return
	}
	m.SysEvents.Inc()
}

// Message records one IPC operation. path is "fast", "queued" or "".
func (m *Metrics) Message(op, path string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(op, path).Inc()
}

// SetBlocked reports the number of blocked processes.
func (m *Metrics) SetBlocked(n int) {
	if m == nil {
		return
	}
	m.Blocked.Set(float64(n))
}

// ReplayRun records one replay run over n commits.
func (m *Metrics) ReplayRun(result string, n int) {
	if m == nil {
		return
	}
	m.ReplayRuns.WithLabelValues(result).Inc()
	m.ReplayCommits.Add(float64(n))
}
