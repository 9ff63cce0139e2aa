package drift

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MinSamples is the window fill below which no feature is flagged.
const MinSamples = 30

// Severity grades how far a feature's PSI exceeds the threshold.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Config controls a Monitor.
type Config struct {
	WindowSize    int           `yaml:"windowSize" json:"window_size"`
	Threshold     float64       `yaml:"threshold" json:"threshold"` // PSI above which a feature has drifted
	AlertCooldown time.Duration `yaml:"alertCooldown" json:"alert_cooldown"`
}

// DefaultConfig returns a 1000-applicant window, the conventional 0.2 PSI
// threshold and a one hour alert cooldown.
func DefaultConfig() Config {
	return Config{
		WindowSize:    1000,
		Threshold:     0.2,
		AlertCooldown: time.Hour,
	}
}

// FeatureDrift is the drift of one feature over the current window.
type FeatureDrift struct {
	Feature  string   `json:"feature"`
	PSI      float64  `json:"psi"`
	KS       float64  `json:"ks"`
	Mean     float64  `json:"mean"`
	Severity Severity `json:"severity"`
}

// Report is a snapshot of the monitor's window.
type Report struct {
	Samples   int            `json:"samples"`
	Ready     bool           `json:"ready"`
	Threshold float64        `json:"threshold"`
	Features  []FeatureDrift `json:"features"`
	Drifted   []string       `json:"drifted"`
}

// Observer receives every periodic drift check.
type Observer interface {
	DriftMeasured(report Report)
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	baseline  *Baseline
	cfg       Config
	window    [][]float64 // window[feature][slot]
	next      int
	filled    int
	observed  int
	lastAlert time.Time

	logger   zerolog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// NewMonitor creates a monitor comparing inputs against b. Zero config fields
// take their defaults.
func NewMonitor(b *Baseline, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = def.AlertCooldown
	}

	m := &Monitor{
		baseline: b,
		cfg:      cfg,
		window:   make([][]float64, b.Width()),
		logger:   log.Logger,
		now:      time.Now,
	}
	for i := range m.window {
		m.window[i] = make([]float64, cfg.WindowSize)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// checkEvery is the number of observations between automatic checks.
func (m *Monitor) checkEvery() int {
	return max(m.cfg.WindowSize/10, 1)
}

// Observe adds one applicant to the window. Vectors of the wrong width are
// ignored. Every tenth of a window a check runs and alerts when features have
// drifted.
func (m *Monitor) Observe(values []float64) {
	if len(values) != len(m.window) {
		return
	}

	m.mu.Lock()
	for i, v := range values {
		m.window[i][m.next] = v
	}
	m.next = (m.next + 1) % m.cfg.WindowSize
	m.filled = min(m.filled+1, m.cfg.WindowSize)
	m.observed++

	if m.observed%m.checkEvery() != 0 {
		m.mu.Unlock()
		return
	}
	report := m.report()
	alert := len(report.Drifted) > 0 && m.now().Sub(m.lastAlert) >= m.cfg.AlertCooldown
	if alert {
		m.lastAlert = m.now()
	}
	m.mu.Unlock()

	if alert {
		m.logger.Warn().
			Strs("features", report.Drifted).
			Int("samples", report.Samples).
			Float64("threshold", report.Threshold).
			Msg("input drift detected")
	}
	if m.observer != nil {
		m.observer.DriftMeasured(report)
	}
}

// Report computes the drift of every feature over the current window.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report()
}

func (m *Monitor) report() Report {
	r := Report{
		Samples:   m.filled,
		Ready:     m.filled >= MinSamples,
		Threshold: m.cfg.Threshold,
		Features:  make([]FeatureDrift, len(m.window)),
		Drifted:   []string{},
	}

	current := make([]float64, m.filled)
	for i, fb := range m.baseline.Features {
		copy(current, m.window[i][:m.filled])
		sort.Float64s(current)

		fd := FeatureDrift{Feature: fb.Name, Severity: SeverityNone}
		if m.filled > 0 {
			var sum float64
			for _, v := range current {
				sum += v
			}
			fd.Mean = sum / float64(m.filled)
			fd.PSI = PSI(fb.Proportions, proportions(fb.Edges, current))
			fd.KS = KS(fb.Sample, current)
		}
		if r.Ready {
			fd.Severity = m.severity(fd.PSI)
			if fd.Severity != SeverityNone {
				r.Drifted = append(r.Drifted, fb.Name)
			}
		}
		r.Features[i] = fd
	}
	return r
}

func (m *Monitor) severity(psi float64) Severity {
	t := m.cfg.Threshold
	switch {
	case psi > 3*t:
		return SeverityCritical
	case psi > 2*t:
		return SeverityHigh
	case psi > t:
		return SeverityMedium
	default:
		return SeverityNone
	}
}
