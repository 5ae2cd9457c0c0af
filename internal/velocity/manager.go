package velocity

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

type Breach struct {
	Timestamp time.Time `json:"timestamp"`
	Layer     string    `json:"layer"`
	Velocity  float64   `json:"velocity"`
	Threshold float64   `json:"threshold"`
	Excess    float64   `json:"excess"`
}

type BreachStats struct {
	TotalBreaches   int            `json:"total_breaches"`
	BreachesByLayer map[string]int `json:"breaches_by_layer"`
	AverageExcess   float64        `json:"average_excess"`
	MaxVelocity     float64        `json:"max_velocity"`
	RecentBreaches  []Breach       `json:"recent_breaches,omitempty"`
}

// Manager selects the active profile and, in adaptive mode, serves learned
// thresholds instead of the profile's. It implements engine.LayerPolicy.
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	current  string
	breaches breachLog
	adaptive *AdaptiveThresholds
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithAdaptive(a *AdaptiveThresholds) Option {
	return func(m *Manager) {
		m.adaptive = a
	}
}

func WithProfiles(profiles ...Profile) Option {
	return func(m *Manager) {
		for _, p := range profiles {
			m.profiles[p.Name] = p
		}
	}
}

func NewManager(profile string, opts ...Option) (*Manager, error) {
	m := &Manager{
		profiles: map[string]Profile{
			ProfileStandard:     Standard(),
			ProfileConservative: Conservative(),
			ProfileAggressive:   Aggressive(),
		},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if profile == "" {
		profile = ProfileStandard
	}
	if _, ok := m.profiles[profile]; !ok {
		return nil, fmt.Errorf("unknown velocity profile %q", profile)
	}
	m.current = profile
	m.logger.Info("velocity policy initialized", zap.String("profile", profile), zap.Bool("adaptive", m.adaptive != nil))
	return m, nil
}

func (m *Manager) SetProfile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[name]; !ok {
		return fmt.Errorf("unknown velocity profile %q", name)
	}
	old := m.current
	m.current = name
	m.logger.Info("velocity profile switched", zap.String("from", old), zap.String("to", name))
	return nil
}

func (m *Manager) Profile() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profiles[m.current]
}

func (m *Manager) Lookup(name string) (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[name]
	return p, ok
}

func (m *Manager) ProfileNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Adaptive() *AdaptiveThresholds { return m.adaptive }

// Threshold implements engine.LayerPolicy.
func (m *Manager) Threshold(layer engine.Layer) float64 {
	if m.adaptive != nil {
		return m.adaptive.Threshold(layer)
	}
	return m.Profile().Threshold(layer)
}

func (m *Manager) CumulativeCap() float64 {
	return m.Profile().CumulativeCap
}

// CheckBreach reports whether velocity strictly exceeds the layer threshold.
// Non-finite velocities always breach.
func (m *Manager) CheckBreach(layer engine.Layer, velocity float64) (bool, float64) {
	return m.RecordBreach(layer, velocity, m.Threshold(layer))
}

// RecordBreach is CheckBreach against a threshold the caller already
// resolved, such as the one a run recorded on its log event.
func (m *Manager) RecordBreach(layer engine.Layer, velocity, threshold float64) (bool, float64) {
	name := fmt.Sprintf("L%d", layer)
	if info, err := Info(layer); err == nil {
		name = info.Name
	}
	if math.IsNaN(velocity) || math.IsInf(velocity, 0) {
		m.logger.Warn("non-finite velocity", zap.String("layer", name))
		return true, 0
	}
	if velocity <= threshold {
		return false, threshold
	}

	m.mu.Lock()
	m.breaches.add(Breach{
		Timestamp: m.now(),
		Layer:     name,
		Velocity:  velocity,
		Threshold: threshold,
		Excess:    velocity - threshold,
	})
	m.mu.Unlock()
	m.logger.Warn("velocity breach",
		zap.String("layer", name),
		zap.Float64("velocity", velocity),
		zap.Float64("threshold", threshold))
	return true, threshold
}

// CalculateCumulative folds velocities with the noisy-OR rule, skipping
// non-finite values, and caps the result at the profile's cumulative cap.
func (m *Manager) CalculateCumulative(velocities []float64) float64 {
	v := 0.0
	for _, x := range velocities {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			m.logger.Debug("skipping non-finite velocity")
			continue
		}
		v = engine.FoldImpact(v, x)
	}
	limit := m.CumulativeCap()
	if v > limit {
		m.logger.Debug("cumulative velocity capped", zap.Float64("raw", v), zap.Float64("cap", limit))
		return limit
	}
	return v
}

// Observe feeds impacts seen for layer to the adaptive learner. It is a no-op
// outside adaptive mode.
func (m *Manager) Observe(layer engine.Layer, impacts []float64) {
	if m.adaptive == nil || len(impacts) == 0 {
		return
	}
	before := m.adaptive.Threshold(layer)
	after := m.adaptive.Update(layer, impacts, DefaultTargetBlockRate)
	if after != before {
		m.logger.Info("adaptive threshold updated",
			zap.Int("layer", int(layer)),
			zap.Float64("from", before),
			zap.Float64("to", after))
	}
}

func (m *Manager) BreachStatistics() BreachStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breaches.stats()
}

func (m *Manager) ResetBreaches() {
	m.mu.Lock()
	m.breaches = breachLog{}
	m.mu.Unlock()
	m.logger.Info("breach history cleared")
}

// recentBreaches is how many individual breaches are retained; older ones
// only survive in the counters.
const recentBreaches = 10

// breachLog keeps running totals plus a ring of the most recent breaches so
// a long-lived process holds a fixed amount of history.
type breachLog struct {
	total       int
	byLayer     map[string]int
	totalExcess float64
	maxVelocity float64
	ring        [recentBreaches]Breach
	next        int
}

func (l *breachLog) add(b Breach) {
	if l.byLayer == nil {
		l.byLayer = map[string]int{}
	}
	l.total++
	l.byLayer[b.Layer]++
	l.totalExcess += b.Excess
	l.maxVelocity = math.Max(l.maxVelocity, b.Velocity)
	l.ring[l.next] = b
	l.next = (l.next + 1) % recentBreaches
}

func (l *breachLog) stats() BreachStats {
	stats := BreachStats{BreachesByLayer: map[string]int{}}
	if l.total == 0 {
		return stats
	}
	for layer, n := range l.byLayer {
		stats.BreachesByLayer[layer] = n
	}
	stats.TotalBreaches = l.total
	stats.AverageExcess = l.totalExcess / float64(l.total)
	stats.MaxVelocity = l.maxVelocity

	kept := min(l.total, recentBreaches)
	stats.RecentBreaches = make([]Breach, 0, kept)
	start := (l.next - kept + recentBreaches) % recentBreaches
	for i := 0; i < kept; i++ {
		stats.RecentBreaches = append(stats.RecentBreaches, l.ring[(start+i)%recentBreaches])
	}
	return stats
}

// CascadeProbability is 1 - exp(-lambda * impact^alpha), clamped to [0, 1].
func CascadeProbability(impact, lambda, alpha float64) float64 {
	if impact <= 0 {
		return 0
	}
	p := 1 - math.Exp(-lambda*math.Pow(impact, alpha))
	return math.Max(0, math.Min(1, p))
}
