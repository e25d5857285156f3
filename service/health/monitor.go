// Package health 周期性探测网关依赖（存储、Redis 等），给 /healthz 和注册中心心跳使用。
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"CareLink/tools/safe"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Probe 一个依赖的探活函数
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

type Options struct {
	Interval  time.Duration // 探测周期，默认 10s
	Timeout   time.Duration // 单次 ping 超时，默认 2s
	Threshold int           // 连续失败次数达到阈值才判定为不健康，默认 3
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.Threshold <= 0 {
		o.Threshold = 3
	}
}

// Status 单个依赖的最近状态
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	CheckedAt time.Time `json:"checkedAt,omitempty"`
}

// Monitor 依赖健康状态。启动时乐观地认为全部健康
type Monitor struct {
	opts   Options
	probes []Probe
	log    *zap.Logger
	up     *prometheus.GaugeVec

	mu    sync.RWMutex
	state map[string]*Status
	now   func() time.Time
}

// NewMonitor reg 为 nil 时不导出指标
func NewMonitor(opts Options, log *zap.Logger, reg prometheus.Registerer, probes ...Probe) *Monitor {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		opts:   opts,
		probes: probes,
		log:    log,
		state:  make(map[string]*Status, len(probes)),
		now:    time.Now,
	}
	for _, p := range probes {
		m.state[p.Name] = &Status{Name: p.Name, Healthy: true}
	}
	if reg != nil {
		m.up = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carelink_dependency_up",
			Help: "1 when the dependency answers its health probe.",
		}, []string{"dependency"})
		reg.MustRegister(m.up)
		for _, p := range probes {
			m.up.WithLabelValues(p.Name).Set(1)
		}
	}
	return m
}

// CheckOnce 依次探测全部依赖
func (m *Monitor) CheckOnce(ctx context.Context) {
	for _, p := range m.probes {
		pctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
		err := safe.Call(func() error { return p.Ping(pctx) })
		cancel()
		m.record(p.Name, err)
	}
}

func (m *Monitor) record(name string, err error) {
	m.mu.Lock()
	st := m.state[name]
	st.CheckedAt = m.now()
	wasHealthy := st.Healthy
	if err == nil {
		st.Failures = 0
		st.LastError = ""
		st.Healthy = true
	} else {
		st.Failures++
		st.LastError = err.Error()
		if st.Failures >= m.opts.Threshold {
			st.Healthy = false
		}
	}
	healthy, failures := st.Healthy, st.Failures
	m.mu.Unlock()

	switch {
	case wasHealthy && !healthy:
		m.log.Warn("dependency unhealthy", zap.String("dependency", name), zap.Int("failures", failures), zap.Error(err))
	case !wasHealthy && healthy:
		m.log.Info("dependency recovered", zap.String("dependency", name))
	case err != nil:
		m.log.Debug("dependency probe failed", zap.String("dependency", name), zap.Int("failures", failures), zap.Error(err))
	}
	if m.up != nil {
		v := 0.0
		if healthy {
			v = 1
		}
		m.up.WithLabelValues(name).Set(v)
	}
}

// Run 立即探测一次，然后按周期探测直到 ctx 取消
func (m *Monitor) Run(ctx context.Context) {
	if len(m.probes) == 0 {
		return
	}
	m.CheckOnce(ctx)
	t := time.NewTicker(m.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CheckOnce(ctx)
		}
	}
}

func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.state {
		if !st.Healthy {
			return false
		}
	}
	return true
}

// Snapshot 按名字排序的状态拷贝
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.state))
	for _, st := range m.state {
		out = append(out, *st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
