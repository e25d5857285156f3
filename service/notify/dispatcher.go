package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"CareLink/module/chat/model"
	"CareLink/tools/safe"

	"go.uber.org/zap"
)

type Options struct {
	Workers     int
	Queue       int
	MaxAttempts int           // 每个 sink 的最大尝试次数
	BaseBackoff time.Duration // 第 n 次重试等待 base<<(n-1)，上限 MaxBackoff
	MaxBackoff  time.Duration
	Timeout     time.Duration // 单次投递超时
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Queue <= 0 {
		o.Queue = 1024
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = 5 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
}

// Dispatcher 异步派发通知：有界队列 + N 个 worker，每个 sink 独立重试。
// Enqueue 从不阻塞调用方
type Dispatcher struct {
	opts    Options
	sinks   []Sink
	jobs    chan *model.Notification
	log     *zap.Logger
	metrics *Metrics

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(opts Options, log *zap.Logger, metrics *Metrics, sinks ...Sink) *Dispatcher {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		opts:    opts,
		sinks:   sinks,
		jobs:    make(chan *model.Notification, opts.Queue),
		log:     log,
		metrics: metrics,
	}
}

// Start 启动 worker；ctx 取消后正在等待的重试会放弃
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		safe.Go("notify.worker", func() {
			defer d.wg.Done()
			for n := range d.jobs {
				d.deliver(ctx, n)
			}
		})
	}
}

// Enqueue 队列满或已关闭时丢弃并返回 false
func (d *Dispatcher) Enqueue(n *model.Notification) bool {
	if n == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.recordDrop()
		return false
	}
	select {
	case d.jobs <- n:
		return true
	default:
		d.metrics.recordDrop()
		d.log.Error("notification queue full, dropped",
			zap.String("id", n.ID), zap.String("type", string(n.Type)), zap.String("recipient", n.RecipientID))
		return false
	}
}

// Stop 不再接收新通知，等待队列中剩余的投递完成或 ctx 超时
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) {
	for _, s := range d.sinks {
		d.deliverTo(ctx, s, n)
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, s Sink, n *model.Notification) {
	for attempt := 1; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		err := safe.Call(func() error { return s.Deliver(cctx, n) })
		cancel()
		if err == nil {
			d.metrics.recordDelivery(s.Name(), "ok")
			return
		}
		if attempt >= d.opts.MaxAttempts {
			d.metrics.recordDelivery(s.Name(), "failed")
			d.log.Error("notification delivery failed",
				zap.String("sink", s.Name()), zap.String("id", n.ID), zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		d.log.Warn("notification delivery retry",
			zap.String("sink", s.Name()), zap.String("id", n.ID), zap.Int("attempt", attempt), zap.Error(err))
		d.metrics.recordRetry(s.Name())

		timer := time.NewTimer(d.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			d.metrics.recordDelivery(s.Name(), "cancelled")
			return
		case <-timer.C:
		}
	}
}

// backoff 指数退避 + 0~20% 抖动
func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := d.opts.BaseBackoff << (attempt - 1)
	if b > d.opts.MaxBackoff || b <= 0 {
		b = d.opts.MaxBackoff
	}
	if j := int64(b / 5); j > 0 {
		b -= time.Duration(rand.Int63n(j)) / 2
	}
	return b
}
