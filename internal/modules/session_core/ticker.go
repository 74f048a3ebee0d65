package sessioncore

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/metrics"
)

// Ticker keeps one periodic task per playing session.
type Ticker struct {
	log       *zap.Logger
	kind      string
	scheduler Scheduler
	interval  time.Duration
	onTick    func(SessionKey)

	mu    sync.Mutex
	tasks map[SessionKey]func()
}

// NewTicker creates a ticker that calls onTick for each active key.
func NewTicker(log *zap.Logger, kind string, scheduler Scheduler, interval time.Duration, onTick func(SessionKey)) *Ticker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{
		log:       log,
		kind:      kind,
		scheduler: scheduler,
		interval:  interval,
		onTick:    onTick,
		tasks:     map[SessionKey]func(){},
	}
}

// Interval returns the tick period.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Start schedules key unless it is already ticking.
func (t *Ticker) Start(key SessionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tasks[key]; ok {
		return
	}
	t.tasks[key] = t.scheduler.Every(t.interval, func() { t.run(key) })
	metrics.ActiveTickers.WithLabelValues(t.kind).Set(float64(len(t.tasks)))
	t.log.Debug("ticker started", zap.String("session", key.String()))
}

// Stop cancels the task for key if one is running.
func (t *Ticker) Stop(key SessionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancel, ok := t.tasks[key]
	if !ok {
		return
	}
	delete(t.tasks, key)
	cancel()
	metrics.ActiveTickers.WithLabelValues(t.kind).Set(float64(len(t.tasks)))
	t.log.Debug("ticker stopped", zap.String("session", key.String()))
}

// StopAll cancels every task.
func (t *Ticker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, cancel := range t.tasks {
		cancel()
		delete(t.tasks, key)
	}
	metrics.ActiveTickers.WithLabelValues(t.kind).Set(0)
}

// Running reports whether key is scheduled.
func (t *Ticker) Running(key SessionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[key]
	return ok
}

func (t *Ticker) run(key SessionKey) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TickPanicsTotal.WithLabelValues(t.kind).Inc()
			t.log.Error("tick panicked", zap.String("session", key.String()), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	metrics.TicksTotal.WithLabelValues(t.kind).Inc()
	t.onTick(key)
}
