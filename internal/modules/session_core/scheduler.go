package sessioncore

import (
	"sync"
	"time"
)

// TimeScheduler runs callbacks on real timers.
type TimeScheduler struct{}

// Every runs fn on each interval until cancelled.
func (TimeScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// After runs fn once after delay unless cancelled first.
func (TimeScheduler) After(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() {
		timer.Stop()
	}
}
