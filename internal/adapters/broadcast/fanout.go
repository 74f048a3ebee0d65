package broadcast

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Fanout pushes each snapshot to every attached broadcaster.
type Fanout struct {
	log     *zap.Logger
	mu      sync.RWMutex
	targets []namedTarget
}

type namedTarget struct {
	name   string
	target sessioncore.Broadcaster
}

// NewFanout returns an empty fan-out.
func NewFanout(log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{log: log}
}

// Attach adds a broadcaster. Attaching after controllers start is allowed.
func (f *Fanout) Attach(name string, target sessioncore.Broadcaster) {
	if target == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, namedTarget{name: name, target: target})
}

// Len returns the number of attached broadcasters.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.targets)
}

// Push delivers to all targets. One failing target does not stop the others.
func (f *Fanout) Push(ctx context.Context, key sessioncore.SessionKey, state cue.SessionState) error {
	f.mu.RLock()
	targets := make([]namedTarget, len(f.targets))
	copy(targets, f.targets)
	f.mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if err := t.target.Push(ctx, key, state); err != nil {
			f.log.Warn("broadcast failed", zap.String("target", t.name), zap.String("session", key.String()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
