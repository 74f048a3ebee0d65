package sessioncore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/metrics"
)

// Default propagation windows.
const (
	DefaultPersistWindow   = time.Second
	DefaultBroadcastWindow = 250 * time.Millisecond
)

// entry owns one live session. mu serializes every operation on state.
type entry struct {
	key  SessionKey
	once sync.Once

	mu             sync.Mutex
	state          *State
	persist        Throttle
	broadcast      Throttle
	flushScheduled bool
}

// Store is the registry of live sessions. Sessions are created on first use
// and live for the rest of the process.
type Store struct {
	log         *zap.Logger
	catalog     Catalog
	persistence Persistence

	persistWindow   time.Duration
	broadcastWindow time.Duration

	mu      sync.Mutex
	entries map[SessionKey]*entry
}

// NewStore creates an empty registry.
func NewStore(log *zap.Logger, catalog Catalog, persistence Persistence, persistWindow, broadcastWindow time.Duration) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if persistWindow <= 0 {
		persistWindow = DefaultPersistWindow
	}
	if broadcastWindow <= 0 {
		broadcastWindow = DefaultBroadcastWindow
	}
	return &Store{
		log:             log,
		catalog:         catalog,
		persistence:     persistence,
		persistWindow:   persistWindow,
		broadcastWindow: broadcastWindow,
		entries:         map[SessionKey]*entry{},
	}
}

// get returns the live entry for key, hydrating it on first access.
func (s *Store) get(ctx context.Context, key SessionKey) *entry {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{
			key:       key,
			persist:   NewThrottle(s.persistWindow),
			broadcast: NewThrottle(s.broadcastWindow),
		}
		s.entries[key] = e
		metrics.LiveSessions.WithLabelValues(key.Kind).Inc()
	}
	s.mu.Unlock()

	e.once.Do(func() {
		e.state = s.hydrate(ctx, key)
	})
	return e
}

// lookup returns a live entry without creating one.
func (s *Store) lookup(key SessionKey) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

// Keys lists live sessions in a stable order.
func (s *Store) Keys() []SessionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]SessionKey, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b SessionKey) int {
		return cmp.Or(strings.Compare(a.Kind, b.Kind), strings.Compare(a.ID, b.ID))
	})
	return keys
}

func (s *Store) hydrate(ctx context.Context, key SessionKey) *State {
	state := NewState(key)
	if s.persistence != nil {
		loaded, ok, err := s.persistence.Load(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("session load failed", zap.String("session", key.String()), zap.Error(err))
		case ok:
			loaded.Key = key
			state = &loaded
			state.Repair()
		}
	}

	if len(state.Cue) == 0 && !state.UsingSecondary && s.catalog != nil {
		all, err := s.catalog.FindAll(ctx)
		if err != nil {
			s.log.Warn("session seed failed", zap.String("session", key.String()), zap.Error(err))
		}
		ids := make([]ItemID, 0, len(all))
		for _, item := range all {
			ids = append(ids, item.ID)
		}
		state.Cue = dedupe(ids)
		state.OriginalCue = nil
		if len(state.Cue) > 0 {
			state.setIndex(0)
		}
	}

	state.Playing = false
	s.log.Debug("session hydrated",
		zap.String("session", key.String()),
		zap.Int("cue_length", len(state.Cue)),
		zap.Int64("current_item", int64(state.CurrentItemID)))
	return state
}
