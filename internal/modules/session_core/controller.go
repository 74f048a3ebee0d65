package sessioncore

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/metrics"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Placeholder metadata for items missing from the catalog.
const (
	UnknownTitle  = "Unknown Title"
	UnknownArtist = "Unknown Artist"
)

// restartThreshold is how far into an item Previous restarts it instead of
// moving back.
const restartThreshold = 3.0

// Variant describes one family of sessions.
type Variant struct {
	Kind            string
	TickInterval    time.Duration
	SecondaryQueue  bool
	SharedKey       string
	PersistWindow   time.Duration
	BroadcastWindow time.Duration
}

// AudioVariant is one session per profile with a whole-catalog fallback.
func AudioVariant() Variant {
	return Variant{Kind: cue.KindAudio, TickInterval: 500 * time.Millisecond, SecondaryQueue: true}
}

// VideoVariant is one house-wide session.
func VideoVariant() Variant {
	return Variant{Kind: cue.KindVideo, TickInterval: 300 * time.Millisecond, SharedKey: "living-room"}
}

// Deps are the collaborators of a controller. Only Catalog is required.
type Deps struct {
	Catalog     Catalog
	Persistence Persistence
	Broadcaster Broadcaster
	History     History
	Clock       Clock
	Scheduler   Scheduler
	Rand        *rand.Rand
}

// QueuePage is one page of the primary cue.
type QueuePage struct {
	Page  int
	Size  int
	Total int
	Index int
	// Offset is the cue position of Items[0].
	Offset int
	Items  []Item
}

// Controller is the session facade. Operations never fail; gateway errors
// are logged and the in-memory state stays authoritative.
type Controller struct {
	log         *zap.Logger
	variant     Variant
	catalog     Catalog
	persistence Persistence
	broadcaster Broadcaster
	history     History
	clock       Clock
	scheduler   Scheduler

	store  *Store
	engine *Engine
	ticker *Ticker
}

// NewController wires a controller for one variant.
func NewController(log *zap.Logger, variant Variant, deps Deps) (*Controller, error) {
	if strings.TrimSpace(variant.Kind) == "" {
		return nil, errors.New("variant kind required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if variant.TickInterval <= 0 {
		variant.TickInterval = 500 * time.Millisecond
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = TimeScheduler{}
	}

	c := &Controller{
		log:         log,
		variant:     variant,
		catalog:     deps.Catalog,
		persistence: deps.Persistence,
		broadcaster: deps.Broadcaster,
		history:     deps.History,
		clock:       deps.Clock,
		scheduler:   deps.Scheduler,
	}
	c.store = NewStore(log, deps.Catalog, deps.Persistence, variant.PersistWindow, variant.BroadcastWindow)
	c.engine = NewEngine(log, deps.Catalog, variant.SecondaryQueue, deps.Rand)
	c.ticker = NewTicker(log, variant.Kind, deps.Scheduler, variant.TickInterval, c.tick)
	return c, nil
}

// Kind returns the variant kind.
func (c *Controller) Kind() string {
	return c.variant.Kind
}

// Key resolves the session a profile controls.
func (c *Controller) Key(profile string) SessionKey {
	if c.variant.SharedKey != "" {
		return SessionKey{Kind: c.variant.Kind, ID: c.variant.SharedKey}
	}
	return SessionKey{Kind: c.variant.Kind, ID: profile}
}

// Sessions lists the sessions held in memory.
func (c *Controller) Sessions() []SessionKey {
	return c.store.Keys()
}

// State returns a copy of the session.
func (c *Controller) State(ctx context.Context, profile string) State {
	e := c.store.get(ctx, c.Key(profile))
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// SelectItem toggles play when id is current, otherwise plays id from the start.
func (c *Controller) SelectItem(ctx context.Context, profile string, id ItemID) State {
	return c.mutate(ctx, profile, func(s *State) {
		if id == s.CurrentItemID && id != NoItem {
			c.engine.TogglePlay(s)
			return
		}
		c.engine.Select(s, id)
	})
}

// PlayItems replaces the cue with ids and starts the first one.
func (c *Controller) PlayItems(ctx context.Context, profile string, ids []ItemID) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.PopulateCue(ctx, s, ids)
	})
}

// TogglePlay flips between playing and paused.
func (c *Controller) TogglePlay(ctx context.Context, profile string) State {
	return c.mutate(ctx, profile, c.engine.TogglePlay)
}

// Next skips forward.
func (c *Controller) Next(ctx context.Context, profile string) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.Advance(ctx, s, true, false)
		metrics.AdvancesTotal.WithLabelValues(c.variant.Kind, "skip").Inc()
	})
}

// Previous restarts the current item when past the threshold, otherwise
// steps back in the cue or, at its start, into history.
func (c *Controller) Previous(ctx context.Context, profile string) State {
	key := c.Key(profile)
	return c.update(ctx, key, func(s *State) bool {
		if s.CurrentTime > restartThreshold {
			s.CurrentTime = 0
			return true
		}
		if s.UsingSecondary || s.CueIndex > 0 {
			c.engine.Advance(ctx, s, false, false)
			return true
		}
		if id := c.previousFromHistory(ctx, key, s.CurrentItemID); id != NoItem {
			c.engine.PlayFirst(s, id)
			return false
		}
		c.engine.Advance(ctx, s, false, false)
		return true
	})
}

// Seek moves the playback position.
func (c *Controller) Seek(ctx context.Context, profile string, seconds float64) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.SetSeconds(s, seconds)
	})
}

// SetVolume changes the volume.
func (c *Controller) SetVolume(ctx context.Context, profile string, volume float64) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.ChangeVolume(s, volume)
	})
}

// ToggleShuffle cycles OFF, SHUFFLE and SMART_SHUFFLE.
func (c *Controller) ToggleShuffle(ctx context.Context, profile string) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.ToggleShuffle(ctx, s)
	})
}

// ToggleRepeat cycles OFF, ONE and ALL.
func (c *Controller) ToggleRepeat(ctx context.Context, profile string) State {
	return c.mutate(ctx, profile, c.engine.ToggleRepeat)
}

// AddToQueue queues ids at the end, or right after the current item.
func (c *Controller) AddToQueue(ctx context.Context, profile string, ids []ItemID, playNext bool) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.AddToQueue(s, ids, playNext)
	})
}

// RemoveFromQueue removes an item by id.
func (c *Controller) RemoveFromQueue(ctx context.Context, profile string, id ItemID) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.RemoveFromQueue(s, id)
	})
}

// RemoveFromQueueAt removes the entry at index.
func (c *Controller) RemoveFromQueueAt(ctx context.Context, profile string, index int) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.RemoveAt(s, index)
	})
}

// MoveInQueue relocates one entry.
func (c *Controller) MoveInQueue(ctx context.Context, profile string, from, to int) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.MoveInQueue(s, from, to)
	})
}

// ClearQueue empties the session and stops playback.
func (c *Controller) ClearQueue(ctx context.Context, profile string) State {
	return c.mutate(ctx, profile, c.engine.ClearQueue)
}

// SkipToQueueIndex drops the entries before index and plays it.
func (c *Controller) SkipToQueueIndex(ctx context.Context, profile string, index int) State {
	return c.mutate(ctx, profile, func(s *State) {
		c.engine.SkipToQueueIndex(s, index)
	})
}

// Queue returns every item of the primary cue.
func (c *Controller) Queue(ctx context.Context, profile string) []Item {
	page := c.QueuePage(ctx, profile, 0, 0)
	return page.Items
}

// QueuePage returns a zero-based page of the primary cue. size <= 0 returns
// the whole cue.
func (c *Controller) QueuePage(ctx context.Context, profile string, page, size int) QueuePage {
	e := c.store.get(ctx, c.Key(profile))
	e.mu.Lock()
	ids := append([]ItemID(nil), e.state.Cue...)
	index := e.state.CueIndex
	if e.state.UsingSecondary {
		index = -1
	}
	e.mu.Unlock()

	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = len(ids)
		page = 0
	}
	start := len(ids)
	if size > 0 && page <= len(ids)/size {
		start = page * size
	}
	end := start + min(size, len(ids)-start)
	out := QueuePage{Page: page, Size: size, Total: len(ids), Index: index, Offset: start}
	window := ids[start:end]
	if len(window) == 0 {
		out.Items = []Item{}
		return out
	}

	found := map[ItemID]Item{}
	items, err := c.catalog.FindByIDs(ctx, window)
	if err != nil {
		c.log.Warn("queue lookup failed", zap.String("kind", c.variant.Kind), zap.Error(err))
	}
	for _, item := range items {
		found[item.ID] = item
	}
	out.Items = make([]Item, 0, len(window))
	for _, id := range window {
		item, ok := found[id]
		if !ok {
			item = Item{ID: id, Kind: c.variant.Kind, Title: UnknownTitle, Artist: UnknownArtist}
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// Close stops every ticker and flushes each live session.
func (c *Controller) Close(ctx context.Context) {
	c.ticker.StopAll()
	for _, key := range c.store.Keys() {
		e := c.store.get(ctx, key)
		e.mu.Lock()
		c.persist(ctx, e, true)
		e.mu.Unlock()
	}
}

func (c *Controller) mutate(ctx context.Context, profile string, fn func(s *State)) State {
	return c.update(ctx, c.Key(profile), func(s *State) bool {
		fn(s)
		return true
	})
}

// update runs fn under the session lock and propagates the result. fn
// reports whether a replaced current item goes into history.
func (c *Controller) update(ctx context.Context, key SessionKey, fn func(s *State) bool) State {
	e := c.store.get(ctx, key)
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.state.CurrentItemID
	record := fn(e.state)
	if record {
		c.recordHistory(ctx, key, previous, e.state.CurrentItemID)
	}
	c.afterUpdate(ctx, e, true)
	return e.state.Clone()
}

func (c *Controller) afterUpdate(ctx context.Context, e *entry, forcePersist bool) {
	c.refreshMetadata(ctx, e.state)
	e.state.LastUpdateTime = c.clock.Now()
	if e.state.Playing && e.state.CurrentItemID != NoItem {
		c.ticker.Start(e.key)
	} else {
		c.ticker.Stop(e.key)
	}
	c.persist(ctx, e, forcePersist)
	c.broadcast(ctx, e)
}

func (c *Controller) tick(key SessionKey) {
	e, ok := c.store.lookup(key)
	if !ok {
		return
	}
	ctx := context.Background()

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	if s == nil || !s.Playing || s.CurrentItemID == NoItem {
		return
	}
	s.CurrentTime += c.ticker.Interval().Seconds()
	if s.Duration > 0 && s.CurrentTime >= s.Duration {
		previous := s.CurrentItemID
		c.engine.Advance(ctx, s, true, true)
		metrics.AdvancesTotal.WithLabelValues(c.variant.Kind, "natural_end").Inc()
		c.recordHistory(ctx, key, previous, s.CurrentItemID)
		c.afterUpdate(ctx, e, true)
		return
	}

	// Position ticks only broadcast; Close and user actions persist.
	s.LastUpdateTime = c.clock.Now()
	c.broadcast(ctx, e)
}

func (c *Controller) recordHistory(ctx context.Context, key SessionKey, previous, current ItemID) {
	if c.history == nil || previous == NoItem || previous == current {
		return
	}
	if err := c.history.Record(ctx, key, previous); err != nil {
		c.log.Warn("history record failed", zap.String("session", key.String()), zap.Int64("item_id", int64(previous)), zap.Error(err))
	}
}

// previousFromHistory returns the latest history entry other than current.
func (c *Controller) previousFromHistory(ctx context.Context, key SessionKey, current ItemID) ItemID {
	if c.history == nil {
		return NoItem
	}
	ids, err := c.history.RecentItemIDs(ctx, key, 2)
	if err != nil {
		c.log.Warn("history lookup failed", zap.String("session", key.String()), zap.Error(err))
		return NoItem
	}
	for _, id := range ids {
		if id != NoItem && id != current {
			return id
		}
	}
	return NoItem
}

func (c *Controller) refreshMetadata(ctx context.Context, s *State) {
	s.Title, s.Artist, s.Album, s.Genre, s.EpisodeInfo = "", "", "", "", ""
	if s.CurrentItemID == NoItem {
		s.Duration = 0
		return
	}
	item, ok, err := c.catalog.FindByID(ctx, s.CurrentItemID)
	if err != nil {
		c.log.Warn("catalog lookup failed", zap.Int64("item_id", int64(s.CurrentItemID)), zap.Error(err))
	}
	if err != nil || !ok {
		s.Title = UnknownTitle
		s.Artist = UnknownArtist
		s.Duration = 0
		return
	}
	s.Title = item.Title
	s.Artist = item.Artist
	if item.Series != "" {
		s.Artist = item.Series
	}
	s.Album = item.Album
	s.Genre = item.Genre
	s.EpisodeInfo = item.EpisodeInfo()
	s.Duration = item.Duration
}

func (c *Controller) persist(ctx context.Context, e *entry, force bool) {
	if c.persistence == nil {
		return
	}
	if !e.persist.Allow(c.clock.Now(), force) {
		metrics.PersistTotal.WithLabelValues(c.variant.Kind, "throttled").Inc()
		return
	}
	if err := c.persistence.Save(ctx, e.key, e.state.Clone()); err != nil {
		metrics.PersistTotal.WithLabelValues(c.variant.Kind, "error").Inc()
		c.log.Warn("session save failed", zap.String("session", e.key.String()), zap.Error(err))
		return
	}
	metrics.PersistTotal.WithLabelValues(c.variant.Kind, "ok").Inc()
}

// broadcast pushes now when the window is open, otherwise schedules one
// trailing push so the last change inside a window is not lost.
func (c *Controller) broadcast(ctx context.Context, e *entry) {
	if c.broadcaster == nil {
		return
	}
	now := c.clock.Now()
	if e.broadcast.Allow(now, false) {
		c.push(ctx, e)
		return
	}
	metrics.BroadcastTotal.WithLabelValues(c.variant.Kind, "throttled").Inc()
	if e.flushScheduled {
		return
	}
	e.flushScheduled = true
	c.scheduler.After(e.broadcast.Remaining(now), func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.flushScheduled = false
		e.broadcast.Allow(c.clock.Now(), true)
		c.push(context.Background(), e)
	})
}

func (c *Controller) push(ctx context.Context, e *entry) {
	if err := c.broadcaster.Push(ctx, e.key, e.state.Snapshot()); err != nil {
		metrics.BroadcastTotal.WithLabelValues(c.variant.Kind, "error").Inc()
		c.log.Warn("session broadcast failed", zap.String("session", e.key.String()), zap.Error(err))
		return
	}
	metrics.BroadcastTotal.WithLabelValues(c.variant.Kind, "ok").Inc()
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
