package sessioncore

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/mikey-austin/cuebox/pkg/cue"
)

type fakeCatalog struct {
	items []Item
	err   error
}

func newFakeCatalog(items ...Item) *fakeCatalog {
	return &fakeCatalog{items: items}
}

func (c *fakeCatalog) FindByID(_ context.Context, id ItemID) (Item, bool, error) {
	if c.err != nil {
		return Item{}, false, c.err
	}
	for _, item := range c.items {
		if item.ID == id {
			return item, true, nil
		}
	}
	return Item{}, false, nil
}

func (c *fakeCatalog) FindByIDs(ctx context.Context, ids []ItemID) ([]Item, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		if item, ok, _ := c.FindByID(ctx, id); ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *fakeCatalog) FindAll(context.Context) ([]Item, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]Item(nil), c.items...), nil
}

type fakePersistence struct {
	mu     sync.Mutex
	states map[SessionKey]State
	saves  int
	err    error
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{states: map[SessionKey]State{}}
}

func (p *fakePersistence) Load(_ context.Context, key SessionKey) (State, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[key]
	return state, ok, nil
}

func (p *fakePersistence) Save(_ context.Context, key SessionKey, state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.err != nil {
		return p.err
	}
	p.states[key] = state
	return nil
}

func (p *fakePersistence) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	pushes []cue.SessionState
}

func (b *fakeBroadcaster) Push(_ context.Context, _ SessionKey, state cue.SessionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushes = append(b.pushes, state)
	return nil
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pushes)
}

func (b *fakeBroadcaster) last() cue.SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushes[len(b.pushes)-1]
}

type fakeHistory struct {
	mu      sync.Mutex
	entries map[SessionKey][]ItemID
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{entries: map[SessionKey][]ItemID{}}
}

func (h *fakeHistory) Record(_ context.Context, key SessionKey, id ItemID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[key] = append(h.entries[key], id)
	return nil
}

func (h *fakeHistory) RecentItemIDs(_ context.Context, key SessionKey, count int) ([]ItemID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.entries[key]
	out := make([]ItemID, 0, count)
	for i := len(all) - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (h *fakeHistory) recorded(key SessionKey) []ItemID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ItemID(nil), h.entries[key]...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scheduledTask struct {
	interval  time.Duration
	fn        func()
	cancelled bool
}

type manualScheduler struct {
	mu    sync.Mutex
	every []*scheduledTask
	after []*scheduledTask
}

func (m *manualScheduler) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &scheduledTask{interval: interval, fn: fn}
	m.every = append(m.every, task)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		task.cancelled = true
	}
}

func (m *manualScheduler) After(delay time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &scheduledTask{interval: delay, fn: fn}
	m.after = append(m.after, task)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		task.cancelled = true
	}
}

func (m *manualScheduler) activeTasks() []*scheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scheduledTask
	for _, task := range m.every {
		if !task.cancelled {
			out = append(out, task)
		}
	}
	return out
}

// tick fires every live periodic task once.
func (m *manualScheduler) tick() {
	for _, task := range m.activeTasks() {
		task.fn()
	}
}

// flush runs pending one-shot callbacks.
func (m *manualScheduler) flush() int {
	m.mu.Lock()
	pending := m.after
	m.after = nil
	m.mu.Unlock()
	ran := 0
	for _, task := range pending {
		if !task.cancelled {
			task.fn()
			ran++
		}
	}
	return ran
}

func (m *manualScheduler) pendingAfter() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.after)
}

var errBoom = errors.New("boom")

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func newTestEngine(catalog Catalog, secondary bool) *Engine {
	return NewEngine(nil, catalog, secondary, testRand())
}

func stateWith(cue []ItemID, index int) *State {
	s := NewState(SessionKey{Kind: "audio", ID: "alice"})
	s.Cue = append([]ItemID(nil), cue...)
	if index >= 0 {
		s.setIndex(index)
	}
	return s
}

func ids(values ...int64) []ItemID {
	out := make([]ItemID, 0, len(values))
	for _, v := range values {
		out = append(out, ItemID(v))
	}
	return out
}

func assertCue(t *testing.T, got []ItemID, want []ItemID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected cue %v, got %v", want, got)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("expected cue %v, got %v", want, got)
		}
	}
}

func assertInvariant(t *testing.T, s *State) {
	t.Helper()
	active := s.ActiveCue()
	if len(active) == 0 {
		if s.CueIndex != -1 || s.CurrentItemID != NoItem {
			t.Fatalf("empty cue must have index -1 and no item, got %d/%d", s.CueIndex, s.CurrentItemID)
		}
		return
	}
	if s.CueIndex < 0 || s.CueIndex >= len(active) {
		t.Fatalf("index %d out of range for %v", s.CueIndex, active)
	}
	if active[s.CueIndex] != s.CurrentItemID {
		t.Fatalf("current %d does not match cue[%d]=%d", s.CurrentItemID, s.CueIndex, active[s.CueIndex])
	}
}
