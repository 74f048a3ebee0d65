package sessioncore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type controllerFixture struct {
	controller  *Controller
	catalog     *fakeCatalog
	persistence *fakePersistence
	broadcaster *fakeBroadcaster
	history     *fakeHistory
	clock       *fakeClock
	scheduler   *manualScheduler
}

func newControllerFixture(t *testing.T, variant Variant, items ...Item) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		catalog:     newFakeCatalog(items...),
		persistence: newFakePersistence(),
		broadcaster: &fakeBroadcaster{},
		history:     newFakeHistory(),
		clock:       newFakeClock(),
		scheduler:   &manualScheduler{},
	}
	controller, err := NewController(nil, variant, Deps{
		Catalog:     f.catalog,
		Persistence: f.persistence,
		Broadcaster: f.broadcaster,
		History:     f.history,
		Clock:       f.clock,
		Scheduler:   f.scheduler,
		Rand:        testRand(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	f.controller = controller
	return f
}

func audioItems() []Item {
	return []Item{
		{ID: 1, Kind: "audio", Title: "One", Artist: "A", Genre: "Rock", BPM: 120, Duration: 1},
		{ID: 2, Kind: "audio", Title: "Two", Artist: "B", Genre: "Rock", BPM: 118, Duration: 100},
		{ID: 3, Kind: "audio", Title: "Three", Artist: "C", Genre: "Jazz", BPM: 90, Duration: 100},
	}
}

func TestNewControllerValidates(t *testing.T) {
	if _, err := NewController(nil, Variant{}, Deps{Catalog: newFakeCatalog()}); err == nil {
		t.Fatalf("expected kind error")
	}
	if _, err := NewController(nil, AudioVariant(), Deps{}); err == nil {
		t.Fatalf("expected catalog error")
	}
}

func TestControllerStateSeedsPaused(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)

	state := f.controller.State(context.Background(), "alice")

	assertCue(t, state.Cue, ids(1, 2, 3))
	if state.Playing || state.CurrentItemID != 1 || state.Volume != DefaultVolume {
		t.Fatalf("unexpected state %+v", state)
	}
	if f.persistence.saveCount() != 0 || f.broadcaster.count() != 0 {
		t.Fatalf("reading state must not propagate")
	}
}

func TestSelectItemTogglesOrChangesTrack(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	key := f.controller.Key("alice")

	state := f.controller.SelectItem(ctx, "alice", 1)
	if !state.Playing || !f.controller.ticker.Running(key) {
		t.Fatalf("expected playback started")
	}
	state = f.controller.SelectItem(ctx, "alice", 1)
	if state.Playing || f.controller.ticker.Running(key) {
		t.Fatalf("expected playback paused")
	}

	f.clock.Advance(time.Second)
	state = f.controller.SelectItem(ctx, "alice", 3)
	if state.CurrentItemID != 3 || !state.Playing || state.CurrentTime != 0 {
		t.Fatalf("expected track change, got %+v", state)
	}
	if state.Title != "Three" || state.Artist != "C" || state.Duration != 100 {
		t.Fatalf("expected metadata refresh, got %+v", state)
	}
	if !state.LastUpdateTime.Equal(f.clock.Now()) {
		t.Fatalf("expected last update stamp")
	}
	assertCue(t, f.history.recorded(key), ids(1))
}

func TestUnknownItemGetsPlaceholders(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)

	state := f.controller.SelectItem(context.Background(), "alice", 99)

	if state.Title != UnknownTitle || state.Artist != UnknownArtist || state.Duration != 0 {
		t.Fatalf("expected placeholders, got %+v", state)
	}
	if state.CurrentItemID != 99 {
		t.Fatalf("expected unknown item still selected")
	}
}

func TestVideoMetadataUsesSeries(t *testing.T) {
	items := []Item{{ID: 5, Kind: "video", Title: "Pilot", Series: "Show", Season: 1, Episode: 2, Duration: 1800}}
	f := newControllerFixture(t, VideoVariant(), items...)

	state := f.controller.TogglePlay(context.Background(), "alice")

	if state.Artist != "Show" || state.EpisodeInfo != "S01E02" || state.Duration != 1800 {
		t.Fatalf("unexpected video metadata %+v", state)
	}
}

func TestVideoSharedKeyAcrossProfiles(t *testing.T) {
	f := newControllerFixture(t, VideoVariant(), Item{ID: 5, Duration: 10})
	ctx := context.Background()

	f.controller.SetVolume(ctx, "alice", 0.25)
	state := f.controller.State(ctx, "bob")

	if state.Volume != 0.25 || state.Key.ID != "living-room" {
		t.Fatalf("expected shared video session, got %+v", state)
	}
}

func TestAudioSessionsIndependent(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()

	f.controller.SetVolume(ctx, "alice", 0.25)
	state := f.controller.State(ctx, "bob")

	if state.Volume != DefaultVolume {
		t.Fatalf("expected independent profile sessions")
	}
}

func TestTickAdvancesPosition(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	f.controller.SelectItem(ctx, "alice", 2)

	f.scheduler.tick()

	state := f.controller.State(ctx, "alice")
	if state.CurrentTime != 0.5 || state.CurrentItemID != 2 {
		t.Fatalf("expected half a second elapsed, got %+v", state)
	}
}

func TestTickNaturalEndAdvances(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	key := f.controller.Key("alice")
	f.controller.TogglePlay(ctx, "alice")
	saves := f.persistence.saveCount()

	f.scheduler.tick()
	f.scheduler.tick()

	state := f.controller.State(ctx, "alice")
	assertCue(t, state.Cue, ids(2, 3))
	if state.CurrentItemID != 2 || !state.Playing || state.CurrentTime != 0 || state.Duration != 100 {
		t.Fatalf("expected auto advance, got %+v", state)
	}
	assertCue(t, f.history.recorded(key), ids(1))
	if f.persistence.saveCount() <= saves {
		t.Fatalf("expected natural end to persist")
	}
}

func TestTickNoopWhenPaused(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	key := f.controller.Key("alice")
	f.controller.State(ctx, "alice")

	f.controller.tick(key)

	if state := f.controller.State(ctx, "alice"); state.CurrentTime != 0 {
		t.Fatalf("paused session must not tick")
	}
}

func TestPreviousRestartsPastThreshold(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	f.controller.SelectItem(ctx, "alice", 2)
	f.controller.Seek(ctx, "alice", 10)

	state := f.controller.Previous(ctx, "alice")

	if state.CurrentItemID != 2 || state.CurrentTime != 0 {
		t.Fatalf("expected restart, got %+v", state)
	}
}

func TestPreviousStepsBack(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	f.controller.SelectItem(ctx, "alice", 2)

	state := f.controller.Previous(ctx, "alice")

	if state.CurrentItemID != 1 || state.CueIndex != 0 {
		t.Fatalf("expected previous slot, got %+v", state)
	}
	assertCue(t, f.history.recorded(f.controller.Key("alice")), ids(1, 2))
}

func TestPreviousAtStartUsesHistory(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	key := f.controller.Key("alice")
	f.controller.State(ctx, "alice")
	_ = f.history.Record(ctx, key, 7)
	_ = f.history.Record(ctx, key, 1)

	state := f.controller.Previous(ctx, "alice")

	assertCue(t, state.Cue, ids(7, 1, 2, 3))
	if state.CurrentItemID != 7 || state.CueIndex != 0 {
		t.Fatalf("expected history item spliced in front, got %+v", state)
	}
	assertCue(t, f.history.recorded(key), ids(7, 1))
}

func TestPreviousAtStartWithoutHistory(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)

	state := f.controller.Previous(context.Background(), "alice")

	if state.CurrentItemID != 1 || state.CueIndex != 0 {
		t.Fatalf("expected to stay at head, got %+v", state)
	}
}

func TestBroadcastThrottleFlushesTrailingChange(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()

	f.controller.SetVolume(ctx, "alice", 0.2)
	f.controller.SetVolume(ctx, "alice", 0.3)
	f.controller.SetVolume(ctx, "alice", 0.4)

	if f.broadcaster.count() != 1 {
		t.Fatalf("expected one immediate push, got %d", f.broadcaster.count())
	}
	if f.scheduler.pendingAfter() != 1 {
		t.Fatalf("expected one trailing flush, got %d", f.scheduler.pendingAfter())
	}

	f.clock.Advance(250 * time.Millisecond)
	f.scheduler.flush()

	if f.broadcaster.count() != 2 || f.broadcaster.last().Volume != 0.4 {
		t.Fatalf("expected trailing push with latest state, got %+v", f.broadcaster.last())
	}

	f.controller.SetVolume(ctx, "alice", 0.5)
	if f.broadcaster.count() != 2 {
		t.Fatalf("expected window restarted by trailing push")
	}
}

func TestPersistForcedOnCommandsNotOnTicks(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()

	f.controller.SelectItem(ctx, "alice", 2)
	f.controller.SetVolume(ctx, "alice", 0.5)
	if f.persistence.saveCount() != 2 {
		t.Fatalf("expected forced saves, got %d", f.persistence.saveCount())
	}

	broadcasts := f.broadcaster.count()
	f.scheduler.tick()
	f.clock.Advance(time.Second)
	f.scheduler.tick()
	if f.persistence.saveCount() != 2 {
		t.Fatalf("ticks must not persist, got %d saves", f.persistence.saveCount())
	}
	if f.broadcaster.count() <= broadcasts {
		t.Fatalf("expected ticks to broadcast")
	}

	f.controller.Close(ctx)
	if f.persistence.saveCount() != 3 {
		t.Fatalf("expected close to flush position, got %d", f.persistence.saveCount())
	}
}

func TestQueuePageClampsHugePage(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	f.controller.PlayItems(ctx, "alice", []ItemID{1, 2, 3})

	page := f.controller.QueuePage(ctx, "alice", 1<<61, 4)
	if len(page.Items) != 0 || page.Total != 3 || page.Offset != 3 {
		t.Fatalf("expected empty page past the end, got %+v", page)
	}

	page = f.controller.QueuePage(ctx, "alice", 1, 2)
	if page.Offset != 2 || len(page.Items) != 1 || page.Items[0].ID != 3 {
		t.Fatalf("unexpected last page: %+v", page)
	}
}

func TestGatewayFailuresAreSwallowed(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	f.persistence.err = errBoom

	state := f.controller.SetVolume(context.Background(), "alice", 0.1)

	if state.Volume != 0.1 {
		t.Fatalf("state must change despite persistence failure")
	}
}

func TestClearQueueStopsTicker(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	f.controller.TogglePlay(ctx, "alice")

	state := f.controller.ClearQueue(ctx, "alice")

	if state.Playing || len(state.Cue) != 0 || f.controller.ticker.Running(f.controller.Key("alice")) {
		t.Fatalf("expected cleared stopped session")
	}
}

func TestQueueEditsThroughController(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()

	f.controller.AddToQueue(ctx, "alice", ids(9, 8), true)
	f.controller.MoveInQueue(ctx, "alice", 3, 4)
	f.controller.RemoveFromQueue(ctx, "alice", 8)
	state := f.controller.RemoveFromQueueAt(ctx, "alice", 0)

	assertCue(t, state.Cue, ids(9, 3, 2))
	if state.CurrentItemID != 9 {
		t.Fatalf("expected 9 current after removing head, got %d", state.CurrentItemID)
	}

	state = f.controller.SkipToQueueIndex(ctx, "alice", 2)
	assertCue(t, state.Cue, ids(2))
	if !state.Playing {
		t.Fatalf("expected playback after jump")
	}

	state = f.controller.PlayItems(ctx, "alice", ids(2, 1))
	assertCue(t, state.Cue, ids(2, 1))
	state = f.controller.ToggleRepeat(ctx, "alice")
	if state.RepeatMode != RepeatOne {
		t.Fatalf("expected repeat one")
	}
	state = f.controller.ToggleShuffle(ctx, "alice")
	if state.ShuffleMode != ShuffleOn || state.Cue[0] != 2 {
		t.Fatalf("expected shuffle with current pinned, got %+v", state.Cue)
	}
	state = f.controller.Next(ctx, "alice")
	if state.CurrentItemID != 1 {
		t.Fatalf("expected next item, got %d", state.CurrentItemID)
	}
}

func TestQueuePage(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	f.controller.PlayItems(ctx, "alice", ids(1, 2, 42, 3, 4))

	page := f.controller.QueuePage(ctx, "alice", 1, 2)

	if page.Total != 5 || page.Index != 0 || len(page.Items) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[0].ID != 42 || page.Items[0].Title != UnknownTitle {
		t.Fatalf("expected placeholder item, got %+v", page.Items[0])
	}
	if page.Items[1].Title != "Three" {
		t.Fatalf("expected catalog item, got %+v", page.Items[1])
	}

	if all := f.controller.Queue(ctx, "alice"); len(all) != 5 {
		t.Fatalf("expected whole queue, got %d", len(all))
	}
	if empty := f.controller.QueuePage(ctx, "alice", 9, 2); len(empty.Items) != 0 {
		t.Fatalf("expected empty page")
	}
}

func TestCloseFlushesSessions(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()
	f.controller.TogglePlay(ctx, "alice")
	f.controller.State(ctx, "bob")
	saves := f.persistence.saveCount()

	f.controller.Close(ctx)

	if f.persistence.saveCount() != saves+2 {
		t.Fatalf("expected one flush per session, got %d", f.persistence.saveCount()-saves)
	}
	if len(f.scheduler.activeTasks()) != 0 {
		t.Fatalf("expected tickers cancelled")
	}
}

func TestConcurrentProfilesKeepInvariant(t *testing.T) {
	f := newControllerFixture(t, AudioVariant(), audioItems()...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		profile := fmt.Sprintf("p%d", p)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				switch i % 5 {
				case 0:
					f.controller.AddToQueue(ctx, profile, ids(int64(i+10)), i%2 == 0)
				case 1:
					f.controller.Next(ctx, profile)
				case 2:
					f.controller.ToggleShuffle(ctx, profile)
				case 3:
					f.controller.TogglePlay(ctx, profile)
				case 4:
					f.controller.Previous(ctx, profile)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			f.scheduler.tick()
		}
	}()
	wg.Wait()

	for p := 0; p < 4; p++ {
		state := f.controller.State(ctx, fmt.Sprintf("p%d", p))
		assertInvariant(t, &state)
	}
}
