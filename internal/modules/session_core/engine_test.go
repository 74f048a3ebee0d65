package sessioncore

import (
	"context"
	"testing"
)

func TestPopulateCueDedupesAndPlays(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(9), 0)
	s.OriginalCue = ids(9)
	s.CurrentTime = 40

	engine.PopulateCue(context.Background(), s, ids(1, 2, 2, 3, 1))

	assertCue(t, s.Cue, ids(1, 2, 3))
	if len(s.OriginalCue) != 0 {
		t.Fatalf("expected original cue cleared")
	}
	if !s.Playing || s.CurrentItemID != 1 || s.CurrentTime != 0 {
		t.Fatalf("unexpected state %+v", s)
	}
	assertInvariant(t, s)

	engine.PopulateCue(context.Background(), s, nil)
	if s.Playing || s.CueIndex != -1 {
		t.Fatalf("expected empty populate to stop")
	}
	assertInvariant(t, s)
}

func TestPopulateCueReappliesShuffle(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(nil, -1)
	s.ShuffleMode = ShuffleOn

	engine.PopulateCue(context.Background(), s, ids(1, 2, 3, 4, 5))

	assertCue(t, s.OriginalCue, ids(1, 2, 3, 4, 5))
	if s.Cue[0] != 1 || s.CurrentItemID != 1 {
		t.Fatalf("expected first item pinned, got %v", s.Cue)
	}
	assertInvariant(t, s)
}

func TestAddToQueuePositions(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(1, 2, 3), 1)

	engine.AddToQueue(s, ids(4, 2), false)
	assertCue(t, s.Cue, ids(1, 2, 3, 4))

	engine.AddToQueue(s, ids(5, 6), true)
	assertCue(t, s.Cue, ids(1, 2, 5, 6, 3, 4))
	if s.CurrentItemID != 2 || s.CueIndex != 1 {
		t.Fatalf("expected current unchanged, got %d at %d", s.CurrentItemID, s.CueIndex)
	}
	assertInvariant(t, s)
}

func TestAddToQueueMirrorsOriginalCue(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(3, 1, 2), 0)
	s.OriginalCue = ids(1, 2, 3)

	engine.AddToQueue(s, ids(7), true)
	assertCue(t, s.Cue, ids(3, 7, 1, 2))
	assertCue(t, s.OriginalCue, ids(1, 2, 3, 7))

	engine.AddToQueue(s, ids(8), false)
	assertCue(t, s.OriginalCue, ids(1, 2, 3, 7, 8))
}

func TestAddToQueueEmptySelectsWithoutPlaying(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(nil, -1)

	engine.AddToQueue(s, ids(4, 5), false)

	if s.CurrentItemID != 4 || s.CueIndex != 0 || s.Playing {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestAddToQueueLeavesSecondary(t *testing.T) {
	engine := newTestEngine(nil, true)
	s := stateWith(nil, -1)
	s.SecondaryCue = ids(10, 11, 12)
	s.UsingSecondary = true
	s.setIndex(1)
	s.Playing = true

	engine.AddToQueue(s, ids(20, 21), false)

	if s.UsingSecondary {
		t.Fatalf("expected switch to primary cue")
	}
	assertCue(t, s.Cue, ids(20, 21))
	if s.CurrentItemID != 20 || s.CueIndex != 0 || !s.Playing {
		t.Fatalf("expected anchor at first new item, got %+v", s)
	}
	assertInvariant(t, s)
}

func TestRemoveFromQueueCurrentAndBefore(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(1, 2, 3, 4), 2)
	s.OriginalCue = ids(4, 3, 2, 1)

	engine.RemoveFromQueue(s, 1)
	assertCue(t, s.Cue, ids(2, 3, 4))
	assertCue(t, s.OriginalCue, ids(4, 3, 2))
	if s.CurrentItemID != 3 || s.CueIndex != 1 {
		t.Fatalf("expected index shift, got %d at %d", s.CurrentItemID, s.CueIndex)
	}

	engine.RemoveFromQueue(s, 3)
	if s.CurrentItemID != 4 || s.CueIndex != 1 {
		t.Fatalf("expected next item selected, got %d at %d", s.CurrentItemID, s.CueIndex)
	}

	engine.RemoveFromQueue(s, 4)
	if s.CurrentItemID != 2 || s.CueIndex != 0 {
		t.Fatalf("expected clamp to last, got %d at %d", s.CurrentItemID, s.CueIndex)
	}
	assertInvariant(t, s)

	engine.RemoveFromQueue(s, 99)
	assertCue(t, s.Cue, ids(2))
}

func TestRemoveLastItemStops(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(7), 0)
	s.Playing = true

	engine.RemoveFromQueue(s, 7)

	if s.Playing || s.CurrentItemID != NoItem || s.CueIndex != -1 {
		t.Fatalf("expected stopped empty session, got %+v", s)
	}
}

func TestRemoveAtOutOfRange(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(1, 2), 0)
	engine.RemoveAt(s, 5)
	engine.RemoveAt(s, -1)
	assertCue(t, s.Cue, ids(1, 2))

	engine.RemoveAt(s, 1)
	assertCue(t, s.Cue, ids(1))
}

func TestMoveInQueueKeepsCurrent(t *testing.T) {
	cases := []struct {
		name      string
		from, to  int
		want      []ItemID
		wantIndex int
	}{
		{name: "moved current", from: 2, to: 0, want: ids(3, 1, 2, 4, 5), wantIndex: 0},
		{name: "from below across current", from: 0, to: 3, want: ids(2, 3, 4, 1, 5), wantIndex: 1},
		{name: "from above across current", from: 4, to: 1, want: ids(1, 5, 2, 3, 4), wantIndex: 3},
		{name: "unrelated", from: 3, to: 4, want: ids(1, 2, 3, 5, 4), wantIndex: 2},
	}
	engine := newTestEngine(nil, false)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := stateWith(ids(1, 2, 3, 4, 5), 2)
			engine.MoveInQueue(s, tc.from, tc.to)
			assertCue(t, s.Cue, tc.want)
			if s.CueIndex != tc.wantIndex || s.CurrentItemID != 3 {
				t.Fatalf("expected item 3 at %d, got %d at %d", tc.wantIndex, s.CurrentItemID, s.CueIndex)
			}
		})
	}
}

func TestMoveInQueueOutOfRangeIsNoop(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(1, 2, 3), 1)
	engine.MoveInQueue(s, 0, 3)
	engine.MoveInQueue(s, -1, 0)
	assertCue(t, s.Cue, ids(1, 2, 3))
	if s.CueIndex != 1 {
		t.Fatalf("expected index unchanged")
	}
}

func TestSkipToQueueIndexFiltersOriginal(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(5, 6, 7, 8), 0)
	s.OriginalCue = ids(8, 5, 6, 7)

	engine.SkipToQueueIndex(s, 1)

	assertCue(t, s.Cue, ids(6, 7, 8))
	assertCue(t, s.OriginalCue, ids(8, 6, 7))
	if s.CueIndex != 0 || s.CurrentItemID != 6 || !s.Playing {
		t.Fatalf("unexpected state %+v", s)
	}

	engine.SkipToQueueIndex(s, 10)
	assertCue(t, s.Cue, ids(6, 7, 8))
}

func TestChangeVolumeClamps(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(nil, -1)

	engine.ChangeVolume(s, 1.5)
	if s.Volume != 1.0 {
		t.Fatalf("expected 1.0, got %v", s.Volume)
	}
	engine.ChangeVolume(s, -0.2)
	if s.Volume != 0.0 {
		t.Fatalf("expected 0.0, got %v", s.Volume)
	}
	engine.ChangeVolume(s, 0.35)
	if s.Volume != 0.35 {
		t.Fatalf("expected 0.35, got %v", s.Volume)
	}
}

func TestSetSecondsClamps(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(1), 0)
	engine.SetSeconds(s, -4)
	if s.CurrentTime != 0 {
		t.Fatalf("expected 0, got %v", s.CurrentTime)
	}
	engine.SetSeconds(s, 12.5)
	if s.CurrentTime != 12.5 {
		t.Fatalf("expected 12.5, got %v", s.CurrentTime)
	}
}

func TestTogglePlayTwiceRestores(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(1, 2), 1)
	before := s.Clone()

	engine.TogglePlay(s)
	if !s.Playing {
		t.Fatalf("expected playing")
	}
	engine.TogglePlay(s)

	after := s.Clone()
	if after.Playing != before.Playing || after.CueIndex != before.CueIndex || after.CurrentItemID != before.CurrentItemID {
		t.Fatalf("expected toggle round trip, got %+v", after)
	}
}

func TestTogglePlayWithoutItem(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(nil, -1)
	engine.TogglePlay(s)
	if s.Playing {
		t.Fatalf("expected no-op without current item")
	}
}

func TestSelectQueuesAfterCurrent(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(ids(1, 2, 3), 0)
	s.CurrentTime = 33

	engine.Select(s, 9)
	assertCue(t, s.Cue, ids(1, 9, 2, 3))
	if s.CurrentItemID != 9 || s.CueIndex != 1 || !s.Playing || s.CurrentTime != 0 {
		t.Fatalf("unexpected state %+v", s)
	}

	engine.Select(s, 3)
	if s.CueIndex != 3 {
		t.Fatalf("expected existing item selected in place, got %d", s.CueIndex)
	}
}

func TestClearQueue(t *testing.T) {
	engine := newTestEngine(nil, true)
	s := stateWith(ids(1, 2), 0)
	s.OriginalCue = ids(2, 1)
	s.SecondaryCue = ids(3)
	s.Playing = true

	engine.ClearQueue(s)

	if len(s.Cue) != 0 || len(s.OriginalCue) != 0 || len(s.SecondaryCue) != 0 || s.Playing {
		t.Fatalf("expected empty stopped session, got %+v", s)
	}
	assertInvariant(t, s)
}

func TestToggleRepeatCycles(t *testing.T) {
	engine := newTestEngine(nil, false)
	s := stateWith(nil, -1)
	want := []RepeatMode{RepeatOne, RepeatAll, RepeatOff}
	for _, mode := range want {
		engine.ToggleRepeat(s)
		if s.RepeatMode != mode {
			t.Fatalf("expected %s, got %s", mode, s.RepeatMode)
		}
	}
}

func TestRepairRestoresInvariant(t *testing.T) {
	s := NewState(SessionKey{Kind: "audio", ID: "a"})
	s.Cue = ids(1, 2, 3)
	s.CueIndex = 7
	s.CurrentItemID = 2
	s.Volume = 3
	s.Repair()
	if s.CueIndex != 1 || s.Volume != 1 {
		t.Fatalf("unexpected repair %+v", s)
	}

	s.CurrentItemID = 42
	s.CueIndex = 9
	s.Repair()
	if s.CueIndex != 0 || s.CurrentItemID != 1 {
		t.Fatalf("expected reset to head, got %+v", s)
	}
}

func TestSnapshotNullCurrent(t *testing.T) {
	s := NewState(SessionKey{Kind: "video", ID: "living-room"})
	if s.Snapshot().CurrentItemID != nil {
		t.Fatalf("expected null current item")
	}
	s.Cue = ids(4)
	s.setIndex(0)
	snap := s.Snapshot()
	if snap.CurrentItemID == nil || *snap.CurrentItemID != 4 || snap.CueLength != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
