package sessioncore

import (
	"context"
	"slices"

	"go.uber.org/zap"
)

// Advance moves to the next or previous item. fromNaturalEnd is set when the
// current item finished on its own rather than by a user skip.
func (e *Engine) Advance(ctx context.Context, s *State, forward bool, fromNaturalEnd bool) {
	active := s.ActiveCue()
	if len(active) == 0 {
		if forward && !s.UsingSecondary {
			e.fallback(ctx, s, s.CurrentItemID)
			return
		}
		s.stop()
		return
	}
	if s.CueIndex < 0 || s.CueIndex >= len(active) {
		s.Repair()
	}

	if !forward {
		index := s.CueIndex - 1
		if s.CueIndex <= 0 {
			index = 0
			if s.RepeatMode == RepeatAll {
				index = len(active) - 1
			}
		}
		s.setIndex(index)
		s.CurrentTime = 0
		return
	}

	if s.RepeatMode == RepeatOne && fromNaturalEnd {
		s.CurrentTime = 0
		s.Playing = true
		return
	}

	if s.UsingSecondary {
		e.advanceSecondary(ctx, s)
		return
	}

	if s.ShuffleMode == ShuffleSmart {
		e.smartReselect(ctx, s, fromNaturalEnd)
	}

	s.CurrentTime = 0
	if s.RepeatMode == RepeatOff {
		removed := s.CueIndex
		played := s.Cue[removed]
		s.Cue = slices.Delete(s.Cue, removed, removed+1)
		s.OriginalCue = removeValue(s.OriginalCue, played)
		if len(s.Cue) == 0 || removed >= len(s.Cue) {
			e.fallback(ctx, s, played)
			return
		}
		s.setIndex(removed)
		return
	}

	s.setIndex((s.CueIndex + 1) % len(s.Cue))
}

// fallback runs when the primary cue is exhausted: switch to the
// whole-catalog cue when enabled, otherwise stop.
func (e *Engine) fallback(ctx context.Context, s *State, played ItemID) {
	if e.secondary {
		e.rebuildSecondary(ctx, s, played)
		if len(s.SecondaryCue) > 0 {
			s.UsingSecondary = true
			s.setIndex(0)
			s.CurrentTime = 0
			e.log.Debug("switched to secondary cue", zap.String("session", s.Key.String()), zap.Int("length", len(s.SecondaryCue)))
			return
		}
	}

	s.UsingSecondary = false
	if len(s.Cue) == 0 {
		s.stop()
		return
	}
	s.setIndex(0)
	s.Playing = false
	s.CurrentTime = 0
}

func (e *Engine) advanceSecondary(ctx context.Context, s *State) {
	index := s.CueIndex + 1
	if index >= len(s.SecondaryCue) {
		e.rebuildSecondary(ctx, s, s.CurrentItemID)
		index = 0
	}
	if len(s.SecondaryCue) == 0 {
		s.UsingSecondary = false
		if len(s.Cue) > 0 {
			s.setIndex(0)
			s.Playing = false
			s.CurrentTime = 0
			return
		}
		s.stop()
		return
	}
	s.setIndex(index)
	s.CurrentTime = 0
}

// rebuildSecondary refills the fallback cue from the whole catalog, ordered
// by the current shuffle mode, never starting with the item just played.
func (e *Engine) rebuildSecondary(ctx context.Context, s *State, played ItemID) {
	s.SecondaryCue = nil
	s.SecondaryOriginalCue = nil
	if e.catalog == nil {
		return
	}
	all, err := e.catalog.FindAll(ctx)
	if err != nil {
		e.log.Warn("secondary cue rebuild failed", zap.String("session", s.Key.String()), zap.Error(err))
		return
	}
	ids := make([]ItemID, 0, len(all))
	items := make(map[ItemID]Item, len(all))
	for _, item := range all {
		ids = append(ids, item.ID)
		items[item.ID] = item
	}
	ids = dedupe(ids)

	switch s.ShuffleMode {
	case ShuffleOn:
		s.SecondaryOriginalCue = slices.Clone(ids)
		e.shuffle(ids)
	case ShuffleSmart:
		s.SecondaryOriginalCue = slices.Clone(ids)
		ids = e.smartOrder(ids, items, items[played].BPM)
	}
	if len(ids) > 1 && ids[0] == played {
		ids[0], ids[1] = ids[1], ids[0]
	}
	s.SecondaryCue = ids
}

// applySecondaryMode reorders the fallback cue after a shuffle toggle.
func (e *Engine) applySecondaryMode(ctx context.Context, s *State) {
	base := s.SecondaryOriginalCue
	if len(base) == 0 {
		base = slices.Clone(s.SecondaryCue)
	}
	current := s.CurrentItemID

	switch s.ShuffleMode {
	case ShuffleOn:
		s.SecondaryOriginalCue = base
		s.SecondaryCue = e.shufflePinned(base, current)
	case ShuffleSmart:
		s.SecondaryOriginalCue = base
		items := e.lookup(ctx, base)
		s.SecondaryCue = e.smartOrder(slices.Clone(base), items, items[current].BPM)
	default:
		s.SecondaryCue = base
		s.SecondaryOriginalCue = nil
	}
	if len(s.SecondaryCue) == 0 {
		s.UsingSecondary = false
		s.Repair()
		return
	}
	s.setIndex(max(slices.Index(s.SecondaryCue, current), 0))
}
