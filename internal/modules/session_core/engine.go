package sessioncore

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine applies queue transitions to a session. It never persists or
// broadcasts; callers hold the session lock.
type Engine struct {
	log       *zap.Logger
	catalog   Catalog
	secondary bool

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewEngine creates an engine. A nil rng seeds from the wall clock.
// secondary enables the whole-catalog fallback cue.
func NewEngine(log *zap.Logger, catalog Catalog, secondary bool, rng *rand.Rand) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Engine{log: log, catalog: catalog, secondary: secondary, rand: rng}
}

// PopulateCue replaces the primary cue and starts playing its first item.
func (e *Engine) PopulateCue(ctx context.Context, s *State, ids []ItemID) {
	ids = dedupe(ids)
	s.UsingSecondary = false
	s.Cue = ids
	s.OriginalCue = nil
	s.CurrentTime = 0
	if len(ids) == 0 {
		s.stop()
		return
	}
	s.setIndex(0)
	s.Playing = true

	switch s.ShuffleMode {
	case ShuffleOn:
		e.InitShuffle(s)
	case ShuffleSmart:
		e.InitSmartShuffle(ctx, s)
	}
}

// AddToQueue inserts ids that are not queued yet. playNext places them right
// after the current item, otherwise they are appended.
func (e *Engine) AddToQueue(s *State, ids []ItemID, playNext bool) {
	fresh := make([]ItemID, 0, len(ids))
	for _, id := range dedupe(ids) {
		if !slices.Contains(s.Cue, id) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return
	}

	if s.UsingSecondary {
		s.Cue = append(s.Cue, fresh...)
		if len(s.OriginalCue) > 0 {
			s.OriginalCue = append(s.OriginalCue, fresh...)
		}
		s.UsingSecondary = false
		s.setIndex(slices.Index(s.Cue, fresh[0]))
		s.CurrentTime = 0
		return
	}

	wasEmpty := len(s.Cue) == 0
	if playNext && s.CueIndex >= 0 {
		s.Cue = insertIDs(s.Cue, fresh, s.CueIndex+1)
		if len(s.OriginalCue) > 0 {
			at := slices.Index(s.OriginalCue, s.CurrentItemID) + 1
			if at == 0 {
				at = len(s.OriginalCue)
			}
			s.OriginalCue = insertIDs(s.OriginalCue, fresh, at)
		}
	} else {
		s.Cue = append(s.Cue, fresh...)
		if len(s.OriginalCue) > 0 {
			s.OriginalCue = append(s.OriginalCue, fresh...)
		}
	}
	if wasEmpty {
		s.setIndex(0)
		s.CurrentTime = 0
	}
}

// RemoveFromQueue removes id from the primary cue.
func (e *Engine) RemoveFromQueue(s *State, id ItemID) {
	e.RemoveAt(s, slices.Index(s.Cue, id))
}

// RemoveAt removes the primary cue entry at index. Out of range is a no-op.
func (e *Engine) RemoveAt(s *State, index int) {
	if index < 0 || index >= len(s.Cue) {
		return
	}
	id := s.Cue[index]
	s.Cue = slices.Delete(s.Cue, index, index+1)
	s.OriginalCue = removeValue(s.OriginalCue, id)
	if s.UsingSecondary {
		return
	}

	if len(s.Cue) == 0 {
		s.stop()
		return
	}
	switch {
	case index == s.CueIndex:
		s.setIndex(min(index, len(s.Cue)-1))
		s.CurrentTime = 0
	case index < s.CueIndex:
		s.CueIndex--
	}
}

// MoveInQueue relocates one primary cue entry while keeping the current
// item selected.
func (e *Engine) MoveInQueue(s *State, from, to int) {
	if from < 0 || from >= len(s.Cue) || to < 0 || to >= len(s.Cue) || from == to {
		return
	}
	id := s.Cue[from]
	s.Cue = slices.Delete(s.Cue, from, from+1)
	s.Cue = slices.Insert(s.Cue, to, id)
	if s.UsingSecondary || s.CueIndex < 0 {
		return
	}

	current := s.CueIndex
	switch {
	case from == current:
		current = to
	case from < current && to >= current:
		current--
	case from > current && to <= current:
		current++
	}
	s.CueIndex = current
}

// SkipToQueueIndex drops every primary entry before index and starts
// playing the entry at index.
func (e *Engine) SkipToQueueIndex(s *State, index int) {
	if index < 0 || index >= len(s.Cue) {
		return
	}
	s.UsingSecondary = false
	s.Cue = slices.Clone(s.Cue[index:])
	if len(s.OriginalCue) > 0 {
		kept := make([]ItemID, 0, len(s.Cue))
		for _, id := range s.OriginalCue {
			if slices.Contains(s.Cue, id) {
				kept = append(kept, id)
			}
		}
		s.OriginalCue = kept
	}
	s.setIndex(0)
	s.CurrentTime = 0
	s.Playing = true
}

// Select switches to id, queueing it after the current item when absent.
func (e *Engine) Select(s *State, id ItemID) {
	if id == NoItem {
		return
	}
	if s.UsingSecondary {
		if idx := slices.Index(s.SecondaryCue, id); idx >= 0 {
			s.setIndex(idx)
		} else {
			e.AddToQueue(s, []ItemID{id}, true)
			if s.UsingSecondary {
				s.UsingSecondary = false
				s.setIndex(slices.Index(s.Cue, id))
			}
		}
	} else {
		if !slices.Contains(s.Cue, id) {
			e.AddToQueue(s, []ItemID{id}, true)
		}
		s.setIndex(slices.Index(s.Cue, id))
	}
	s.CurrentTime = 0
	s.Playing = true
}

// PlayFirst moves id to the head of the primary cue and selects it.
func (e *Engine) PlayFirst(s *State, id ItemID) {
	if id == NoItem {
		return
	}
	s.UsingSecondary = false
	s.Cue = slices.Insert(removeValue(s.Cue, id), 0, id)
	if len(s.OriginalCue) > 0 {
		s.OriginalCue = slices.Insert(removeValue(s.OriginalCue, id), 0, id)
	}
	s.setIndex(0)
	s.CurrentTime = 0
}

// ClearQueue empties every cue and stops playback.
func (e *Engine) ClearQueue(s *State) {
	s.Cue = nil
	s.OriginalCue = nil
	s.SecondaryCue = nil
	s.SecondaryOriginalCue = nil
	s.UsingSecondary = false
	s.stop()
}

// ToggleRepeat cycles the repeat mode.
func (e *Engine) ToggleRepeat(s *State) {
	s.RepeatMode = s.RepeatMode.Next()
}

// ChangeVolume sets the volume clamped to [0, 1].
func (e *Engine) ChangeVolume(s *State, volume float64) {
	s.Volume = clampFloat(volume, 0, 1)
}

// SetSeconds moves the playback position, never below zero.
func (e *Engine) SetSeconds(s *State, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	s.CurrentTime = seconds
}

// TogglePlay flips the transport state when something is selected.
func (e *Engine) TogglePlay(s *State) {
	if s.CurrentItemID == NoItem {
		return
	}
	s.Playing = !s.Playing
}

func (e *Engine) shuffle(ids []ItemID) {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	e.rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

func (e *Engine) intN(n int) int {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.IntN(n)
}

func dedupe(ids []ItemID) []ItemID {
	out := make([]ItemID, 0, len(ids))
	seen := make(map[ItemID]struct{}, len(ids))
	for _, id := range ids {
		if id == NoItem {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func removeValue(ids []ItemID, id ItemID) []ItemID {
	if idx := slices.Index(ids, id); idx >= 0 {
		return slices.Delete(ids, idx, idx+1)
	}
	return ids
}

func insertIDs(ids []ItemID, insert []ItemID, index int) []ItemID {
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	result := make([]ItemID, 0, len(ids)+len(insert))
	result = append(result, ids[:index]...)
	result = append(result, insert...)
	result = append(result, ids[index:]...)
	return result
}
