package sessioncore

import (
	"context"
	"math"
	"slices"
	"sort"

	"go.uber.org/zap"
)

// earlySkipRatio marks a manual skip before this share of the duration.
const earlySkipRatio = 0.2

// ToggleShuffle cycles the shuffle mode and reorders the cue to match.
func (e *Engine) ToggleShuffle(ctx context.Context, s *State) {
	s.ShuffleMode = s.ShuffleMode.Next()
	switch s.ShuffleMode {
	case ShuffleOn:
		e.InitShuffle(s)
	case ShuffleSmart:
		e.InitSmartShuffle(ctx, s)
	default:
		e.ClearShuffle(s)
	}
	if s.UsingSecondary {
		e.applySecondaryMode(ctx, s)
	}
}

// InitShuffle randomizes the primary cue, keeping the current item first.
func (e *Engine) InitShuffle(s *State) {
	if len(s.Cue) == 0 {
		return
	}
	if len(s.OriginalCue) == 0 {
		s.OriginalCue = slices.Clone(s.Cue)
	}
	current := NoItem
	if !s.UsingSecondary {
		current = s.CurrentItemID
	}
	s.Cue = e.shufflePinned(s.Cue, current)
	if !s.UsingSecondary {
		s.setIndex(max(slices.Index(s.Cue, current), 0))
	}
}

// ClearShuffle restores the pre-shuffle order of the primary cue.
func (e *Engine) ClearShuffle(s *State) {
	if len(s.OriginalCue) == 0 {
		return
	}
	s.Cue = s.OriginalCue
	s.OriginalCue = nil
	if s.UsingSecondary {
		return
	}
	if len(s.Cue) == 0 {
		s.CueIndex = -1
		s.CurrentItemID = NoItem
		return
	}
	s.setIndex(max(slices.Index(s.Cue, s.CurrentItemID), 0))
}

// InitSmartShuffle orders the primary cue by genre groups in random order,
// each group sorted by BPM distance to the current item.
func (e *Engine) InitSmartShuffle(ctx context.Context, s *State) {
	if len(s.Cue) == 0 {
		return
	}
	if len(s.OriginalCue) == 0 {
		s.OriginalCue = slices.Clone(s.Cue)
	}
	items := e.lookup(ctx, s.Cue)
	target := items[s.CurrentItemID].BPM
	s.Cue = e.smartOrder(s.Cue, items, target)
	if s.UsingSecondary {
		return
	}
	s.setIndex(max(slices.Index(s.Cue, s.CurrentItemID), 0))
}

func (e *Engine) smartOrder(ids []ItemID, items map[ItemID]Item, targetBPM float64) []ItemID {
	groups := map[string][]ItemID{}
	var genres []string
	for _, id := range ids {
		genre := items[id].Genre
		if _, ok := groups[genre]; !ok {
			genres = append(genres, genre)
		}
		groups[genre] = append(groups[genre], id)
	}
	e.randMu.Lock()
	e.rand.Shuffle(len(genres), func(i, j int) { genres[i], genres[j] = genres[j], genres[i] })
	e.randMu.Unlock()

	out := make([]ItemID, 0, len(ids))
	for _, genre := range genres {
		group := groups[genre]
		e.shuffle(group)
		sort.SliceStable(group, func(i, j int) bool {
			return bpmDistance(items[group[i]].BPM, targetBPM) < bpmDistance(items[group[j]].BPM, targetBPM)
		})
		out = append(out, group...)
	}
	return out
}

// Unknown BPM on either side matches the target.
func bpmDistance(bpm, target float64) float64 {
	if bpm <= 0 || target <= 0 {
		return 0
	}
	return math.Abs(bpm - target)
}

func (e *Engine) shufflePinned(ids []ItemID, pinned ItemID) []ItemID {
	rest := make([]ItemID, 0, len(ids))
	for _, id := range ids {
		if id != pinned || pinned == NoItem {
			rest = append(rest, id)
		}
	}
	e.shuffle(rest)
	if pinned == NoItem || !slices.Contains(ids, pinned) {
		return rest
	}
	return append([]ItemID{pinned}, rest...)
}

// smartReselect moves a well-matched candidate right after the current item.
func (e *Engine) smartReselect(ctx context.Context, s *State, fromNaturalEnd bool) {
	if s.CueIndex < 0 || len(s.Cue) < 2 {
		return
	}
	items := e.lookup(ctx, s.Cue)
	current := items[s.CurrentItemID]

	pool := make([]Item, 0, len(s.Cue)-1)
	for _, id := range s.Cue {
		if id == s.CurrentItemID {
			continue
		}
		item, ok := items[id]
		if !ok {
			item = Item{ID: id}
		}
		pool = append(pool, item)
	}

	early := !fromNaturalEnd && s.Duration > 0 && s.CurrentTime < earlySkipRatio*s.Duration
	var candidates []Item
	if early && current.Genre != "" {
		var others []string
		for _, item := range pool {
			if item.Genre != "" && item.Genre != current.Genre && !slices.Contains(others, item.Genre) {
				others = append(others, item.Genre)
			}
		}
		if len(others) > 0 {
			candidates = filterGenre(pool, others[e.intN(len(others))])
		}
	}
	if len(candidates) == 0 {
		if current.Genre == "" {
			candidates = pool
		} else {
			candidates = filterGenre(pool, current.Genre)
		}
	}
	if len(candidates) == 0 {
		return
	}

	pick := e.pickByBPM(candidates, current.BPM)
	from := slices.Index(s.Cue, pick)
	if from == s.CueIndex+1 {
		return
	}
	s.Cue = slices.Delete(s.Cue, from, from+1)
	at := slices.Index(s.Cue, s.CurrentItemID)
	s.Cue = slices.Insert(s.Cue, at+1, pick)
	s.CueIndex = at
	e.log.Debug("smart reselection",
		zap.String("session", s.Key.String()),
		zap.Int64("item_id", int64(pick)),
		zap.Bool("early_skip", early))
}

func (e *Engine) pickByBPM(candidates []Item, target float64) ItemID {
	if target > 0 {
		best := math.Inf(1)
		var closest []ItemID
		for _, item := range candidates {
			if item.BPM <= 0 {
				continue
			}
			d := math.Abs(item.BPM - target)
			switch {
			case d < best:
				best = d
				closest = append(closest[:0], item.ID)
			case d == best:
				closest = append(closest, item.ID)
			}
		}
		if len(closest) > 0 {
			return closest[e.intN(len(closest))]
		}
	}
	return candidates[e.intN(len(candidates))].ID
}

func filterGenre(items []Item, genre string) []Item {
	var out []Item
	for _, item := range items {
		if item.Genre == genre {
			out = append(out, item)
		}
	}
	return out
}

func (e *Engine) lookup(ctx context.Context, ids []ItemID) map[ItemID]Item {
	out := make(map[ItemID]Item, len(ids))
	if e.catalog == nil || len(ids) == 0 {
		return out
	}
	items, err := e.catalog.FindByIDs(ctx, ids)
	if err != nil {
		e.log.Warn("catalog lookup failed", zap.Error(err))
		return out
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}
