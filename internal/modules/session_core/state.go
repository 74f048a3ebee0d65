package sessioncore

import (
	"fmt"
	"slices"
	"time"

	"github.com/mikey-austin/cuebox/pkg/cue"
)

// ItemID identifies a catalog item. NoItem marks an empty selection.
type ItemID int64

// NoItem is the zero ItemID.
const NoItem ItemID = 0

// SessionKey identifies one playback session.
type SessionKey struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (k SessionKey) String() string {
	return k.Kind + "/" + k.ID
}

// ShuffleMode cycles OFF -> SHUFFLE -> SMART_SHUFFLE -> OFF.
type ShuffleMode string

const (
	ShuffleOff   ShuffleMode = "OFF"
	ShuffleOn    ShuffleMode = "SHUFFLE"
	ShuffleSmart ShuffleMode = "SMART_SHUFFLE"
)

// Next returns the following mode in the cycle.
func (m ShuffleMode) Next() ShuffleMode {
	switch m {
	case ShuffleOn:
		return ShuffleSmart
	case ShuffleSmart:
		return ShuffleOff
	default:
		return ShuffleOn
	}
}

// RepeatMode cycles OFF -> ONE -> ALL -> OFF.
type RepeatMode string

const (
	RepeatOff RepeatMode = "OFF"
	RepeatOne RepeatMode = "ONE"
	RepeatAll RepeatMode = "ALL"
)

// Next returns the following mode in the cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOne:
		return RepeatAll
	case RepeatAll:
		return RepeatOff
	default:
		return RepeatOne
	}
}

// Item is the catalog view of a playable file.
type Item struct {
	ID       ItemID  `json:"id"`
	Kind     string  `json:"kind"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Genre    string  `json:"genre,omitempty"`
	BPM      float64 `json:"bpm,omitempty"`
	Duration float64 `json:"duration"`
	Path     string  `json:"path,omitempty"`
	Series   string  `json:"series,omitempty"`
	Season   int     `json:"season,omitempty"`
	Episode  int     `json:"episode,omitempty"`
}

// EpisodeInfo renders season and episode numbers, or "" for non-episodic items.
func (i Item) EpisodeInfo() string {
	if i.Season <= 0 && i.Episode <= 0 {
		return ""
	}
	return fmt.Sprintf("S%02dE%02d", i.Season, i.Episode)
}

// DefaultVolume is applied to sessions built from scratch.
const DefaultVolume = 0.8

// State is the mutable playback session. The engine mutates it in place.
type State struct {
	Key                  SessionKey  `json:"key"`
	Cue                  []ItemID    `json:"cue"`
	OriginalCue          []ItemID    `json:"originalCue,omitempty"`
	SecondaryCue         []ItemID    `json:"secondaryCue,omitempty"`
	SecondaryOriginalCue []ItemID    `json:"secondaryOriginalCue,omitempty"`
	CueIndex             int         `json:"cueIndex"`
	UsingSecondary       bool        `json:"usingSecondary"`
	CurrentItemID        ItemID      `json:"currentItemId"`
	Playing              bool        `json:"playing"`
	CurrentTime          float64     `json:"currentTime"`
	Duration             float64     `json:"duration"`
	Volume               float64     `json:"volume"`
	ShuffleMode          ShuffleMode `json:"shuffleMode"`
	RepeatMode           RepeatMode  `json:"repeatMode"`
	Title                string      `json:"title"`
	Artist               string      `json:"artist"`
	Album                string      `json:"album,omitempty"`
	Genre                string      `json:"genre,omitempty"`
	EpisodeInfo          string      `json:"episodeInfo,omitempty"`
	LastUpdateTime       time.Time   `json:"lastUpdateTime"`
}

// NewState returns an empty stopped session.
func NewState(key SessionKey) *State {
	return &State{
		Key:         key,
		CueIndex:    -1,
		Volume:      DefaultVolume,
		ShuffleMode: ShuffleOff,
		RepeatMode:  RepeatOff,
	}
}

// Clone returns a deep copy safe to hand outside the session lock.
func (s *State) Clone() State {
	out := *s
	out.Cue = slices.Clone(s.Cue)
	out.OriginalCue = slices.Clone(s.OriginalCue)
	out.SecondaryCue = slices.Clone(s.SecondaryCue)
	out.SecondaryOriginalCue = slices.Clone(s.SecondaryOriginalCue)
	return out
}

// ActiveCue returns the cue the index refers to.
func (s *State) ActiveCue() []ItemID {
	if s.UsingSecondary {
		return s.SecondaryCue
	}
	return s.Cue
}

// Snapshot converts the session to its wire form.
func (s *State) Snapshot() cue.SessionState {
	out := cue.SessionState{
		Kind:           s.Key.Kind,
		Key:            s.Key.ID,
		Playing:        s.Playing,
		CurrentTime:    s.CurrentTime,
		Duration:       s.Duration,
		Volume:         s.Volume,
		ShuffleMode:    string(s.ShuffleMode),
		RepeatMode:     string(s.RepeatMode),
		CueIndex:       s.CueIndex,
		CueLength:      len(s.ActiveCue()),
		UsingSecondary: s.UsingSecondary,
		Title:          s.Title,
		Artist:         s.Artist,
		Album:          s.Album,
		Genre:          s.Genre,
		EpisodeInfo:    s.EpisodeInfo,
		LastUpdateTime: s.LastUpdateTime.UnixMilli(),
	}
	if s.CurrentItemID != NoItem {
		id := int64(s.CurrentItemID)
		out.CurrentItemID = &id
	}
	return out
}

// Repair restores the index invariants on a hydrated session.
func (s *State) Repair() {
	if s.Volume < 0 || s.Volume > 1 {
		s.Volume = clampFloat(s.Volume, 0, 1)
	}
	if s.ShuffleMode == "" {
		s.ShuffleMode = ShuffleOff
	}
	if s.RepeatMode == "" {
		s.RepeatMode = RepeatOff
	}
	if s.UsingSecondary && len(s.SecondaryCue) == 0 {
		s.UsingSecondary = false
	}
	active := s.ActiveCue()
	if len(active) == 0 {
		s.CueIndex = -1
		s.CurrentItemID = NoItem
		return
	}
	if idx := slices.Index(active, s.CurrentItemID); idx >= 0 {
		s.CueIndex = idx
		return
	}
	if s.CueIndex < 0 || s.CueIndex >= len(active) {
		s.CueIndex = 0
	}
	s.CurrentItemID = active[s.CueIndex]
}

func (s *State) setIndex(index int) {
	active := s.ActiveCue()
	s.CueIndex = index
	s.CurrentItemID = active[index]
}

func (s *State) stop() {
	s.Playing = false
	s.CueIndex = -1
	s.CurrentItemID = NoItem
	s.CurrentTime = 0
	s.Duration = 0
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
