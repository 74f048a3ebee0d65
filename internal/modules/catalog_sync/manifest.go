package catalogsync

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Manifest is the on-disk catalog description.
type Manifest struct {
	Items []ManifestItem `toml:"items"`
}

// ManifestItem is one [[items]] table.
type ManifestItem struct {
	ID       int64   `toml:"id"`
	Kind     string  `toml:"kind"`
	Title    string  `toml:"title"`
	Artist   string  `toml:"artist"`
	Album    string  `toml:"album"`
	Genre    string  `toml:"genre"`
	BPM      float64 `toml:"bpm"`
	Duration float64 `toml:"duration"`
	Path     string  `toml:"path"`
	Series   string  `toml:"series"`
	Season   int     `toml:"season"`
	Episode  int     `toml:"episode"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return Manifest{}, errors.New("manifest path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return ParseManifest(string(data))
}

// ParseManifest decodes and validates manifest text.
func ParseManifest(data string) (Manifest, error) {
	var manifest Manifest
	meta, err := toml.Decode(data, &manifest)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Manifest{}, fmt.Errorf("unknown manifest key %q", undecoded[0].String())
	}
	if err := manifest.Validate(); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// Validate checks ids, kinds and numeric ranges.
func (m Manifest) Validate() error {
	seen := make(map[int64]struct{}, len(m.Items))
	for i, item := range m.Items {
		if item.ID <= 0 {
			return fmt.Errorf("items[%d]: id must be positive", i)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("items[%d]: duplicate id %d", i, item.ID)
		}
		seen[item.ID] = struct{}{}
		switch item.Kind {
		case cue.KindAudio, cue.KindVideo:
		default:
			return fmt.Errorf("items[%d]: unknown kind %q", i, item.Kind)
		}
		if strings.TrimSpace(item.Title) == "" {
			return fmt.Errorf("items[%d]: title required", i)
		}
		if item.Duration < 0 || item.BPM < 0 || item.Season < 0 || item.Episode < 0 {
			return fmt.Errorf("items[%d]: negative duration, bpm, season or episode", i)
		}
	}
	return nil
}

// ByKind groups items by kind in manifest order. Every known kind is present.
func (m Manifest) ByKind() map[string][]sessioncore.Item {
	out := map[string][]sessioncore.Item{
		cue.KindAudio: {},
		cue.KindVideo: {},
	}
	for _, item := range m.Items {
		out[item.Kind] = append(out[item.Kind], sessioncore.Item{
			ID:       sessioncore.ItemID(item.ID),
			Kind:     item.Kind,
			Title:    item.Title,
			Artist:   item.Artist,
			Album:    item.Album,
			Genre:    item.Genre,
			BPM:      item.BPM,
			Duration: item.Duration,
			Path:     item.Path,
			Series:   item.Series,
			Season:   item.Season,
			Episode:  item.Episode,
		})
	}
	return out
}
