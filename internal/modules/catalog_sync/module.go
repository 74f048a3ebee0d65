package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/metrics"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

// catalogWriter is the store the manifest is imported into.
type catalogWriter interface {
	ReplaceItems(ctx context.Context, kind string, items []sessioncore.Item) error
	CountItems(ctx context.Context, kind string) (int, error)
}

// Config configures the catalog sync module.
type Config struct {
	ManifestPath string
	Watch        bool
	// Debounce coalesces bursts of file events. Zero uses 500ms.
	Debounce time.Duration
}

// Module imports a TOML manifest into the catalog and keeps it in sync.
type Module struct {
	log    *zap.Logger
	store  catalogWriter
	config Config
	mu     sync.Mutex
}

// NewModule creates the module.
func NewModule(log *zap.Logger, store catalogWriter, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.ManifestPath) == "" {
		return nil, errors.New("manifest path required")
	}
	if store == nil {
		return nil, errors.New("catalog store required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	cfg.ManifestPath = abs
	return &Module{log: log, store: store, config: cfg}, nil
}

// Sync imports the manifest once. A manifest that fails to parse leaves the
// catalog untouched.
func (m *Module) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, err := LoadManifest(m.config.ManifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	for kind, items := range manifest.ByKind() {
		if err := m.store.ReplaceItems(ctx, kind, items); err != nil {
			return fmt.Errorf("import %s items: %w", kind, err)
		}
		count, err := m.store.CountItems(ctx, kind)
		if err != nil {
			return fmt.Errorf("count %s items: %w", kind, err)
		}
		metrics.CatalogItems.WithLabelValues(kind).Set(float64(count))
		m.log.Info("catalog synced", zap.String("kind", kind), zap.Int("items", count))
	}
	return nil
}

// Run syncs at startup and, when watching, after every manifest change.
func (m *Module) Run(ctx context.Context) error {
	if err := m.Sync(ctx); err != nil {
		m.log.Error("catalog sync failed", zap.String("manifest", m.config.ManifestPath), zap.Error(err))
	}
	if !m.config.Watch {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(m.config.ManifestPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(m.config.ManifestPath), err)
	}
	return m.watchLoop(ctx, watcher)
}

func (m *Module) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.config.ManifestPath {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.config.Debounce)
			} else {
				timer.Reset(m.config.Debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := m.Sync(ctx); err != nil {
				m.log.Warn("catalog resync failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("manifest watcher error", zap.Error(err))
		}
	}
}
