package synchronizer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

const watchDebounce = 100 * time.Millisecond

// Watch syncs once, then re-syncs every time the upstream latest manifest
// changes, until ctx is cancelled. Only the local registry backend can be
// watched. onSync receives the outcome of every sync; errors after the first
// sync are reported there and do not stop the watch.
func (s *Synchronizer) Watch(ctx context.Context, req Request, onSync func(*Result, error)) error {
	local, ok := s.registry.Backend().(*registry.LocalBackend)
	if !ok {
		return core.Validation("", "registry.backend", "watch requires the local registry backend (--local)")
	}

	res, err := s.Sync(ctx, req)
	if err != nil {
		return err
	}
	onSync(res, nil)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(local.Path(registry.LatestKey(req.Upstream, req.Env)))
	if err := watcher.Add(dir); err != nil {
		return core.Storage(dir, false, fmt.Errorf("failed to watch: %w", err))
	}

	s.logger.Info("watching upstream manifest", slog.String("dir", dir))

	// Debounce: a publish is a temp write plus a rename.
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != registry.ManifestFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(watchDebounce)
		case <-debounce:
			debounce = nil
			s.logger.Debug("upstream manifest changed", slog.String("upstream", req.Upstream))
			onSync(s.Sync(ctx, req))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
