// Package registry stores published manifests in a partitioned layout that
// downstream projects read from. It knows nothing about manifest contents.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// maxHistoryCollisions caps how many timestamps Publish tries when history
// keys are already taken by concurrent publishers.
const maxHistoryCollisions = 10

// Registry reads and writes manifests through a Backend.
type Registry struct {
	backend Backend
	retry   RetryPolicy
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithRetryPolicy overrides the default retry bounds.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Registry) { r.retry = p }
}

// WithClock overrides the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a registry over backend.
func New(backend Backend, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		retry:   DefaultRetryPolicy(),
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the underlying storage.
func (r *Registry) Backend() Backend { return r.backend }

// Location describes where the registry lives.
func (r *Registry) Location() string { return r.backend.Location() }

// PublishResult describes a completed publish.
type PublishResult struct {
	Project    string
	Env        string
	LatestKey  string
	HistoryKey string
	Timestamp  time.Time
	Size       int
	Location   string
}

// HistoryEntry is one audit copy in the registry.
type HistoryEntry struct {
	Timestamp time.Time
	Key       string
}

// Publish writes data to the history and latest destinations for
// project/env. History is written first and create-only; latest is then
// overwritten. If latest cannot be written the history entry is removed, so
// a failed publish leaves neither destination changed.
func (r *Registry) Publish(ctx context.Context, project, env string, data []byte) (*PublishResult, error) {
	if err := ValidateName("project", project); err != nil {
		return nil, err
	}
	if err := ValidateName("env", env); err != nil {
		return nil, err
	}

	entries, err := r.History(ctx, project, env)
	if err != nil {
		return nil, err
	}

	// Second precision; bump past the newest key so keys stay strictly
	// increasing even for publishes within the same second.
	ts := r.now().UTC().Truncate(time.Second)
	if n := len(entries); n > 0 && !ts.After(entries[n-1].Timestamp) {
		ts = entries[n-1].Timestamp.Add(time.Second)
	}

	var historyKey string
	for i := 0; i < maxHistoryCollisions; i++ {
		key := HistoryKey(project, env, ts)
		err := r.putHistory(ctx, key, data)
		if err == nil {
			historyKey = key
			break
		}
		if !errors.Is(err, ErrExists) {
			return nil, err
		}
		r.logger.Debug("history key taken, bumping timestamp", slog.String("key", key))
		ts = ts.Add(time.Second)
	}
	if historyKey == "" {
		return nil, core.Storage(HistoryPrefix(project, env), false,
			fmt.Errorf("no free history timestamp after %d attempts", maxHistoryCollisions))
	}

	latestKey := LatestKey(project, env)
	err = withRetry(ctx, r.retry, r.logger, "write latest", func(ctx context.Context) error {
		return r.backend.Put(ctx, latestKey, data)
	})
	if err != nil {
		// The caller's ctx may be the reason latest failed.
		rollbackCtx := context.WithoutCancel(ctx)
		derr := withRetry(rollbackCtx, r.retry, r.logger, "rollback history", func(ctx context.Context) error {
			return r.backend.Delete(ctx, historyKey)
		})
		if derr != nil {
			r.logger.Error("history rollback failed",
				slog.String("key", historyKey),
				slog.String("error", derr.Error()))
			return nil, fmt.Errorf("%w (history entry %s could not be removed: %v)", err, historyKey, derr)
		}
		return nil, err
	}

	r.logger.Info("manifest published",
		slog.String("project", project),
		slog.String("env", env),
		slog.String("history", historyKey))

	return &PublishResult{
		Project:    project,
		Env:        env,
		LatestKey:  latestKey,
		HistoryKey: historyKey,
		Timestamp:  ts,
		Size:       len(data),
		Location:   r.backend.Location(),
	}, nil
}

// putHistory writes key create-only. A retry that finds the key taken
// checks whether an earlier attempt already committed these bytes, as when
// the write lands but its response is lost to a timeout.
func (r *Registry) putHistory(ctx context.Context, key string, data []byte) error {
	attempt := 0
	return withRetry(ctx, r.retry, r.logger, "write history", func(ctx context.Context) error {
		attempt++
		err := r.backend.PutIfAbsent(ctx, key, data)
		if attempt == 1 || !errors.Is(err, ErrExists) {
			return err
		}
		existing, gerr := r.backend.Get(ctx, key)
		if gerr != nil {
			return gerr
		}
		if bytes.Equal(existing, data) {
			r.logger.Debug("history write committed on an earlier attempt", slog.String("key", key))
			return nil
		}
		return err
	})
}

// Latest returns the current manifest for project/env.
func (r *Registry) Latest(ctx context.Context, project, env string) ([]byte, error) {
	if err := ValidateName("project", project); err != nil {
		return nil, err
	}
	if err := ValidateName("env", env); err != nil {
		return nil, err
	}
	key := LatestKey(project, env)
	data, err := r.get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NotFound(key,
			fmt.Sprintf("no manifest published for project %q in env %q", project, env), nil)
	}
	return data, err
}

// History returns the audit entries for project/env, oldest first.
func (r *Registry) History(ctx context.Context, project, env string) ([]HistoryEntry, error) {
	keys, err := r.list(ctx, HistoryPrefix(project, env))
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(keys))
	for _, key := range keys {
		ts, ok := parseHistoryKey(key)
		if !ok {
			continue
		}
		entries = append(entries, HistoryEntry{Timestamp: ts, Key: key})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// HistoryEntry returns the manifest published at ts.
func (r *Registry) HistoryEntry(ctx context.Context, project, env string, ts time.Time) ([]byte, error) {
	if err := ValidateName("project", project); err != nil {
		return nil, err
	}
	if err := ValidateName("env", env); err != nil {
		return nil, err
	}
	key := HistoryKey(project, env, ts)
	data, err := r.get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NotFound(key,
			fmt.Sprintf("no manifest published for project %q in env %q at %s", project, env, FormatTimestamp(ts)), nil)
	}
	return data, err
}

// Projects returns every project with at least one published manifest.
func (r *Registry) Projects(ctx context.Context) ([]string, error) {
	keys, err := r.list(ctx, Root+"/")
	if err != nil {
		return nil, err
	}
	return segmentSet(keys, 1), nil
}

// Environments returns the environments published for project.
func (r *Registry) Environments(ctx context.Context, project string) ([]string, error) {
	if err := ValidateName("project", project); err != nil {
		return nil, err
	}
	keys, err := r.list(ctx, Root+"/"+project+"/")
	if err != nil {
		return nil, err
	}
	return segmentSet(keys, 2), nil
}

func (r *Registry) get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, r.retry, r.logger, "read", func(ctx context.Context) error {
		var err error
		data, err = r.backend.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *Registry) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := withRetry(ctx, r.retry, r.logger, "list", func(ctx context.Context) error {
		var err error
		keys, err = r.backend.List(ctx, prefix)
		return err
	})
	return keys, err
}

// segmentSet collects the distinct path segment at idx from manifest keys.
func segmentSet(keys []string, idx int) []string {
	set := make(map[string]bool)
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+ManifestFile) {
			continue
		}
		parts := strings.Split(key, "/")
		if len(parts) <= idx+1 || parts[0] != Root {
			continue
		}
		set[parts[idx]] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
