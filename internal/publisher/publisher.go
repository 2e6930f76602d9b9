// Package publisher copies a freshly built manifest into the registry.
package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/leapstack-labs/leapmesh/internal/manifest"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/state"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// DefaultManifestPath is where the transformation tool writes its manifest.
const DefaultManifestPath = "target/manifest.json"

// Recorder stores publish records. *state.SQLiteStore satisfies it.
type Recorder interface {
	RecordPublish(ctx context.Context, p *state.Publish) error
}

// Request names the manifest to publish and where it goes.
type Request struct {
	ManifestPath string
	// Project defaults to the manifest's metadata.project_name.
	Project string
	Env     string
}

// Publisher publishes manifests to a registry.
type Publisher struct {
	registry *registry.Registry
	recorder Recorder
	logger   *slog.Logger
}

// New creates a Publisher. recorder may be nil.
func New(reg *registry.Registry, recorder Recorder, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{registry: reg, recorder: recorder, logger: logger}
}

// Publish reads the manifest and copies its bytes, unchanged, to the latest
// and history destinations.
func (p *Publisher) Publish(ctx context.Context, req Request) (*registry.PublishResult, error) {
	path := req.ManifestPath
	if path == "" {
		path = DefaultManifestPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NotFound(path, "manifest file does not exist; run the build first", nil)
		}
		return nil, core.Storage(path, false, err)
	}

	// Parsing guards the registry against publishing something consumers
	// cannot read; the bytes written are still the originals.
	m, err := manifest.Parse(data, path)
	if err != nil {
		return nil, err
	}

	project := req.Project
	switch {
	case project == "" && m.Project == "":
		return nil, core.Validation(path, "metadata.project_name",
			"cannot derive the project name; pass --project")
	case project == "":
		project = m.Project
	case m.Project != "" && m.Project != project:
		p.logger.Warn("publishing under a project name that differs from the manifest",
			slog.String("project", project),
			slog.String("manifest_project", m.Project))
	}

	p.logger.Debug("publishing manifest",
		slog.String("path", path),
		slog.String("project", project),
		slog.String("env", req.Env),
		slog.Int("bytes", len(data)))

	res, err := p.registry.Publish(ctx, project, req.Env, data)
	if err != nil {
		return nil, err
	}

	if p.recorder != nil {
		rec := &state.Publish{
			Project:    res.Project,
			Env:        res.Env,
			LatestKey:  res.LatestKey,
			HistoryKey: res.HistoryKey,
			Timestamp:  registry.FormatTimestamp(res.Timestamp),
			Size:       int64(res.Size),
			Location:   res.Location,
			SourcePath: path,
		}
		// The registry already holds the manifest; a ledger failure is not a
		// publish failure.
		if err := p.recorder.RecordPublish(ctx, rec); err != nil {
			p.logger.Warn("failed to record publish in state store", slog.String("error", err.Error()))
		}
	}

	return res, nil
}
