package registry

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Layout constants. The key shapes are a contract shared with every consumer
// of the registry and must not change:
//
//	registry/{project}/{env}/latest/manifest.json
//	registry/{project}/{env}/history/{timestamp}/manifest.json
const (
	Root         = "registry"
	LatestDir    = "latest"
	HistoryDir   = "history"
	ManifestFile = "manifest.json"

	// TimestampFormat is basic ISO 8601 in UTC, e.g. 20260123T064541Z.
	TimestampFormat = "20060102T150405Z"
)

// LatestKey returns the key of the current contract manifest.
func LatestKey(project, env string) string {
	return path.Join(Root, project, env, LatestDir, ManifestFile)
}

// HistoryKey returns the key of the audit copy published at ts.
func HistoryKey(project, env string, ts time.Time) string {
	return path.Join(Root, project, env, HistoryDir, FormatTimestamp(ts), ManifestFile)
}

// HistoryPrefix returns the prefix under which all history entries live.
func HistoryPrefix(project, env string) string {
	return path.Join(Root, project, env, HistoryDir) + "/"
}

// FormatTimestamp renders ts as a history key component.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses a history key component.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}

// ValidateName checks a project or environment name used as a key segment.
func ValidateName(field, name string) error {
	if name == "" {
		return core.Validation("", field, fmt.Sprintf("%s name is required", field))
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return core.Validation("", field, fmt.Sprintf("%s name %q may not contain path separators", field, name))
	}
	return nil
}

// parseHistoryKey extracts the timestamp from a history manifest key.
func parseHistoryKey(key string) (time.Time, bool) {
	if path.Base(key) != ManifestFile {
		return time.Time{}, false
	}
	ts, err := ParseTimestamp(path.Base(path.Dir(key)))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
