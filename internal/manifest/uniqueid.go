package manifest

import (
	"fmt"
	"strings"
)

// Kind is the resource type encoded in a node's unique id.
type Kind string

// Node kinds.
const (
	KindModel    Kind = "model"
	KindSource   Kind = "source"
	KindSeed     Kind = "seed"
	KindSnapshot Kind = "snapshot"
	KindTest     Kind = "test"
	KindOther    Kind = "other"
)

// ParseKind maps a resource type string to a Kind. Unknown types map to KindOther.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(s)) {
	case KindModel:
		return KindModel
	case KindSource:
		return KindSource
	case KindSeed:
		return KindSeed
	case KindSnapshot:
		return KindSnapshot
	case KindTest:
		return KindTest
	default:
		return KindOther
	}
}

// UniqueID is a parsed node identifier: {kind}.{project}.{name}.
// Name keeps any further dots, e.g. source.down.up.orders has name "up.orders".
type UniqueID struct {
	Raw     string
	Kind    Kind
	Project string
	Name    string
}

func (u UniqueID) String() string { return u.Raw }

// ParseID splits a unique id on its first two separators.
func ParseID(id string) (UniqueID, error) {
	parts := strings.SplitN(id, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return UniqueID{}, fmt.Errorf("unique id %q is not of the form kind.project.name", id)
	}
	return UniqueID{
		Raw:     id,
		Kind:    ParseKind(parts[0]),
		Project: parts[1],
		Name:    parts[2],
	}, nil
}

// ProjectOf returns the project component of id, or "" if id is malformed.
func ProjectOf(id string) string {
	u, err := ParseID(id)
	if err != nil {
		return ""
	}
	return u.Project
}
