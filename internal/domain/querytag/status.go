package querytag

import (
	"fmt"
	"strings"
)

// Level is the granularity at which a tag is indexed. Values are persisted.
type Level int

// Index levels.
const (
	LevelInstance Level = 0
	LevelSeries   Level = 1
	LevelStudy    Level = 2
)

// ParseLevel parses "Study", "Series" or "Instance", ignoring case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instance":
		return LevelInstance, nil
	case "series":
		return LevelSeries, nil
	case "study":
		return LevelStudy, nil
	default:
		return 0, fmt.Errorf("invalid level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelInstance:
		return "Instance"
	case LevelSeries:
		return "Series"
	case LevelStudy:
		return "Study"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// IsValid checks the level is known.
func (l Level) IsValid() bool {
	return l >= LevelInstance && l <= LevelStudy
}

// Status is the lifecycle state of a registry entry. Values are persisted.
type Status int

// Lifecycle states.
const (
	StatusAdding     Status = 0
	StatusReindexing Status = 1
	StatusReady      Status = 2
	StatusDeleting   Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusAdding:
		return "Adding"
	case StatusReindexing:
		return "Reindexing"
	case StatusReady:
		return "Ready"
	case StatusDeleting:
		return "Deleting"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IsValid checks the status is known.
func (s Status) IsValid() bool {
	return s >= StatusAdding && s <= StatusDeleting
}

// QueryStatus controls whether a tag may be used in queries. Values are persisted.
type QueryStatus int

// Query states.
const (
	QueryDisabled QueryStatus = 0
	QueryEnabled  QueryStatus = 1
)

// ParseQueryStatus parses "Enabled" or "Disabled", ignoring case.
func ParseQueryStatus(s string) (QueryStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enabled":
		return QueryEnabled, nil
	case "disabled":
		return QueryDisabled, nil
	default:
		return 0, fmt.Errorf("invalid query status %q", s)
	}
}

func (q QueryStatus) String() string {
	if q == QueryEnabled {
		return "Enabled"
	}
	return "Disabled"
}
