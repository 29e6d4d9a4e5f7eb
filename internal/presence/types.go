package presence

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrDisabled = errors.New("presence disabled")

// Config configures the presence store.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", presence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
	// Clock stamps observations. Nil means the real clock.
	Clock clockwork.Clock
}

// NodeRecord is one observed node.
type NodeRecord struct {
	ID        string    `json:"id"`
	ShortName string    `json:"short_name"`
	LongName  string    `json:"long_name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Result describes what an Upsert changed.
type Result int

const (
	Inserted Result = iota + 1
	Updated
	Heartbeat
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Heartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Store is the presence persistence API.
type Store interface {
	// Upsert records an observation of fullID. Empty names keep the stored
	// values; firstSeen is set once and lastSeen never moves backwards.
	Upsert(ctx context.Context, fullID, shortName, longName string) (Result, error)
	// ListSeen returns all records, most recently seen first.
	ListSeen(ctx context.Context) ([]NodeRecord, error)
	Get(ctx context.Context, id string) (NodeRecord, bool, error)
	Close() error
}

// Key derives the record id from a full node id.
func Key(fullID string) string {
	r := []rune(fullID)
	if len(r) <= 4 {
		return fullID
	}
	return string(r[len(r)-4:])
}
