package presence

import (
	"errors"
	"strings"

	logx "meshgate/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if presence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown presence driver: " + driver)
	}
}
