package presence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	logx "meshgate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Fixed-width UTC so lexical order in SQLite equals time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	clk clockwork.Clock
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers; each upsert is its own transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "presence")), clk: clk}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Upsert(ctx context.Context, fullID, shortName, longName string) (Result, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	fullID = strings.TrimSpace(fullID)
	if fullID == "" {
		return 0, errors.New("node id required")
	}
	key := Key(fullID)
	now := s.clk.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		storedShort, storedLong sql.NullString
		lastSeen                sqlTime
		mergedShort, mergedLong string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT short_name, long_name, last_seen FROM nodes WHERE id = ?`, key,
	).Scan(&storedShort, &storedLong, &lastSeen)

	var res Result
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res = Inserted
		ts := now.Format(tsLayout)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO nodes(id, short_name, long_name, first_seen, last_seen) VALUES(?,?,?,?,?)`,
			key, shortName, longName, ts, ts,
		)
	case err != nil:
		return 0, fmt.Errorf("select %s: %w", key, err)
	default:
		mergedShort = storedShort.String
		if shortName != "" {
			mergedShort = shortName
		}
		mergedLong = storedLong.String
		if longName != "" {
			mergedLong = longName
		}

		seen := now
		if lastSeen.Time.After(seen) {
			seen = lastSeen.Time
		}
		ts := seen.UTC().Format(tsLayout)

		if mergedShort != storedShort.String || mergedLong != storedLong.String {
			res = Updated
			_, err = tx.ExecContext(ctx,
				`UPDATE nodes SET short_name = ?, long_name = ?, last_seen = ? WHERE id = ?`,
				mergedShort, mergedLong, ts, key,
			)
		} else {
			res = Heartbeat
			_, err = tx.ExecContext(ctx, `UPDATE nodes SET last_seen = ? WHERE id = ?`, ts, key)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	switch res {
	case Inserted:
		s.log.Info("new node seen", logx.String("id", key), logx.String("full_id", fullID), logx.String("short", shortName), logx.String("long", longName))
	case Updated:
		s.log.Info("updated node already seen", logx.String("id", key), logx.String("short", mergedShort), logx.String("long", mergedLong))
	default:
		s.log.Debug("node heartbeat", logx.String("id", key))
	}
	return res, nil
}

func (s *sqliteStore) ListSeen(ctx context.Context) ([]NodeRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, short_name, long_name, first_seen, last_seen FROM nodes ORDER BY last_seen DESC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []NodeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (NodeRecord, bool, error) {
	if s == nil || s.db == nil {
		return NodeRecord{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, short_name, long_name, first_seen, last_seen FROM nodes WHERE id = ?`, Key(id),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return NodeRecord{}, false, nil
	}
	if err != nil {
		return NodeRecord{}, false, err
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (NodeRecord, error) {
	var (
		rec         NodeRecord
		short, long sql.NullString
		first, last sqlTime
	)
	if err := sc.Scan(&rec.ID, &short, &long, &first, &last); err != nil {
		return NodeRecord{}, err
	}
	rec.ShortName = short.String
	rec.LongName = long.String
	rec.FirstSeen = first.Time
	rec.LastSeen = last.Time
	return rec, nil
}

// sqlTime scans TIMESTAMP columns whether the driver hands back text or a
// parsed time.Time.
type sqlTime struct{ Time time.Time }

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range []string{tsLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999"} {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
