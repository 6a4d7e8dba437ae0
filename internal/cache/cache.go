// Package cache keeps the last conversation snapshot in a local SQLite
// database so a restarted client can show stale-but-visible data before the
// first load completes. The database is opened lazily; if opening or
// querying fails the package degrades to a no-op and the client simply
// starts empty.
package cache

import (
	"database/sql"
	"encoding/json"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/logger"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/store"
)

// Snapshot is a best-effort local copy of the conversation list.
type Snapshot struct {
	path string

	once    sync.Once
	db      *sql.DB
	initErr error
}

// Open creates a Snapshot cache backed by the file at path. An empty path
// disables caching.
func Open(path string) *Snapshot {
	return &Snapshot{path: path}
}

func (s *Snapshot) init() {
	if s.path == "" {
		return
	}
	var err error
	s.db, err = sql.Open("sqlite", "file:"+s.path+"?_busy_timeout=10000")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; snapshot cache disabled", "error", err)
		return
	}
	if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS conversations (
        position INTEGER PRIMARY KEY,
        id TEXT NOT NULL,
        payload TEXT NOT NULL
    );`); err != nil {
		s.initErr = err
		logger.L.Warn("sqlite table creation failed; snapshot cache disabled", "error", err)
		return
	}
}

func (s *Snapshot) ready() bool {
	s.once.Do(s.init)
	return s.initErr == nil && s.db != nil
}

// Store replaces the cached snapshot with the given ordered list. Failures
// are logged and otherwise ignored; the cache is advisory.
func (s *Snapshot) Store(convs []store.Conversation) {
	if !s.ready() {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		logger.L.Warn("snapshot cache write failed", "error", err)
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM conversations;`); err != nil {
		logger.L.Warn("snapshot cache write failed", "error", err)
		return
	}
	for i, c := range convs {
		var payload []byte
		payload, err = json.Marshal(c)
		if err != nil {
			logger.L.Warn("snapshot cache marshal failed", "conversation_id", c.ID, "error", err)
			return
		}
		if _, err = tx.Exec(`INSERT INTO conversations (position, id, payload) VALUES (?,?,?);`, i, c.ID, string(payload)); err != nil {
			logger.L.Warn("snapshot cache write failed", "error", err)
			return
		}
	}
	if err = tx.Commit(); err != nil {
		logger.L.Warn("snapshot cache commit failed", "error", err)
	}
}

// Load returns the cached snapshot in stored order, or nil when the cache
// is empty or unavailable. A miss is not an error.
func (s *Snapshot) Load() []store.Conversation {
	if !s.ready() {
		return nil
	}

	rows, err := s.db.Query(`SELECT payload FROM conversations ORDER BY position ASC;`)
	if err != nil {
		logger.L.Warn("snapshot cache read failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []store.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			logger.L.Warn("snapshot cache scan failed", "error", err)
			return nil
		}
		var c store.Conversation
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			logger.L.Warn("snapshot cache decode failed", "error", err)
			return nil
		}
		out = append(out, c)
	}
	// A mid-iteration failure would otherwise surface as a silently
	// truncated snapshot; treat it as a miss instead.
	if err := rows.Err(); err != nil {
		logger.L.Warn("snapshot cache read failed", "error", err)
		return nil
	}
	return out
}

// Close releases the underlying database.
func (s *Snapshot) Close() error {
	s.once.Do(s.init)
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
