package sink

import (
	"database/sql"
	"encoding/json"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/fkie-cad/honeypots/internal/event"
)

// SQLite persists events into a single append-only table.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) createTables() error {
	_, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			src_ip TEXT,
			src_port INTEGER,
			dest_ip TEXT,
			dest_port INTEGER,
			data TEXT
		)`,
	)
	return err
}

func (s *SQLite) Log(e event.Event) {
	var data any
	if len(e.Data) > 0 {
		blob, err := json.Marshal(e.Data)
		if err != nil {
			log.Debug().Err(err).Str("action", e.Action).Msg("sqlite sink: data not serializable")
		} else {
			data = string(blob)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO events (timestamp, action, src_ip, src_port, dest_ip, dest_port, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Action, e.SrcIP, nullableInt(e.SrcPort), e.DstIP, nullableInt(e.DstPort), data,
	)
	if err != nil {
		log.Error().Err(err).Str("action", e.Action).Msg("sqlite sink: insert failed")
	}
}

// CountByAction reports stored event counts, used by operator tooling.
func (s *SQLite) CountByAction(action string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE action = ?`, action).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
