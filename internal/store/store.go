package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vigil/internal/pipeline"
)

// Store persists sessions and stable detection events to SQLite. Raw
// (unstable) detections are deliberately not stored; the store records what
// the system actually surfaced.
type Store struct {
	db *sql.DB
}

// SessionRecord is one run of the pipeline.
type SessionRecord struct {
	ID              string
	StartedAt       time.Time
	EndedAt         *time.Time
	FramesProcessed uint64
}

// DetectionRecord is one stable detection surfaced during a session.
type DetectionRecord struct {
	ID             string
	SessionID      string
	FrameSeq       uint64
	Timestamp      time.Time
	Class          string
	ClassID        int
	Confidence     float64
	StabilityCount int
	X1, Y1, X2, Y2 float64
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent reads while the recorder writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frames_processed INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			frame_seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			class TEXT NOT NULL,
			class_id INTEGER NOT NULL,
			confidence REAL NOT NULL,
			stability_count INTEGER NOT NULL,
			x1 REAL NOT NULL, y1 REAL NOT NULL,
			x2 REAL NOT NULL, y2 REAL NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_session_time ON detections(session_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_class ON detections(class, timestamp DESC)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession inserts a new session and returns its ID.
func (s *Store) StartSession() (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession stamps a session's end time and final frame count.
func (s *Store) EndSession(id string, framesProcessed uint64) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, frames_processed = ? WHERE id = ?`,
		time.Now().UTC(), framesProcessed, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// InsertDetections persists the stable detections from one frame in a single
// transaction.
func (s *Store) InsertDetections(sessionID string, result *pipeline.StabilizedResult) error {
	if len(result.Stabilized) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO detections
		(id, session_id, frame_seq, timestamp, class, class_id, confidence, stability_count, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range result.Stabilized {
		_, err := stmt.Exec(
			uuid.NewString(), sessionID, result.FrameSeq, result.Timestamp.UTC(),
			d.Class, d.ClassID, float64(d.Confidence), d.StabilityCount,
			float64(d.Box.X1), float64(d.Box.Y1), float64(d.Box.X2), float64(d.Box.Y2),
		)
		if err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// RecentDetections returns the newest stable detections for a session,
// newest first.
func (s *Store) RecentDetections(sessionID string, limit int) ([]DetectionRecord, error) {
	rows, err := s.db.Query(`SELECT id, session_id, frame_seq, timestamp, class, class_id,
		confidence, stability_count, x1, y1, x2, y2
		FROM detections WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var records []DetectionRecord
	for rows.Next() {
		var r DetectionRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.FrameSeq, &r.Timestamp, &r.Class, &r.ClassID,
			&r.Confidence, &r.StabilityCount, &r.X1, &r.Y1, &r.X2, &r.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountBySession returns how many stable detections a session produced.
func (s *Store) CountBySession(sessionID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM detections WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}

// Recorder subscribes to the event bus and persists stable detections for
// one session. Persistence failures are logged and never affect the frame
// path.
type Recorder struct {
	store     *Store
	sessionID string
}

// NewRecorder creates a recorder for the given session.
func NewRecorder(store *Store, sessionID string) *Recorder {
	return &Recorder{store: store, sessionID: sessionID}
}

// OnResult implements pipeline.ResultHandler.
func (r *Recorder) OnResult(result *pipeline.StabilizedResult) {
	if err := r.store.InsertDetections(r.sessionID, result); err != nil {
		log.Printf("[Store] Failed to persist detections for frame %d: %v", result.FrameSeq, err)
	}
}

var _ pipeline.ResultHandler = (*Recorder)(nil)
