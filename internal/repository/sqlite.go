// Package store persists sessions, turns, events and discussions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/agentmux/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			agent_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			display_name TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			session_name TEXT NOT NULL,
			state TEXT NOT NULL,
			last_error TEXT,
			started_at DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			event_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			display_name TEXT NOT NULL,
			text TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_agent ON turns(agent_id, ts)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			agent_id TEXT,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id, ts)`,
		`CREATE TABLE IF NOT EXISTS discussions (
			run_id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			phase TEXT NOT NULL,
			participants TEXT NOT NULL,
			cancelled INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS discussion_responses (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, round, agent_id),
			FOREIGN KEY (run_id) REFERENCES discussions(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS discussion_scores (
			run_id TEXT NOT NULL,
			evaluated TEXT NOT NULL,
			evaluator TEXT NOT NULL,
			score INTEGER NOT NULL,
			PRIMARY KEY (run_id, evaluated, evaluator),
			FOREIGN KEY (run_id) REFERENCES discussions(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first release.
	if err := s.ensureColumn("discussions", "eliminated", "ALTER TABLE discussions ADD COLUMN eliminated TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSession creates or replaces the stored state of an agent session.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.AgentSession) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (agent_id, kind, display_name, work_dir, session_name, state, last_error, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			kind = excluded.kind,
			display_name = excluded.display_name,
			work_dir = excluded.work_dir,
			session_name = excluded.session_name,
			state = excluded.state,
			last_error = excluded.last_error,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at`,
		session.AgentID, session.Kind, session.DisplayName, session.WorkDir, session.SessionName,
		session.State, session.LastError, session.StartedAt, session.UpdatedAt)
	return err
}

func scanSession(scan func(dest ...interface{}) error) (*domain.AgentSession, error) {
	var session domain.AgentSession
	var lastError sql.NullString
	var startedAt sql.NullTime
	if err := scan(&session.AgentID, &session.Kind, &session.DisplayName, &session.WorkDir, &session.SessionName,
		&session.State, &lastError, &startedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	if lastError.Valid {
		session.LastError = lastError.String
	}
	if startedAt.Valid {
		session.StartedAt = &startedAt.Time
	}
	return &session, nil
}

// GetSession retrieves a session by agent ID.
func (s *SQLiteStore) GetSession(ctx context.Context, agentID string) (*domain.AgentSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, kind, display_name, work_dir, session_name, state, last_error, started_at, updated_at
		 FROM agent_sessions WHERE agent_id = ?`, agentID)
	session, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions lists all stored sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.AgentSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, kind, display_name, work_dir, session_name, state, last_error, started_at, updated_at
		 FROM agent_sessions ORDER BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.AgentSession
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// CreateTurn records a conversational turn.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *domain.TurnEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (event_id, agent_id, role, display_name, text, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.EventID, turn.AgentID, turn.Role, turn.DisplayName, turn.Text, turn.Ts.UnixMilli())
	return err
}

// ListTurns returns up to limit turns for an agent, oldest first, optionally before a timestamp.
func (s *SQLiteStore) ListTurns(ctx context.Context, agentID string, limit int, beforeTs int64) ([]domain.TurnEvent, error) {
	query := `SELECT event_id, agent_id, role, display_name, text, ts FROM turns WHERE agent_id = ?`
	args := []interface{}{agentID}

	if beforeTs > 0 {
		query += ` AND ts < ?`
		args = append(args, beforeTs)
	}
	query += ` ORDER BY ts DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.TurnEvent
	for rows.Next() {
		var turn domain.TurnEvent
		var ts int64
		if err := rows.Scan(&turn.EventID, &turn.AgentID, &turn.Role, &turn.DisplayName, &turn.Text, &ts); err != nil {
			return nil, err
		}
		turn.Ts = time.UnixMilli(ts)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, agent_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.AgentID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events, optionally filtered by agent, time and type. An empty agentID
// matches every agent.
func (s *SQLiteStore) GetEvents(ctx context.Context, agentID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, agent_id, ts, type, payload FROM events WHERE 1 = 1`
	var args []interface{}

	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var agent, payload sql.NullString
		if err := rows.Scan(&event.EventID, &agent, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		event.AgentID = agent.String
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateDiscussion creates a discussion run.
func (s *SQLiteStore) CreateDiscussion(ctx context.Context, run *domain.DiscussionRun) error {
	participants, _ := json.Marshal(run.Participants)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discussions (run_id, question, phase, participants, cancelled, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Question, run.Phase, string(participants), run.Cancelled, run.StartedAt)
	return err
}

// UpdateDiscussion updates the phase and outcome of a discussion run.
func (s *SQLiteStore) UpdateDiscussion(ctx context.Context, runID string, phase domain.Phase, eliminated []string, cancelled bool, endedAt *time.Time) error {
	elim, _ := json.Marshal(eliminated)
	_, err := s.db.ExecContext(ctx,
		`UPDATE discussions SET phase = ?, eliminated = ?, cancelled = ?, ended_at = ? WHERE run_id = ?`,
		phase, string(elim), cancelled, endedAt, runID)
	return err
}

// GetDiscussion retrieves a discussion run with its responses and scores.
func (s *SQLiteStore) GetDiscussion(ctx context.Context, runID string) (*domain.DiscussionRun, error) {
	var run domain.DiscussionRun
	var participants string
	var eliminated sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, question, phase, participants, eliminated, cancelled, started_at, ended_at FROM discussions WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.Question, &run.Phase, &participants, &eliminated, &run.Cancelled, &run.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &run.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	if eliminated.Valid && eliminated.String != "" {
		var ids []string
		if err := json.Unmarshal([]byte(eliminated.String), &ids); err == nil && len(ids) > 0 {
			run.Eliminated = make(map[string]bool, len(ids))
			for _, id := range ids {
				run.Eliminated[id] = true
			}
		}
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}

	if err := s.loadResponses(ctx, &run); err != nil {
		return nil, err
	}
	if err := s.loadScores(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) loadResponses(ctx context.Context, run *domain.DiscussionRun) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, round, agent_id, text, created_at FROM discussion_responses WHERE run_id = ? ORDER BY round, created_at, rowid`,
		run.RunID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.DiscussionResponse
		if err := rows.Scan(&r.RunID, &r.Round, &r.AgentID, &r.Text, &r.At); err != nil {
			return err
		}
		switch r.Round {
		case 1:
			run.Round1 = append(run.Round1, r)
		case 2:
			run.Round2 = append(run.Round2, r)
		case 3:
			run.Round3 = append(run.Round3, r)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadScores(ctx context.Context, run *domain.DiscussionRun) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT evaluated, evaluator, score FROM discussion_scores WHERE run_id = ?`, run.RunID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var evaluated, evaluator string
		var score int
		if err := rows.Scan(&evaluated, &evaluator, &score); err != nil {
			return err
		}
		if run.Scores == nil {
			run.Scores = make(map[string]map[string]int)
		}
		if run.Scores[evaluated] == nil {
			run.Scores[evaluated] = make(map[string]int)
		}
		run.Scores[evaluated][evaluator] = score
	}
	return rows.Err()
}

// CreateDiscussionResponse records one participant's answer for a round.
func (s *SQLiteStore) CreateDiscussionResponse(ctx context.Context, resp *domain.DiscussionResponse) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO discussion_responses (run_id, round, agent_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		resp.RunID, resp.Round, resp.AgentID, resp.Text, resp.At)
	return err
}

// SaveScores replaces the peer scores of a run in a single transaction.
func (s *SQLiteStore) SaveScores(ctx context.Context, runID string, scores []domain.Score) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM discussion_scores WHERE run_id = ?`, runID); err != nil {
		return err
	}

	for _, sc := range scores {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO discussion_scores (run_id, evaluated, evaluator, score) VALUES (?, ?, ?, ?)`,
			runID, sc.Evaluated, sc.Evaluator, sc.Score); err != nil {
			return err
		}
	}
	return tx.Commit()
}
