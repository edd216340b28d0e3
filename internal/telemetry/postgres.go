package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by sink reads when no row or document matches.
var ErrNotFound = errors.New("telemetry: not found")

// Compile-time interface check.
var _ RelationalSink = (*PostgresSink)(nil)

// schemaSQL creates the call, scenario and user tables. Idempotent.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS calls (
    id SERIAL PRIMARY KEY,
    call_id VARCHAR(64) UNIQUE NOT NULL,
    uuid VARCHAR(64),
    caller VARCHAR(64) DEFAULT 'unknown',
    scenario_id VARCHAR(128),
    mode VARCHAR(32) DEFAULT 'pipeline',
    robot_name VARCHAR(128) DEFAULT '',
    language VARCHAR(16) DEFAULT 'ru',
    status VARCHAR(32) DEFAULT 'active',
    started_at TIMESTAMPTZ DEFAULT NOW(),
    ended_at TIMESTAMPTZ,
    duration_sec REAL,
    turns INT DEFAULT 0,
    barge_ins INT DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls (caller);
CREATE INDEX IF NOT EXISTS idx_calls_status ON calls (status);

CREATE TABLE IF NOT EXISTS scenarios (
    id SERIAL PRIMARY KEY,
    name VARCHAR(128) UNIQUE NOT NULL,
    mode VARCHAR(32) DEFAULT 'pipeline',
    system_prompt TEXT DEFAULT '',
    config_json JSONB DEFAULT '{}',
    tts_voice VARCHAR(64) DEFAULT '',
    language VARCHAR(16) DEFAULT 'ru',
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    username VARCHAR(64) UNIQUE NOT NULL,
    password_hash VARCHAR(256) NOT NULL,
    role VARCHAR(32) DEFAULT 'viewer',
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`

// CallRow is one row of the calls table.
type CallRow struct {
	ID          int64
	CallID      string
	UUID        string
	Caller      string
	ScenarioID  string
	Mode        string
	RobotName   string
	Language    string
	Status      string
	StartedAt   time.Time
	EndedAt     *time.Time
	DurationSec *float64
	Turns       int
	BargeIns    int
}

// ScenarioRow is one row of the scenarios table.
type ScenarioRow struct {
	ID           int64
	Name         string
	Mode         string
	SystemPrompt string
	ConfigJSON   []byte
	TTSVoice     string
	Language     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRow is one row of the users table. PasswordHash is never exposed by
// list operations.
type UserRow struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// PostgresSink is the relational sink for call records, scenarios and
// dashboard users. All operations are safe for concurrent use.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to the database at dsn, verifies the connection
// and creates the schema.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: migrate: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// InsertCall records an accepted call and implements RelationalSink.
func (s *PostgresSink) InsertCall(ctx context.Context, ev CallStart) error {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO calls (call_id, uuid, caller, scenario_id, mode, robot_name, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		ev.CallID, ev.UUID, orUnknown(ev.Caller), ev.ScenarioID, ev.Mode, ev.RobotName, ev.Language,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("postgres sink: insert call: %w", err)
	}
	return nil
}

// FinishCall closes out a call row and implements RelationalSink.
func (s *PostgresSink) FinishCall(ctx context.Context, ev CallEnd) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calls
		SET ended_at = NOW(), duration_sec = $2, turns = $3, barge_ins = $4, status = $5
		WHERE call_id = $1`,
		ev.CallID, ev.DurationSec, ev.Turns, ev.BargeIns, ev.Status,
	)
	if err != nil {
		return fmt.Errorf("postgres sink: finish call: %w", err)
	}
	return nil
}

// GetCall fetches a single call by its public ID.
func (s *PostgresSink) GetCall(ctx context.Context, callID string) (CallRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, COALESCE(uuid, ''), caller, COALESCE(scenario_id, ''), mode,
		       robot_name, language, status, started_at, ended_at, duration_sec, turns, barge_ins
		FROM calls WHERE call_id = $1`, callID)
	if err != nil {
		return CallRow{}, fmt.Errorf("postgres sink: get call: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, scanCallRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRow{}, ErrNotFound
	}
	if err != nil {
		return CallRow{}, fmt.Errorf("postgres sink: get call: %w", err)
	}
	return row, nil
}

// ListCalls pages through calls, most recent first.
func (s *PostgresSink) ListCalls(ctx context.Context, limit, offset int) ([]CallRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, COALESCE(uuid, ''), caller, COALESCE(scenario_id, ''), mode,
		       robot_name, language, status, started_at, ended_at, duration_sec, turns, barge_ins
		FROM calls ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list calls: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanCallRow)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list calls: %w", err)
	}
	return out, nil
}

func scanCallRow(row pgx.CollectableRow) (CallRow, error) {
	var c CallRow
	err := row.Scan(&c.ID, &c.CallID, &c.UUID, &c.Caller, &c.ScenarioID, &c.Mode,
		&c.RobotName, &c.Language, &c.Status, &c.StartedAt, &c.EndedAt, &c.DurationSec,
		&c.Turns, &c.BargeIns)
	return c, err
}

// UpsertScenario inserts or refreshes a scenario by name and returns its ID.
func (s *PostgresSink) UpsertScenario(ctx context.Context, name, mode, systemPrompt, ttsVoice, language string, config map[string]any) (int64, error) {
	if config == nil {
		config = map[string]any{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return 0, fmt.Errorf("postgres sink: marshal scenario config: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO scenarios (name, mode, system_prompt, config_json, tts_voice, language)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			mode = EXCLUDED.mode,
			system_prompt = EXCLUDED.system_prompt,
			config_json = EXCLUDED.config_json,
			tts_voice = EXCLUDED.tts_voice,
			language = EXCLUDED.language,
			updated_at = NOW()
		RETURNING id`,
		name, mode, systemPrompt, configJSON, ttsVoice, language,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres sink: upsert scenario: %w", err)
	}
	return id, nil
}

// GetScenario fetches a scenario by name.
func (s *PostgresSink) GetScenario(ctx context.Context, name string) (ScenarioRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, mode, system_prompt, config_json, tts_voice, language, created_at, updated_at
		FROM scenarios WHERE name = $1`, name)
	if err != nil {
		return ScenarioRow{}, fmt.Errorf("postgres sink: get scenario: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, scanScenarioRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScenarioRow{}, ErrNotFound
	}
	if err != nil {
		return ScenarioRow{}, fmt.Errorf("postgres sink: get scenario: %w", err)
	}
	return row, nil
}

// ListScenarios returns all scenarios ordered by name.
func (s *PostgresSink) ListScenarios(ctx context.Context) ([]ScenarioRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, mode, system_prompt, config_json, tts_voice, language, created_at, updated_at
		FROM scenarios ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list scenarios: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanScenarioRow)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list scenarios: %w", err)
	}
	return out, nil
}

func scanScenarioRow(row pgx.CollectableRow) (ScenarioRow, error) {
	var sc ScenarioRow
	err := row.Scan(&sc.ID, &sc.Name, &sc.Mode, &sc.SystemPrompt, &sc.ConfigJSON,
		&sc.TTSVoice, &sc.Language, &sc.CreatedAt, &sc.UpdatedAt)
	return sc, err
}

// CreateUser adds a dashboard user and returns its ID.
func (s *PostgresSink) CreateUser(ctx context.Context, username, passwordHash, role string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id`,
		username, passwordHash, role,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres sink: create user: %w", err)
	}
	return id, nil
}

// GetUser fetches a dashboard user by username.
func (s *PostgresSink) GetUser(ctx context.Context, username string) (UserRow, error) {
	var u UserRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRow{}, ErrNotFound
	}
	if err != nil {
		return UserRow{}, fmt.Errorf("postgres sink: get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all dashboard users without password hashes.
func (s *PostgresSink) ListUsers(ctx context.Context) ([]UserRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, role, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list users: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UserRow, error) {
		var u UserRow
		err := row.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list users: %w", err)
	}
	return out, nil
}

// Ping verifies the pool can still reach the server. Used by the readiness
// probe.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool and implements RelationalSink.
func (s *PostgresSink) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func orUnknown(caller string) string {
	if caller == "" {
		return "unknown"
	}
	return caller
}
