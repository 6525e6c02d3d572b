package agentconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// SQLiteStore is the single-writer, file-backed Store backend, used
// for durable single-node deployments that don't need Postgres.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if absent) the sqlite database at
// dbPath and ensures its schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("agentconfig: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("agentconfig: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS agent_configurations (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		template_id      TEXT NOT NULL,
		template_version TEXT NOT NULL,
		configuration    TEXT DEFAULT '{}',
		metadata         TEXT DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_agent_configurations_template ON agent_configurations(template_id, template_version);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func marshalMap(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMap(raw string) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func scanConfig(row interface{ Scan(dest ...interface{}) error }) (v1.AgentConfiguration, error) {
	var cfg v1.AgentConfiguration
	var configJSON, metadataJSON string
	if err := row.Scan(&cfg.ID, &cfg.Name, &cfg.TemplateID, &cfg.TemplateVersion, &configJSON, &metadataJSON); err != nil {
		return v1.AgentConfiguration{}, err
	}
	var err error
	cfg.Configuration, err = unmarshalMap(configJSON)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: decode configuration: %w", err)
	}
	cfg.Metadata, err = unmarshalMap(metadataJSON)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: decode metadata: %w", err)
	}
	return cfg, nil
}

// Find implements Store.
func (s *SQLiteStore) Find(ctx context.Context, agentID string) (v1.AgentConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, template_id, template_version, configuration, metadata FROM agent_configurations WHERE id = ?`, agentID)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return v1.AgentConfiguration{}, ErrNotFound
	}
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: find %s: %w", agentID, err)
	}
	return cfg, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	configJSON, err := marshalMap(cfg.Configuration)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: encode configuration: %w", err)
	}
	metadataJSON, err := marshalMap(cfg.Metadata)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_configurations (id, name, template_id, template_version, configuration, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, cfg.TemplateID, cfg.TemplateVersion, configJSON, metadataJSON)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: create %s: %w", cfg.ID, err)
	}
	return cfg, nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error) {
	configJSON, err := marshalMap(cfg.Configuration)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: encode configuration: %w", err)
	}
	metadataJSON, err := marshalMap(cfg.Metadata)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_configurations SET name = ?, template_id = ?, template_version = ?, configuration = ?, metadata = ? WHERE id = ?`,
		cfg.Name, cfg.TemplateID, cfg.TemplateVersion, configJSON, metadataJSON, cfg.ID)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: update %s: %w", cfg.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return v1.AgentConfiguration{}, ErrNotFound
	}
	return cfg, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, agentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_configurations WHERE id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("agentconfig: delete %s: %w", agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]v1.AgentConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, template_id, template_version, configuration, metadata FROM agent_configurations`)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: list: %w", err)
	}
	defer rows.Close()

	var out []v1.AgentConfiguration
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("agentconfig: scan row: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}
