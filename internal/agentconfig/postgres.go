package agentconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// PostgresStore is the multi-node-safe Store backend, for deployments
// that run more than one agent runtime process against shared state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: connect: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("agentconfig: initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS agent_configurations (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		template_id      TEXT NOT NULL,
		template_version TEXT NOT NULL,
		configuration    JSONB NOT NULL DEFAULT '{}'::jsonb,
		metadata         JSONB NOT NULL DEFAULT '{}'::jsonb
	);
	CREATE INDEX IF NOT EXISTS idx_agent_configurations_template ON agent_configurations(template_id, template_version);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgConfig(row pgx.Row) (v1.AgentConfiguration, error) {
	var cfg v1.AgentConfiguration
	var configJSON, metadataJSON []byte
	if err := row.Scan(&cfg.ID, &cfg.Name, &cfg.TemplateID, &cfg.TemplateVersion, &configJSON, &metadataJSON); err != nil {
		return v1.AgentConfiguration{}, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &cfg.Configuration); err != nil {
			return v1.AgentConfiguration{}, fmt.Errorf("decode configuration: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cfg.Metadata); err != nil {
			return v1.AgentConfiguration{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return cfg, nil
}

// Find implements Store.
func (s *PostgresStore) Find(ctx context.Context, agentID string) (v1.AgentConfiguration, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, template_id, template_version, configuration, metadata FROM agent_configurations WHERE id = $1`, agentID)
	cfg, err := scanPgConfig(row)
	if err == pgx.ErrNoRows {
		return v1.AgentConfiguration{}, ErrNotFound
	}
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: find %s: %w", agentID, err)
	}
	return cfg, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	configJSON, err := json.Marshal(nonNilMap(cfg.Configuration))
	if err != nil {
		return v1.AgentConfiguration{}, err
	}
	metadataJSON, err := json.Marshal(nonNilMap(cfg.Metadata))
	if err != nil {
		return v1.AgentConfiguration{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_configurations (id, name, template_id, template_version, configuration, metadata) VALUES ($1, $2, $3, $4, $5, $6)`,
		cfg.ID, cfg.Name, cfg.TemplateID, cfg.TemplateVersion, configJSON, metadataJSON)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: create %s: %w", cfg.ID, err)
	}
	return cfg, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error) {
	configJSON, err := json.Marshal(nonNilMap(cfg.Configuration))
	if err != nil {
		return v1.AgentConfiguration{}, err
	}
	metadataJSON, err := json.Marshal(nonNilMap(cfg.Metadata))
	if err != nil {
		return v1.AgentConfiguration{}, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_configurations SET name = $1, template_id = $2, template_version = $3, configuration = $4, metadata = $5 WHERE id = $6`,
		cfg.Name, cfg.TemplateID, cfg.TemplateVersion, configJSON, metadataJSON, cfg.ID)
	if err != nil {
		return v1.AgentConfiguration{}, fmt.Errorf("agentconfig: update %s: %w", cfg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return v1.AgentConfiguration{}, ErrNotFound
	}
	return cfg, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_configurations WHERE id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("agentconfig: delete %s: %w", agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]v1.AgentConfiguration, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, template_id, template_version, configuration, metadata FROM agent_configurations`)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: list: %w", err)
	}
	defer rows.Close()

	var out []v1.AgentConfiguration
	for rows.Next() {
		cfg, err := scanPgConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("agentconfig: scan row: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
