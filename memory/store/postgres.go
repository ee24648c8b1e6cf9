package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/memory"
	"github.com/sweetpotato0/askdb/tool"
)

// PostgresStore implements MemoryStore using PostgreSQL full-text search
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "askdb",
		SSLMode:  "disable",
	}
}

// DSN renders the configuration as a lib/pq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewPostgresStore creates a new PostgreSQL-based knowledge store
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return NewPostgresStoreFromDB(ctx, db)
}

// NewPostgresStoreFromDB wraps an existing pool, creating the table if needed.
func NewPostgresStoreFromDB(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.createTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

// createTable creates the knowledge table if it doesn't exist
func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS askdb_knowledge (
		id VARCHAR(255) PRIMARY KEY,
		question TEXT NOT NULL DEFAULT '',
		answer TEXT NOT NULL DEFAULT '',
		queries JSONB NOT NULL DEFAULT '[]',
		content TEXT NOT NULL,
		metadata JSONB,
		search tsvector GENERATED ALWAYS AS (to_tsvector('english', question || ' ' || content)) STORED,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_askdb_knowledge_search ON askdb_knowledge USING GIN(search);
	CREATE INDEX IF NOT EXISTS idx_askdb_knowledge_created_at ON askdb_knowledge(created_at);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// AddMemory upserts a knowledge entry
func (s *PostgresStore) AddMemory(ctx context.Context, mem *memory.Memory) error {
	if mem == nil {
		return fmt.Errorf("memory cannot be nil")
	}
	memory.Prepare(mem)

	metadataJSON, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	queries := mem.Queries
	if queries == nil {
		queries = []tool.Query{}
	}
	queriesJSON, err := json.Marshal(queries)
	if err != nil {
		return fmt.Errorf("failed to marshal queries: %w", err)
	}

	query := `
	INSERT INTO askdb_knowledge (id, question, answer, queries, content, metadata, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		question = EXCLUDED.question,
		answer = EXCLUDED.answer,
		queries = EXCLUDED.queries,
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		mem.ID,
		mem.Question,
		mem.Answer,
		string(queriesJSON),
		mem.Content,
		string(metadataJSON),
		mem.CreatedAt,
		mem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add memory to PostgreSQL: %w", err)
	}

	return nil
}

const selectColumns = `id, question, answer, queries, content, metadata, created_at, updated_at`

// SearchMemory ranks entries with full-text search and falls back to a
// substring match when the text search finds nothing.
func (s *PostgresStore) SearchMemory(ctx context.Context, query string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return s.find(ctx,
			`SELECT `+selectColumns+` FROM askdb_knowledge ORDER BY created_at DESC LIMIT $1`,
			limit)
	}

	terms := memory.Keywords(query)
	if len(terms) > 0 {
		found, err := s.find(ctx,
			`SELECT `+selectColumns+`
			 FROM askdb_knowledge
			 WHERE search @@ to_tsquery('english', $1)
			 ORDER BY ts_rank(search, to_tsquery('english', $1)) DESC, created_at DESC
			 LIMIT $2`,
			strings.Join(terms, " | "), limit)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found, nil
		}
	}

	return s.find(ctx,
		`SELECT `+selectColumns+`
		 FROM askdb_knowledge
		 WHERE content ILIKE $1 OR question ILIKE $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		"%"+query+"%", limit)
}

func (s *PostgresStore) find(ctx context.Context, query string, args ...any) ([]*memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	memories := make([]*memory.Memory, 0)
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, mem)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*memory.Memory, error) {
	mem := &memory.Memory{}
	var queriesJSON, metadataJSON sql.NullString

	err := row.Scan(&mem.ID, &mem.Question, &mem.Answer, &queriesJSON, &mem.Content, &metadataJSON, &mem.CreatedAt, &mem.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if queriesJSON.Valid && queriesJSON.String != "" {
		if err := json.Unmarshal([]byte(queriesJSON.String), &mem.Queries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queries: %w", err)
		}
	}
	mem.Metadata = make(map[string]any)
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &mem.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return mem, nil
}

// Clear removes all knowledge entries
func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM askdb_knowledge")
	if err != nil {
		return fmt.Errorf("failed to clear memories: %w", err)
	}
	return nil
}

// Count returns the number of knowledge entries
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM askdb_knowledge").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return count, nil
}

// Close closes the PostgreSQL connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DeleteMemory deletes a knowledge entry by ID
func (s *PostgresStore) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM askdb_knowledge WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	return nil
}

// GetMemoryByID retrieves a specific knowledge entry by ID
func (s *PostgresStore) GetMemoryByID(ctx context.Context, id string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM askdb_knowledge WHERE id = $1`, id)
	mem, err := scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("memory %s: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return mem, nil
}

var _ memory.MemoryStore = (*PostgresStore)(nil)
