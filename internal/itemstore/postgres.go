package itemstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openresponses/orchestrator/internal/chatmodel"
)

// Config holds database connection configuration, mirroring the
// teacher's db.Config pool-sizing knobs.
type Config struct {
	URL            string
	MaxConnections int
}

// PostgresStore persists responses and their input/output items to
// Postgres via pgx, one row per item ordered by a sequence column so
// GetInputItems/GetOutputItems preserve write order exactly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pooled connection and verifies
// connectivity, mirroring db.NewClient's pool construction.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("itemstore: database URL is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("itemstore: parse database URL: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	} else {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("itemstore: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("itemstore: ping database: %w", err)
	}

	slog.Info("itemstore: database connection established", "max_connections", poolConfig.MaxConns)
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS orchestrator_responses (
	id TEXT PRIMARY KEY,
	completion_json JSONB NOT NULL,
	metadata_json JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS orchestrator_response_items (
	response_id TEXT NOT NULL REFERENCES orchestrator_responses(id),
	seq INT NOT NULL,
	kind TEXT NOT NULL,
	item_json JSONB NOT NULL,
	PRIMARY KEY (response_id, kind, seq)
);
`

// Migrate creates the tables this store needs if they don't already
// exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("itemstore: migrate: %w", err)
	}
	return nil
}

// StoreResponse implements Store. Failures are surfaced as
// storage-failure without rolling back a response already returned to
// the caller (§4.12) — the caller decides whether to treat this as
// fatal for the current request.
func (s *PostgresStore) StoreResponse(ctx context.Context, completion chatmodel.ModelCompletion, messages []chatmodel.Message, metadata map[string]string) error {
	completionJSON, err := json.Marshal(completion)
	if err != nil {
		return wrapStorageFailure("marshal completion", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return wrapStorageFailure("marshal metadata", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStorageFailure("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO orchestrator_responses (id, completion_json, metadata_json) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET completion_json = EXCLUDED.completion_json, metadata_json = EXCLUDED.metadata_json`,
		completion.ID, completionJSON, metadataJSON,
	); err != nil {
		return wrapStorageFailure("insert response", err)
	}

	if err := insertItems(ctx, tx, completion.ID, "input", ToItems(messages)); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, completion.ID, "output", outputItemsFromCompletion(completion)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapStorageFailure("commit", err)
	}
	return nil
}

func insertItems(ctx context.Context, tx pgx.Tx, responseID, kind string, items []chatmodel.InputItem) error {
	for i, item := range items {
		itemJSON, err := json.Marshal(item)
		if err != nil {
			return wrapStorageFailure("marshal item", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO orchestrator_response_items (response_id, seq, kind, item_json) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (response_id, kind, seq) DO UPDATE SET item_json = EXCLUDED.item_json`,
			responseID, i, kind, itemJSON,
		); err != nil {
			return wrapStorageFailure("insert item", err)
		}
	}
	return nil
}

// GetResponse implements Store.
func (s *PostgresStore) GetResponse(ctx context.Context, id string) (chatmodel.ModelCompletion, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT completion_json FROM orchestrator_responses WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return chatmodel.ModelCompletion{}, wrapNotFound(id)
	}
	if err != nil {
		return chatmodel.ModelCompletion{}, wrapStorageFailure("get response", err)
	}
	var completion chatmodel.ModelCompletion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return chatmodel.ModelCompletion{}, wrapStorageFailure("unmarshal completion", err)
	}
	return completion, nil
}

// GetInputItems implements Store.
func (s *PostgresStore) GetInputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error) {
	return s.getItems(ctx, id, "input")
}

// GetOutputItems implements Store.
func (s *PostgresStore) GetOutputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error) {
	return s.getItems(ctx, id, "output")
}

func (s *PostgresStore) getItems(ctx context.Context, id, kind string) ([]chatmodel.InputItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_json FROM orchestrator_response_items WHERE response_id = $1 AND kind = $2 ORDER BY seq ASC`,
		id, kind,
	)
	if err != nil {
		return nil, wrapStorageFailure("get items", err)
	}
	defer rows.Close()

	var items []chatmodel.InputItem
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapStorageFailure("scan item", err)
		}
		var item chatmodel.InputItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, wrapStorageFailure("unmarshal item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageFailure("iterate items", err)
	}
	if items == nil {
		return nil, wrapNotFound(id)
	}
	return items, nil
}
