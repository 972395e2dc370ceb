package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists state as one JSONB document per network.
// Deployments that already run Postgres for the surrounding application can
// point the manager at the same instance instead of a local state file.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	network string
}

// NewPostgresBackend connects to the database and verifies the connection.
// The custodian_state table is expected to exist; schema management belongs
// to the deployment, not this process.
func NewPostgresBackend(ctx context.Context, databaseURL, network string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresBackend{
		pool:    pool,
		network: network,
	}, nil
}

// Load reads the state document for the backend's network. No row yet means
// an empty state.
func (b *PostgresBackend) Load(ctx context.Context) (*State, error) {
	query := `
		SELECT doc
		FROM custodian_state
		WHERE network = $1
	`

	var doc []byte
	err := b.pool.QueryRow(ctx, query, b.network).Scan(&doc)
	if err == pgx.ErrNoRows {
		slog.Info("No persisted state row found, starting empty", "network", b.network)
		return NewState(b.network), nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	state, err := DecodeState(doc)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	if state.Network == "" {
		state.Network = b.network
	}
	return state, nil
}

// Save upserts the full state document for the network.
func (b *PostgresBackend) Save(ctx context.Context, state *State) error {
	data, err := EncodeState(state)
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	query := `
		INSERT INTO custodian_state (network, schema_version, doc, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (network) DO UPDATE
		SET schema_version = EXCLUDED.schema_version,
		    doc = EXCLUDED.doc,
		    updated_at = NOW()
	`

	if _, err := b.pool.Exec(ctx, query, b.network, CurrentSchemaVersion, data); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
