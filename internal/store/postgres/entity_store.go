package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/store"
)

const entityColumns = `entity_id, name, mrn, mmsi, entity_type, version, created_at, updated_at`

// EntityStore implements store.EntityStore using PostgreSQL.
type EntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore creates a new PostgreSQL-backed entity store.
// It shares the connection pool with other stores.
func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{
		pool: pool,
	}
}

// Get retrieves an entity by ID.
func (s *EntityStore) Get(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return s.getOne(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_id = $1`, id)
}

// GetByMRN retrieves an entity by MRN.
func (s *EntityStore) GetByMRN(ctx context.Context, mrn string) (*models.Entity, error) {
	return s.getOne(ctx, `SELECT `+entityColumns+` FROM entities WHERE mrn = $1`, mrn)
}

// GetByMMSI retrieves the oldest entity with the given MMSI.
func (s *EntityStore) GetByMMSI(ctx context.Context, mmsi string) (*models.Entity, error) {
	return s.getOne(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE mmsi = $1
		ORDER BY created_at, entity_id
		LIMIT 1
	`, mmsi)
}

// GetByName retrieves the oldest entity with the given name.
func (s *EntityStore) GetByName(ctx context.Context, name string) (*models.Entity, error) {
	return s.getOne(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE name = $1
		ORDER BY created_at, entity_id
		LIMIT 1
	`, name)
}

func (s *EntityStore) getOne(ctx context.Context, query string, arg any) (*models.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", mapPostgresError(err))
	}
	return e, nil
}

// Save inserts or replaces an entity.
func (s *EntityStore) Save(ctx context.Context, entity *models.Entity) error {
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	query := `
		INSERT INTO entities (
			entity_id, name, mrn, mmsi, entity_type, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (entity_id) DO UPDATE SET
			name = EXCLUDED.name,
			mrn = EXCLUDED.mrn,
			mmsi = EXCLUDED.mmsi,
			entity_type = EXCLUDED.entity_type,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	err := s.pool.QueryRow(ctx, query,
		entity.ID,
		entity.Name,
		entity.MRN,
		entity.MMSI,
		string(entity.Type),
		entity.Version,
		entity.CreatedAt,
		entity.UpdatedAt,
	).Scan(&entity.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("entity_id", entity.ID.String()).
		Str("mrn", entity.MRN).
		Str("type", string(entity.Type)).
		Msg("Saved entity")

	return nil
}

// Delete removes an entity; its certificates are removed by cascade.
func (s *EntityStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE entity_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrEntityNotFound
	}
	return nil
}

// Exists reports whether an entity with the ID is stored.
func (s *EntityStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM entities WHERE entity_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check entity: %w", mapPostgresError(err))
	}
	return exists, nil
}

// List returns entities ordered by creation time.
func (s *EntityStore) List(ctx context.Context, opts store.ListEntitiesOptions) ([]*models.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE ($1 = '' OR entity_type = $1)
		ORDER BY created_at, entity_id
	`
	args := []any{string(opts.Type)}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", mapPostgresError(err))
	}

	return result, nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var (
		e          models.Entity
		entityType string
	)
	err := row.Scan(
		&e.ID,
		&e.Name,
		&e.MRN,
		&e.MMSI,
		&entityType,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Type = models.EntityType(entityType)
	return &e, nil
}
