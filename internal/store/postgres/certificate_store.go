package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/store"
)

const certificateColumns = `certificate_id, entity_id, remote_cert_id, certificate_pem, public_key_pem, private_key_pem, start_date, end_date, revoked`

// CertificateStore implements store.CertificateStore using PostgreSQL.
type CertificateStore struct {
	pool *pgxpool.Pool
}

// NewCertificateStore creates a new PostgreSQL-backed certificate store.
func NewCertificateStore(pool *pgxpool.Pool) *CertificateStore {
	return &CertificateStore{
		pool: pool,
	}
}

// Get retrieves a certificate by ID.
func (s *CertificateStore) Get(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE certificate_id = $1`

	cert, err := scanCertificate(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCertNotFound
		}
		return nil, fmt.Errorf("failed to get certificate: %w", mapPostgresError(err))
	}
	return cert, nil
}

// FindAllByEntityID returns the entity's certificates ordered by start date.
func (s *CertificateStore) FindAllByEntityID(ctx context.Context, entityID uuid.UUID) ([]*models.Certificate, error) {
	query := `
		SELECT ` + certificateColumns + `
		FROM certificates
		WHERE entity_id = $1
		ORDER BY start_date, certificate_id
	`

	rows, err := s.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to find certificates: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		result = append(result, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find certificates: %w", mapPostgresError(err))
	}

	return result, nil
}

// Save inserts or replaces a certificate. Only the revoked flag and the
// remote id change on conflict, key material is immutable.
func (s *CertificateStore) Save(ctx context.Context, cert *models.Certificate) error {
	query := `
		INSERT INTO certificates (
			certificate_id, entity_id, remote_cert_id,
			certificate_pem, public_key_pem, private_key_pem,
			start_date, end_date, revoked
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (certificate_id) DO UPDATE SET
			remote_cert_id = EXCLUDED.remote_cert_id,
			revoked = certificates.revoked OR EXCLUDED.revoked
	`

	_, err := s.pool.Exec(ctx, query,
		cert.ID,
		cert.EntityID,
		cert.RemoteCertID,
		cert.CertificatePEM,
		cert.PublicKeyPEM,
		cert.PrivateKeyPEM,
		cert.StartDate,
		cert.EndDate,
		cert.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to save certificate: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("certificate_id", cert.ID.String()).
		Str("entity_id", cert.EntityID.String()).
		Bool("revoked", cert.Revoked).
		Msg("Saved certificate")

	return nil
}

// Delete removes a certificate.
func (s *CertificateStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM certificates WHERE certificate_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete certificate: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCertNotFound
	}
	return nil
}

// Exists reports whether a certificate with the ID is stored.
func (s *CertificateStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM certificates WHERE certificate_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check certificate: %w", mapPostgresError(err))
	}
	return exists, nil
}

func scanCertificate(row pgx.Row) (*models.Certificate, error) {
	var c models.Certificate
	err := row.Scan(
		&c.ID,
		&c.EntityID,
		&c.RemoteCertID,
		&c.CertificatePEM,
		&c.PublicKeyPEM,
		&c.PrivateKeyPEM,
		&c.StartDate,
		&c.EndDate,
		&c.Revoked,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
