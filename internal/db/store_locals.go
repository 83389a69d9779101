package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/codesense-io/central/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrLocalNotFound indicates the local does not exist or is not
	// bound to the supplied license.
	ErrLocalNotFound = errors.New("local not found")
	// ErrDuplicateLocal indicates the local_id handle is already taken.
	ErrDuplicateLocal = errors.New("local already exists")
)

const localColumns = `id, license_id, local_id, public_key, machine_uuid,
	status, nonce, created_at, updated_at`

func scanLocal(row pgx.Row) (*models.Local, error) {
	var local models.Local
	var status string
	err := row.Scan(
		&local.ID, &local.LicenseID, &local.LocalID, &local.PublicKey,
		&local.MachineUUID, &status, &local.Nonce,
		&local.CreatedAt, &local.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	local.Status = models.LocalStatus(status)
	return &local, nil
}

// CreateLocal inserts a new local record. Duplicate local_id handles
// are rejected.
func (db *DB) CreateLocal(ctx context.Context, local *models.Local) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO locals (id, license_id, local_id, public_key, machine_uuid,
			status, nonce, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, local.ID, local.LicenseID, local.LocalID, local.PublicKey,
		local.MachineUUID, string(local.Status), local.Nonce,
		local.CreatedAt, local.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateLocal, local.LocalID)
		}
		return fmt.Errorf("create local: %w", err)
	}
	return nil
}

// GetLocalByLocalID returns a local by its human-readable handle.
func (db *DB) GetLocalByLocalID(ctx context.Context, localID string) (*models.Local, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+localColumns+` FROM locals WHERE local_id = $1`, localID)
	local, err := scanLocal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocalNotFound
		}
		return nil, fmt.Errorf("get local: %w", err)
	}
	return local, nil
}

// GetLocalByLicense returns the local bound to a license.
func (db *DB) GetLocalByLicense(ctx context.Context, licenseID uuid.UUID) (*models.Local, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+localColumns+` FROM locals WHERE license_id = $1`, licenseID)
	local, err := scanLocal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocalNotFound
		}
		return nil, fmt.Errorf("get local by license: %w", err)
	}
	return local, nil
}

// SetLocalStatus transitions a local's status.
func (db *DB) SetLocalStatus(ctx context.Context, localID string, status models.LocalStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidationFailed, status)
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE locals SET status = $2, updated_at = NOW() WHERE local_id = $1
	`, localID, string(status))
	if err != nil {
		return fmt.Errorf("set local status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLocalNotFound
	}
	return nil
}

// SetNonce writes the outstanding challenge nonce, but only when both
// the local handle and the license binding match. A previous nonce is
// overwritten.
func (db *DB) SetNonce(ctx context.Context, localID string, licenseID uuid.UUID, nonce string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE locals SET nonce = $3, updated_at = NOW()
		WHERE local_id = $1 AND license_id = $2
	`, localID, licenseID, nonce)
	if err != nil {
		return fmt.Errorf("set nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLocalNotFound
	}
	return nil
}

// TakeNonce atomically compares the stored nonce to expected and, when
// equal, clears it. The boolean derives from the number of matched
// rows, so only one caller can ever observe true for a given nonce.
func (db *DB) TakeNonce(ctx context.Context, localID, expected string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE locals SET nonce = NULL, updated_at = NOW()
		WHERE local_id = $1 AND nonce = $2
	`, localID, expected)
	if err != nil {
		return false, fmt.Errorf("take nonce: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
