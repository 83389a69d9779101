package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codesense-io/central/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrValidationFailed indicates license input that violates an invariant.
	ErrValidationFailed = errors.New("license validation failed")
	// ErrLicenseNotFound indicates the license does not exist.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrLicenseInactive indicates the license exists but status is not active.
	ErrLicenseInactive = errors.New("license not active")
	// ErrLicenseExpired indicates the license expiry has passed.
	ErrLicenseExpired = errors.New("license expired")
	// ErrLimitExhausted indicates the requested usage counter is at its limit.
	ErrLimitExhausted = errors.New("usage limit exhausted")
)

const licenseColumns = `id, client_name, contact_email, limit_scans, limit_users,
	usage_scans, usage_users, expiry, status, created_at, updated_at`

func scanLicense(row pgx.Row) (*models.License, error) {
	var lic models.License
	var status string
	err := row.Scan(
		&lic.ID, &lic.Client.Name, &lic.Client.ContactEmail,
		&lic.Limits.Scans, &lic.Limits.Users,
		&lic.Usage.Scans, &lic.Usage.Users,
		&lic.Expiry, &status, &lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lic.Status = models.LicenseStatus(status)
	return &lic, nil
}

// CreateLicense inserts a new active license with zeroed usage counters.
// It rejects a non-future expiry and non-positive limits.
func (db *DB) CreateLicense(ctx context.Context, client models.Client, limits models.Limits, expiry time.Time) (*models.License, error) {
	if !expiry.After(time.Now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrValidationFailed)
	}
	if limits.Scans <= 0 || limits.Users <= 0 {
		return nil, fmt.Errorf("%w: limits must be positive", ErrValidationFailed)
	}

	lic := models.NewLicense(client, limits, expiry)
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (id, client_name, contact_email, limit_scans, limit_users,
			usage_scans, usage_users, expiry, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, lic.ID, lic.Client.Name, lic.Client.ContactEmail,
		lic.Limits.Scans, lic.Limits.Users,
		lic.Usage.Scans, lic.Usage.Users,
		lic.Expiry, string(lic.Status), lic.CreatedAt, lic.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create license: %w", err)
	}
	return lic, nil
}

// GetLicense returns a license by id.
func (db *DB) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id)
	lic, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// ListLicenses returns one page of licenses plus the total count.
func (db *DB) ListLicenses(ctx context.Context, page, limit int) ([]*models.License, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	offset := (page - 1) * limit

	rows, err := db.Pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM licenses`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", err)
	}

	return licenses, total, nil
}

// UpdateLicense applies a partial update of client, limits, expiry, and
// status. Lowering a limit below the current usage is rejected.
func (db *DB) UpdateLicense(ctx context.Context, id uuid.UUID, patch models.UpdateLicenseRequest) (*models.License, error) {
	var updated *models.License
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+licenseColumns+` FROM licenses WHERE id = $1 FOR UPDATE`, id)
		lic, err := scanLicense(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLicenseNotFound
			}
			return fmt.Errorf("lock license: %w", err)
		}

		if patch.Client != nil {
			lic.Client = *patch.Client
		}
		if patch.Limits != nil {
			if patch.Limits.Scans < lic.Usage.Scans || patch.Limits.Users < lic.Usage.Users {
				return fmt.Errorf("%w: limit below current usage", ErrValidationFailed)
			}
			lic.Limits = *patch.Limits
		}
		if patch.Expiry != nil {
			lic.Expiry = patch.Expiry.UTC()
		}
		if patch.Status != nil {
			if !patch.Status.IsValid() {
				return fmt.Errorf("%w: unknown status %q", ErrValidationFailed, *patch.Status)
			}
			lic.Status = *patch.Status
		}
		lic.UpdatedAt = time.Now().UTC()

		_, err = tx.Exec(ctx, `
			UPDATE licenses
			SET client_name = $2, contact_email = $3, limit_scans = $4, limit_users = $5,
				expiry = $6, status = $7, updated_at = $8
			WHERE id = $1
		`, lic.ID, lic.Client.Name, lic.Client.ContactEmail,
			lic.Limits.Scans, lic.Limits.Users,
			lic.Expiry, string(lic.Status), lic.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update license: %w", err)
		}

		updated = lic
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetLicenseStatus transitions the license status. The operation is
// idempotent.
func (db *DB) SetLicenseStatus(ctx context.Context, id uuid.UUID, status models.LicenseStatus) (*models.License, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidationFailed, status)
	}

	row := db.Pool.QueryRow(ctx, `
		UPDATE licenses
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+licenseColumns, id, string(status))
	lic, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("set license status: %w", err)
	}
	return lic, nil
}

// ConsumeUsage atomically increments one usage counter by exactly one,
// but only while the license is active, unexpired, and under its limit.
// A single conditional UPDATE guarantees no two callers can both pass
// the limit check and both increment.
func (db *DB) ConsumeUsage(ctx context.Context, id uuid.UUID, kind models.UsageKind) (*models.License, error) {
	var query string
	switch kind {
	case models.UsageKindScan:
		query = `
			UPDATE licenses
			SET usage_scans = usage_scans + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'active' AND expiry > NOW() AND usage_scans < limit_scans
			RETURNING ` + licenseColumns
	case models.UsageKindUser:
		query = `
			UPDATE licenses
			SET usage_users = usage_users + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'active' AND expiry > NOW() AND usage_users < limit_users
			RETURNING ` + licenseColumns
	default:
		return nil, fmt.Errorf("%w: unknown usage kind %q", ErrValidationFailed, kind)
	}

	lic, err := scanLicense(db.Pool.QueryRow(ctx, query, id))
	if err == nil {
		return lic, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume usage: %w", err)
	}

	// The conditional update matched nothing; re-read to classify.
	current, err := db.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status != models.LicenseStatusActive:
		return nil, ErrLicenseInactive
	case !current.Expiry.After(time.Now()):
		return nil, ErrLicenseExpired
	default:
		return nil, ErrLimitExhausted
	}
}

// ReleaseUsage decrements one usage counter by one, floored at zero.
// This is the compensating action when the nonce was consumed by a
// concurrent request after a successful increment.
func (db *DB) ReleaseUsage(ctx context.Context, id uuid.UUID, kind models.UsageKind) error {
	var query string
	switch kind {
	case models.UsageKindScan:
		query = `
			UPDATE licenses
			SET usage_scans = usage_scans - 1, updated_at = NOW()
			WHERE id = $1 AND usage_scans > 0`
	case models.UsageKindUser:
		query = `
			UPDATE licenses
			SET usage_users = usage_users - 1, updated_at = NOW()
			WHERE id = $1 AND usage_users > 0`
	default:
		return fmt.Errorf("%w: unknown usage kind %q", ErrValidationFailed, kind)
	}

	if _, err := db.Pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return nil
}
