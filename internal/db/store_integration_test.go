//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/codesense-io/central/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("central_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter())
	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 10
	cfg.MinConns = 1

	testDB, err = New(ctx, cfg, logger)
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	pgContainer.Terminate(ctx)

	os.Exit(code)
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB returns the shared test database after cleaning all tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	cleanTables(t, testDB)
	return testDB
}

// cleanTables truncates all user tables between tests for isolation.
func cleanTables(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	_, err := db.Pool.Exec(ctx, `
		DO $$ DECLARE r RECORD;
		BEGIN
			FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename != 'schema_migrations') LOOP
				EXECUTE 'TRUNCATE TABLE ' || quote_ident(r.tablename) || ' CASCADE';
			END LOOP;
		END $$;
	`)
	require.NoError(t, err)
}

// createTestLicense creates and persists a license with the given limits.
func createTestLicense(t *testing.T, db *DB, limits models.Limits) *models.License {
	t.Helper()
	lic, err := db.CreateLicense(context.Background(),
		models.Client{Name: "Acme Corp", ContactEmail: "ops@acme.example"},
		limits,
		time.Now().Add(90*24*time.Hour),
	)
	require.NoError(t, err)
	return lic
}

// createTestLocal creates and persists a local bound to the license.
func createTestLocal(t *testing.T, db *DB, licenseID uuid.UUID) *models.Local {
	t.Helper()
	local := models.NewLocal(licenseID, models.NewLocalID(),
		"-----BEGIN PUBLIC KEY-----\nMCowBQYDK2VwAyEA\n-----END PUBLIC KEY-----\n", nil)
	require.NoError(t, db.CreateLocal(context.Background(), local))
	return local
}

func TestCreateAndGetLicense(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lic := createTestLicense(t, db, models.Limits{Scans: 100, Users: 10})

	got, err := db.GetLicense(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, lic.ID, got.ID)
	assert.Equal(t, "Acme Corp", got.Client.Name)
	assert.Equal(t, models.LicenseStatusActive, got.Status)
	assert.Zero(t, got.Usage.Scans)
}

func TestCreateLicenseValidation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	client := models.Client{Name: "Acme Corp", ContactEmail: "ops@acme.example"}

	_, err := db.CreateLicense(ctx, client, models.Limits{Scans: 10, Users: 1}, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = db.CreateLicense(ctx, client, models.Limits{Scans: 0, Users: 1}, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestGetLicenseNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetLicense(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestListLicensesPagination(t *testing.T) {
	db := setupTestDB(t)
	for i := 0; i < 5; i++ {
		createTestLicense(t, db, models.Limits{Scans: 10, Users: 1})
	}

	page1, total, err := db.ListLicenses(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.Equal(t, 5, total)

	page3, _, err := db.ListLicenses(context.Background(), 3, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestUpdateLicense(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})

	newLimits := models.Limits{Scans: 20, Users: 4}
	updated, err := db.UpdateLicense(ctx, lic.ID, models.UpdateLicenseRequest{Limits: &newLimits})
	require.NoError(t, err)
	assert.Equal(t, 20, updated.Limits.Scans)

	// A limit below current usage is rejected.
	_, err = db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan)
	require.NoError(t, err)
	low := models.Limits{Scans: 0, Users: 4}
	_, err = db.UpdateLicense(ctx, lic.ID, models.UpdateLicenseRequest{Limits: &low})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestSetLicenseStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})

	revoked, err := db.SetLicenseStatus(ctx, lic.ID, models.LicenseStatusRevoked)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, revoked.Status)

	// Idempotent on repeat.
	again, err := db.SetLicenseStatus(ctx, lic.ID, models.LicenseStatusRevoked)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, again.Status)

	_, err = db.SetLicenseStatus(ctx, uuid.New(), models.LicenseStatusRevoked)
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestConsumeUsage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 2, Users: 1})

	got, err := db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Usage.Scans)

	got, err = db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Usage.Scans)

	_, err = db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan)
	assert.ErrorIs(t, err, ErrLimitExhausted)

	// The user counter is independent.
	got, err = db.ConsumeUsage(ctx, lic.ID, models.UsageKindUser)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Usage.Users)
}

func TestConsumeUsageInactive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})

	_, err := db.SetLicenseStatus(ctx, lic.ID, models.LicenseStatusRevoked)
	require.NoError(t, err)

	_, err = db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan)
	assert.ErrorIs(t, err, ErrLicenseInactive)
}

func TestConsumeUsageExpired(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})

	// Force the expiry into the past behind the store's back.
	_, err := db.Pool.Exec(ctx,
		`UPDATE licenses SET expiry = NOW() - INTERVAL '1 hour' WHERE id = $1`, lic.ID)
	require.NoError(t, err)

	_, err = db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan)
	assert.ErrorIs(t, err, ErrLicenseExpired)
}

func TestConsumeUsageConcurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const limit = 10
	const workers = 25
	lic := createTestLicense(t, db, models.Limits{Scans: limit, Users: 1})

	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	assert.Equal(t, limit, len(successes), "exactly limit increments must succeed")

	got, err := db.GetLicense(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, got.Usage.Scans, "usage must never exceed the limit")
}

func TestReleaseUsageFloorsAtZero(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})

	require.NoError(t, db.ReleaseUsage(ctx, lic.ID, models.UsageKindScan))

	got, err := db.GetLicense(ctx, lic.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Usage.Scans)

	_, err = db.ConsumeUsage(ctx, lic.ID, models.UsageKindScan)
	require.NoError(t, err)
	require.NoError(t, db.ReleaseUsage(ctx, lic.ID, models.UsageKindScan))

	got, err = db.GetLicense(ctx, lic.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Usage.Scans)
}

func TestCreateLocalDuplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})
	local := createTestLocal(t, db, lic.ID)

	dup := models.NewLocal(lic.ID, local.LocalID, local.PublicKey, nil)
	err := db.CreateLocal(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateLocal)
}

func TestGetLocal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})
	local := createTestLocal(t, db, lic.ID)

	got, err := db.GetLocalByLocalID(ctx, local.LocalID)
	require.NoError(t, err)
	assert.Equal(t, local.LocalID, got.LocalID)
	assert.Nil(t, got.Nonce)

	byLicense, err := db.GetLocalByLicense(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, local.LocalID, byLicense.LocalID)

	_, err = db.GetLocalByLocalID(ctx, "LOCAL-FFFFFF")
	assert.ErrorIs(t, err, ErrLocalNotFound)
}

func TestSetLocalStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})
	local := createTestLocal(t, db, lic.ID)

	require.NoError(t, db.SetLocalStatus(ctx, local.LocalID, models.LocalStatusBlocked))

	got, err := db.GetLocalByLocalID(ctx, local.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.LocalStatusBlocked, got.Status)

	err = db.SetLocalStatus(ctx, "LOCAL-FFFFFF", models.LocalStatusBlocked)
	assert.ErrorIs(t, err, ErrLocalNotFound)
}

func TestSetNonceAndTakeNonce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})
	local := createTestLocal(t, db, lic.ID)

	require.NoError(t, db.SetNonce(ctx, local.LocalID, lic.ID, "nonce-one"))

	got, err := db.GetLocalByLocalID(ctx, local.LocalID)
	require.NoError(t, err)
	require.NotNil(t, got.Nonce)
	assert.Equal(t, "nonce-one", *got.Nonce)

	// A new nonce overwrites the outstanding one.
	require.NoError(t, db.SetNonce(ctx, local.LocalID, lic.ID, "nonce-two"))

	took, err := db.TakeNonce(ctx, local.LocalID, "nonce-one")
	require.NoError(t, err)
	assert.False(t, took, "stale nonce must not match")

	took, err = db.TakeNonce(ctx, local.LocalID, "nonce-two")
	require.NoError(t, err)
	assert.True(t, took)

	took, err = db.TakeNonce(ctx, local.LocalID, "nonce-two")
	require.NoError(t, err)
	assert.False(t, took, "nonce is single use")
}

func TestSetNonceWrongLicense(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})
	local := createTestLocal(t, db, lic.ID)

	err := db.SetNonce(ctx, local.LocalID, uuid.New(), "nonce")
	assert.ErrorIs(t, err, ErrLocalNotFound)
}

func TestTakeNonceConcurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, models.Limits{Scans: 10, Users: 2})
	local := createTestLocal(t, db, lic.ID)

	require.NoError(t, db.SetNonce(ctx, local.LocalID, lic.ID, "contested"))

	const workers = 10
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			took, err := db.TakeNonce(ctx, local.LocalID, "contested")
			if err == nil && took {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Equal(t, 1, len(wins), "exactly one caller may take the nonce")
}

func TestMigrateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))

	version, err := db.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, 1)
}
