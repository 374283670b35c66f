package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"xrayclient/internal/storage"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is the common interface between *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Profile operations ─────────────────────────────────────────────────────

const profileColumns = `id, name, document, last_used, created_at, updated_at`

func scanProfile(s rowScanner) (*models.Profile, error) {
	profile := &models.Profile{}
	var document string
	if err := s.Scan(
		&profile.ID, &profile.Name, &document, &profile.LastUsed,
		&profile.CreatedAt, &profile.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(document), &profile.ProfileData); err != nil {
		return nil, &pkgerrors.ProfileError{ProfileID: profile.ID, Name: profile.Name, Err: err}
	}
	return profile, nil
}

func (d *DB) CreateProfile(ctx context.Context, profile *models.Profile) error {
	return createProfile(ctx, d.handle(), profile)
}
func (t *Tx) CreateProfile(ctx context.Context, profile *models.Profile) error {
	return createProfile(ctx, t.handle(), profile)
}

func createProfile(ctx context.Context, h dbHandle, profile *models.Profile) error {
	document, err := json.Marshal(profile.ProfileData)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	result, err := h.ExecContext(ctx,
		`INSERT INTO profiles (name, document) VALUES (?, ?)`,
		profile.Name, string(document),
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	profile.ID = id
	profile.CreatedAt = time.Now()
	profile.UpdatedAt = profile.CreatedAt
	return nil
}

func (d *DB) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	return getProfile(ctx, d.handle(), id)
}
func (t *Tx) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	return getProfile(ctx, t.handle(), id)
}

func getProfile(ctx context.Context, h dbHandle, id int64) (*models.Profile, error) {
	row := h.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrProfileNotFound
	}
	return profile, err
}

func (d *DB) GetProfileByName(ctx context.Context, name string) (*models.Profile, error) {
	return getProfileByName(ctx, d.handle(), name)
}
func (t *Tx) GetProfileByName(ctx context.Context, name string) (*models.Profile, error) {
	return getProfileByName(ctx, t.handle(), name)
}

func getProfileByName(ctx context.Context, h dbHandle, name string) (*models.Profile, error) {
	row := h.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE name = ?`, name)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrProfileNotFound
	}
	return profile, err
}

func (d *DB) GetAllProfiles(ctx context.Context) ([]*models.Profile, error) {
	return getAllProfiles(ctx, d.handle())
}
func (t *Tx) GetAllProfiles(ctx context.Context) ([]*models.Profile, error) {
	return getAllProfiles(ctx, t.handle())
}

func getAllProfiles(ctx context.Context, h dbHandle) ([]*models.Profile, error) {
	rows, err := h.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (d *DB) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	return updateProfile(ctx, d.handle(), profile)
}
func (t *Tx) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	return updateProfile(ctx, t.handle(), profile)
}

func updateProfile(ctx context.Context, h dbHandle, profile *models.Profile) error {
	document, err := json.Marshal(profile.ProfileData)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	result, err := h.ExecContext(ctx,
		`UPDATE profiles SET name = ?, document = ? WHERE id = ?`,
		profile.Name, string(document), profile.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return pkgerrors.ErrProfileNotFound
	}
	profile.UpdatedAt = time.Now()
	return nil
}

func (d *DB) DeleteProfile(ctx context.Context, id int64) error {
	return deleteProfile(ctx, d.handle(), id)
}
func (t *Tx) DeleteProfile(ctx context.Context, id int64) error {
	return deleteProfile(ctx, t.handle(), id)
}

func deleteProfile(ctx context.Context, h dbHandle, id int64) error {
	result, err := h.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return pkgerrors.ErrProfileNotFound
	}
	return nil
}

func (d *DB) TouchProfile(ctx context.Context, id int64) error {
	return touchProfile(ctx, d.handle(), id)
}
func (t *Tx) TouchProfile(ctx context.Context, id int64) error {
	return touchProfile(ctx, t.handle(), id)
}

func touchProfile(ctx context.Context, h dbHandle, id int64) error {
	_, err := h.ExecContext(ctx, "UPDATE profiles SET last_used = ? WHERE id = ?", time.Now(), id)
	return err
}

// ─── Latency operations ─────────────────────────────────────────────────────

func (d *DB) RecordLatency(ctx context.Context, latency *models.LatencyTest) error {
	return recordLatency(ctx, d.handle(), latency)
}
func (t *Tx) RecordLatency(ctx context.Context, latency *models.LatencyTest) error {
	return recordLatency(ctx, t.handle(), latency)
}

func recordLatency(ctx context.Context, h dbHandle, latency *models.LatencyTest) error {
	query := `
		INSERT INTO latency_tests (profile_id, latency_ms, success, error_message, test_strategy, tested_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		latency.ProfileID, latency.LatencyMS, latency.Success, latency.ErrorMessage,
		latency.TestStrategy, latency.TestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record latency: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	latency.ID = id
	return nil
}

func (d *DB) GetLatestLatency(ctx context.Context, profileID int64) (*models.LatencyTest, error) {
	return getLatestLatency(ctx, d.handle(), profileID)
}
func (t *Tx) GetLatestLatency(ctx context.Context, profileID int64) (*models.LatencyTest, error) {
	return getLatestLatency(ctx, t.handle(), profileID)
}

func getLatestLatency(ctx context.Context, h dbHandle, profileID int64) (*models.LatencyTest, error) {
	query := `
		SELECT id, profile_id, latency_ms, success, error_message, test_strategy, tested_at
		FROM latency_tests WHERE profile_id = ?
		ORDER BY tested_at DESC, id DESC LIMIT 1
	`
	latency := &models.LatencyTest{}
	var errMsg sql.NullString
	err := h.QueryRowContext(ctx, query, profileID).Scan(
		&latency.ID, &latency.ProfileID, &latency.LatencyMS, &latency.Success,
		&errMsg, &latency.TestStrategy, &latency.TestedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	latency.ErrorMessage = errMsg.String
	return latency, nil
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting not found: %s", key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
