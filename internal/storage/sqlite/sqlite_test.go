package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrayclient/internal/storage"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleProfile(name string) *models.Profile {
	data := models.DefaultProfileData()
	data.General.Address = "example.com"
	data.General.Port = 443
	data.General.ID = "b831381d-6324-4d53-ad4f-8cda48b30811"
	data.General.Security = "tls"
	data.Rules.Direct.Domain = []string{"geosite:cn"}
	data.Rules.Reject.Port = []string{"25", "465"}
	return &models.Profile{Name: name, ProfileData: data}
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	p := sampleProfile("home")
	require.NoError(t, db.CreateProfile(ctx, p))
	require.NotZero(t, p.ID)

	got, err := db.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ProfileData, got.ProfileData)
	assert.Nil(t, got.LastUsed)

	got.StartedSuccessfully = true
	got.Proxies.HTTP = models.Endpoint{Server: "127.0.0.1", Port: 1081}
	require.NoError(t, db.UpdateProfile(ctx, got))

	byName, err := db.GetProfileByName(ctx, "home")
	require.NoError(t, err)
	assert.True(t, byName.StartedSuccessfully)
	assert.Equal(t, 1081, byName.Proxies.HTTP.Port)
}

func TestProfileNotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.GetProfile(ctx, 42)
	assert.ErrorIs(t, err, pkgerrors.ErrProfileNotFound)

	err = db.UpdateProfile(ctx, &models.Profile{ID: 42, Name: "ghost"})
	assert.ErrorIs(t, err, pkgerrors.ErrProfileNotFound)

	assert.ErrorIs(t, db.DeleteProfile(ctx, 42), pkgerrors.ErrProfileNotFound)
}

func TestTouchProfile(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	p := sampleProfile("work")
	require.NoError(t, db.CreateProfile(ctx, p))
	require.NoError(t, db.TouchProfile(ctx, p.ID))

	got, err := db.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsed)
	assert.WithinDuration(t, time.Now(), *got.LastUsed, time.Minute)
}

func TestLatencyLatest(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	p := sampleProfile("ping")
	require.NoError(t, db.CreateProfile(ctx, p))

	none, err := db.GetLatestLatency(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	ms := 87
	require.NoError(t, db.RecordLatency(ctx, &models.LatencyTest{
		ProfileID: p.ID, Success: false, ErrorMessage: "refused", TestStrategy: "tcp",
		TestedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, db.RecordLatency(ctx, &models.LatencyTest{
		ProfileID: p.ID, Success: true, LatencyMS: &ms, TestStrategy: "tcp", TestedAt: time.Now(),
	}))

	latest, err := db.GetLatestLatency(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Success)
	require.NotNil(t, latest.LatencyMS)
	assert.Equal(t, 87, *latest.LatencyMS)
}

func TestCurrentProfileFallbacks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	profiles := storage.NewProfiles(db)

	// Empty store creates the default profile.
	cur, err := profiles.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultProfileName, cur.Name)

	second := sampleProfile("second")
	require.NoError(t, db.CreateProfile(ctx, second))

	selected, err := profiles.Select(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", selected.Name)

	cur, err = profiles.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cur.ID)

	// Removing the current profile falls back to the remaining one.
	require.NoError(t, profiles.Remove(ctx, second.ID))
	cur, err = profiles.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultProfileName, cur.Name)

	resolved, err := profiles.Resolve(ctx, storage.DefaultProfileName)
	require.NoError(t, err)
	assert.Equal(t, cur.ID, resolved.ID)
}

func TestDefaultSettings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	v, err := db.GetSetting(ctx, storage.SettingLatencyWorkers)
	require.NoError(t, err)
	assert.Equal(t, "10", v)

	require.NoError(t, db.SetSetting(ctx, storage.SettingLatencyWorkers, "4"))
	all, err := db.GetAllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4", all[storage.SettingLatencyWorkers])
}

func TestMigrationsRunOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.SetSetting(ctx, storage.SettingLatencyWorkers, "3"))

	var version int
	require.NoError(t, db.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.GetSetting(ctx, storage.SettingLatencyWorkers)
	require.NoError(t, err)
	assert.Equal(t, "3", v, "defaults must not be re-seeded")
}
