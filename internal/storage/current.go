package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// DefaultProfileName is the profile created when the store is empty.
const DefaultProfileName = "default"

// Profiles resolves the current profile on top of a Storage.
// The supervisor only ever sees the current profile through it.
type Profiles struct {
	store Storage
}

// NewProfiles wraps a store.
func NewProfiles(store Storage) *Profiles {
	return &Profiles{store: store}
}

// Current returns the selected profile. When nothing is selected the first
// profile is used, and an empty store gets a default profile.
func (p *Profiles) Current(ctx context.Context) (*models.Profile, error) {
	if v, err := p.store.GetSetting(ctx, SettingCurrentProfile); err == nil {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			profile, err := p.store.GetProfile(ctx, id)
			if err == nil {
				return profile, nil
			}
			if !errors.Is(err, pkgerrors.ErrProfileNotFound) {
				return nil, err
			}
		}
	}

	all, err := p.store.GetAllProfiles(ctx)
	if err != nil {
		return nil, err
	}

	var profile *models.Profile
	if len(all) > 0 {
		profile = all[0]
	} else {
		profile = &models.Profile{Name: DefaultProfileName, ProfileData: models.DefaultProfileData()}
		if err := p.store.CreateProfile(ctx, profile); err != nil {
			return nil, fmt.Errorf("failed to create default profile: %w", err)
		}
	}

	if err := p.store.SetSetting(ctx, SettingCurrentProfile, strconv.FormatInt(profile.ID, 10)); err != nil {
		return nil, err
	}
	return profile, nil
}

// Save persists the document of a profile.
func (p *Profiles) Save(ctx context.Context, profile *models.Profile) error {
	return p.store.UpdateProfile(ctx, profile)
}

// Select makes the profile with id current and stamps its last-used time.
func (p *Profiles) Select(ctx context.Context, id int64) (*models.Profile, error) {
	profile, err := p.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.store.SetSetting(ctx, SettingCurrentProfile, strconv.FormatInt(id, 10)); err != nil {
		return nil, err
	}
	if err := p.store.TouchProfile(ctx, id); err != nil {
		return nil, err
	}
	return profile, nil
}

// Remove deletes a profile. Removing the current profile clears the
// selection so the next Current call falls back to another one.
func (p *Profiles) Remove(ctx context.Context, id int64) error {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.DeleteProfile(ctx, id); err != nil {
		return err
	}
	if v, err := tx.GetSetting(ctx, SettingCurrentProfile); err == nil && v == strconv.FormatInt(id, 10) {
		if err := tx.SetSetting(ctx, SettingCurrentProfile, ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Resolve looks a profile up by numeric ID or by name.
func (p *Profiles) Resolve(ctx context.Context, ref string) (*models.Profile, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return p.store.GetProfile(ctx, id)
	}
	return p.store.GetProfileByName(ctx, ref)
}
