package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"mlm-platform/internal/repository"
	"mlm-platform/internal/settings"
)

// SettingsStore persists settings documents.
type SettingsStore interface {
	GetAll(ctx context.Context) (map[string][]byte, error)
	Put(ctx context.Context, key string, value []byte, updatedBy string) error
}

// SettingsService loads and saves the admin-tunable settings documents.
// Every operation reads a fresh snapshot so admin changes apply to the next
// invocation without a restart.
type SettingsService struct {
	store SettingsStore
}

// NewSettingsService creates a new SettingsService instance.
func NewSettingsService(store SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// Snapshot returns the effective settings: stored documents over defaults.
func (s *SettingsService) Snapshot(ctx context.Context) (*settings.Snapshot, error) {
	docs, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	snap, err := settings.FromDocuments(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return snap, nil
}

// Section returns the effective document for key.
func (s *SettingsService) Section(ctx context.Context, key string) ([]byte, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := snap.Section(key)
	if errors.Is(err, settings.ErrUnknownKey) {
		return nil, invalidf(ReasonInvalidInput, err.Error())
	}
	return raw, err
}

// Save merges raw over the effective document for key, validates it and
// stores the merged result.
func (s *SettingsService) Save(ctx context.Context, key string, raw []byte, updatedBy string) ([]byte, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := snap.Apply(key, raw); err != nil {
		if errors.Is(err, settings.ErrUnknownKey) {
			return nil, invalidf(ReasonInvalidInput, err.Error())
		}
		return nil, invalidf(ReasonInvalidSettings, err.Error())
	}
	if err := snap.ValidateSection(key); err != nil {
		return nil, invalidf(ReasonInvalidSettings, err.Error())
	}

	merged, err := snap.Section(key)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, key, merged, updatedBy); err != nil {
		return nil, err
	}

	log.Info().Str("key", key).Str("updated_by", updatedBy).Msg("Settings saved")
	return merged, nil
}

var _ SettingsStore = (*repository.SettingsRepository)(nil)
