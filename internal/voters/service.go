package voters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrInvalidProfile indicates a profile update without a usable identifier.
var ErrInvalidProfile = errors.New("voters: invalid profile")

// ServiceConfig describes the dependencies required for the voter directory.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service manages voter reputation profiles on behalf of the identity
// subsystem. The scoring engine only ever reads these rows.
type Service struct {
	db *gorm.DB
}

// NewService constructs the voter directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("voters: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// UpsertProfile stores or refreshes a voter's reputation metadata.
func (s *Service) UpsertProfile(ctx context.Context, profile Profile) error {
	profile.UserID = strings.TrimSpace(profile.UserID)
	if profile.UserID == "" {
		return ErrInvalidProfile
	}
	if profile.Reputation < 0 {
		return fmt.Errorf("%w: negative reputation %d", ErrInvalidProfile, profile.Reputation)
	}
	return s.db.WithContext(ctx).Save(&profile).Error
}

// GetProfile returns the stored profile for a voter, or the fail-open zero
// profile when none exists.
func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{UserID: userID}, nil
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// ProfilesByUserID loads profiles for the given voters in one query, keyed by
// user id. Voters without a stored profile are absent from the result; callers
// treat absence as the zero profile.
func ProfilesByUserID(tx *gorm.DB, userIDs []string) (map[string]Profile, error) {
	profiles := make(map[string]Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	var rows []Profile
	if err := tx.Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		profiles[row.UserID] = row
	}
	return profiles, nil
}
