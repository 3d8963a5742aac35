package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/trustboard/internal/scoring"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider scoring.IDProvider
	Logger     *zap.Logger
}

// Service manages company subscriptions and the notification outbox. It
// implements scoring.ChangeNotifier for the engine's fan-out hook.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider scoring.IDProvider
	logger     *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notify: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("notify: %w", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Subscribe records (or updates) a user's follow relation for a company.
func (s *Service) Subscribe(ctx context.Context, userID, companyID string, notifyOnUpdates bool) error {
	subscription := CompanySubscription{
		UserID:          userID,
		CompanyID:       companyID,
		NotifyOnUpdates: notifyOnUpdates,
	}
	return s.db.WithContext(ctx).Save(&subscription).Error
}

// Unsubscribe removes a user's follow relation for a company.
func (s *Service) Unsubscribe(ctx context.Context, userID, companyID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND company_id = ?", userID, companyID).
		Delete(&CompanySubscription{}).Error
}

// ListForUser returns a user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Notification, error) {
	var notifications []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_s DESC, notification_id DESC").
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

type scoreChangePayload struct {
	CompanyID     string  `json:"company_id"`
	PreviousScore float64 `json:"previous_score"`
	NewScore      float64 `json:"new_score"`
	Delta         float64 `json:"delta"`
}

// ScoreChanged fans one notification out to every opted-in subscriber of the
// company. A failure for one subscriber is logged and skipped; the remaining
// subscribers still get theirs. Only a failure listing subscribers is
// returned to the caller.
func (s *Service) ScoreChanged(ctx context.Context, tx *gorm.DB, change scoring.ScoreChange) error {
	var subscriptions []CompanySubscription
	err := tx.Where("company_id = ? AND notify_on_updates = ?", change.CompanyID, true).
		Find(&subscriptions).Error
	if err != nil {
		return fmt.Errorf("notify: listing subscribers for %s: %w", change.CompanyID, err)
	}

	payload, err := json.Marshal(scoreChangePayload{
		CompanyID:     change.CompanyID,
		PreviousScore: change.PreviousOverall,
		NewScore:      change.NewOverall,
		Delta:         change.Delta,
	})
	if err != nil {
		return fmt.Errorf("notify: encoding payload for %s: %w", change.CompanyID, err)
	}

	now := s.clock().UTC().Unix()
	message := fmt.Sprintf("Overall trust score moved from %.1f to %.1f (%+.1f).",
		change.PreviousOverall, change.NewOverall, change.Delta)

	for _, subscription := range subscriptions {
		notificationID, err := s.idProvider.NewID()
		if err != nil {
			s.logger.Warn("notification id generation failed",
				zap.String("company_id", change.CompanyID),
				zap.String("user_id", subscription.UserID),
				zap.Error(err))
			continue
		}
		notification := Notification{
			NotificationID:   notificationID,
			UserID:           subscription.UserID,
			Type:             NotificationTypeCompanyUpdate,
			Title:            "Company score updated",
			Message:          message,
			Link:             "/companies/" + change.CompanyID,
			PayloadJSON:      string(payload),
			Read:             false,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&notification).Error; err != nil {
			s.logger.Warn("notification insert failed",
				zap.String("company_id", change.CompanyID),
				zap.String("user_id", subscription.UserID),
				zap.Error(err))
		}
	}
	return nil
}
