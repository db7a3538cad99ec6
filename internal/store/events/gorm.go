package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stagehall/stagehall/internal/domain"
)

// EventModel is the persisted shape of an event's admission-relevant fields.
type EventModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string
	OrganizerID string `gorm:"index"`
	PriceCents  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (EventModel) TableName() string { return "events" }

// PaymentModel records a settled payment for an event by a user.
type PaymentModel struct {
	ID        uint   `gorm:"primaryKey"`
	EventID   string `gorm:"index:idx_payment_event_user"`
	UserID    string `gorm:"index:idx_payment_event_user"`
	Status    string
	CreatedAt time.Time
}

func (PaymentModel) TableName() string { return "payments" }

const PaymentStatusPaid = "paid"

// GormStore implements Directory and Ledger over a gorm database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EventModel{}, &PaymentModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate event tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Event(ctx context.Context, id domain.EventID) (*domain.Event, error) {
	var model EventModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return &domain.Event{
		ID:          domain.EventID(model.ID),
		Title:       model.Title,
		OrganizerID: domain.UserID(model.OrganizerID),
		PriceCents:  model.PriceCents,
	}, nil
}

func (s *GormStore) HasPaid(ctx context.Context, eventID domain.EventID, userID domain.UserID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("event_id = ? AND user_id = ? AND status = ?", string(eventID), string(userID), PaymentStatusPaid).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query payments: %w", err)
	}
	return count > 0, nil
}

// Seed inserts an event if it does not exist yet. Dev convenience only.
func (s *GormStore) Seed(ctx context.Context, ev domain.Event) error {
	model := EventModel{
		ID:          string(ev.ID),
		Title:       ev.Title,
		OrganizerID: string(ev.OrganizerID),
		PriceCents:  ev.PriceCents,
	}
	return s.db.WithContext(ctx).FirstOrCreate(&model, "id = ?", model.ID).Error
}
