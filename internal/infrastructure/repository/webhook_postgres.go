package repository

import (
	"context"
	"time"

	"coursemarket/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Record сохраняет событие, если event_id еще не встречался, и возвращает актуальную строку.
func (r *WebhookRepository) Record(ctx context.Context, e *domain.WebhookEvent) (*domain.WebhookEvent, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e).Error
	if err != nil {
		return nil, err
	}
	return r.GetByEventID(ctx, e.EventID)
}

func (r *WebhookRepository) GetByEventID(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	if err := r.db.WithContext(ctx).First(&e, "event_id = ?", eventID).Error; err != nil {
		return nil, notFound(err, "webhook event")
	}
	return &e, nil
}

// Claim помечает событие обработанным, если оно еще не было обработано.
// Вызывается внутри транзакции вместе с эффектами: откат снимает отметку.
func (r *WebhookRepository) Claim(ctx context.Context, eventID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.WebhookEvent{}).
		Where("event_id = ? AND processed = ?", eventID, false).
		Updates(map[string]interface{}{
			"processed":        true,
			"processed_at":     at,
			"processing_error": "",
		})
	return result.RowsAffected == 1, result.Error
}

func (r *WebhookRepository) SetProcessingError(ctx context.Context, eventID, msg string) error {
	return r.db.WithContext(ctx).Model(&domain.WebhookEvent{}).
		Where("event_id = ? AND processed = ?", eventID, false).
		Update("processing_error", msg).Error
}
