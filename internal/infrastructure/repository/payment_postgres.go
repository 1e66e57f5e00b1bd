package repository

import (
	"context"
	"fmt"
	"time"

	"coursemarket/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

func (r *PaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.db.WithContext(ctx).First(&p, "checkout_session_id = ?", sessionID).Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	var p domain.Payment
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		Order("created_at desc").
		First(&p).Error
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

// FindPending - последний незавершенный платеж пользователя за курс.
func (r *PaymentRepository) FindPending(ctx context.Context, userID, courseID uuid.UUID) (*domain.Payment, error) {
	var p domain.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, domain.PaymentPending).
		Order("created_at desc").
		First(&p).Error
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

// HasCompleted - есть ли у пользователя действующая (не возвращенная) оплата курса.
func (r *PaymentRepository) HasCompleted(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, domain.PaymentCompleted).
		Count(&count).Error
	return count > 0, err
}

func (r *PaymentRepository) SetCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	return r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ?", id).
		Update("checkout_session_id", sessionID).Error
}

// Transition - compare-and-set по статусу: обновляет строку только если статус
// все еще from. false значит, что другой обработчик успел раньше.
// Переход вне машины состояний платежа отклоняется без обращения к БД.
func (r *PaymentRepository) Transition(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus, fields map[string]interface{}) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("payment transition %s -> %s: %w", from, to, domain.ErrConflict)
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected == 1, result.Error
}

// FailPending переводит все pending-платежи пары (user, course) в failed.
func (r *PaymentRepository) FailPending(ctx context.Context, userID, courseID uuid.UUID, reason string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, domain.PaymentPending).
		Updates(map[string]interface{}{
			"status":         domain.PaymentFailed,
			"failure_reason": reason,
		})
	return result.RowsAffected, result.Error
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Payment, error) {
	var list []domain.Payment
	err := r.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&list).Error
	return list, err
}

// ListStalePending - pending-платежи старше before, самые старые первыми.
func (r *PaymentRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	var list []domain.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.PaymentPending, before).
		Order("created_at asc").
		Limit(limit).
		Find(&list).Error
	return list, err
}
