package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

// PaymentGateway - платежный процессор (реализация: payment.Gateway на Stripe).
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error)
	RetrieveCheckout(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)
	ParseWebhook(payload []byte, signatureHeader string) (*domain.ProcessorEvent, error)
}

type ReceiptSender interface {
	SendPaymentReceipt(ctx context.Context, user *domain.User, course *domain.Course, p *domain.Payment) error
}

const (
	staleBatch     = 100
	receiptTimeout = 10 * time.Second
)

// PaymentReconciler ведет платеж по автомату pending -> completed | failed,
// completed -> refunded. Переходы - compare-and-set, поэтому возврат с
// checkout, вебхук и фоновая сверка сходятся к одному результату.
type PaymentReconciler struct {
	store       *repository.Store
	enrollments *EnrollmentManager
	gateway     PaymentGateway
	receipts    ReceiptSender
	baseURL     string
	log         zerolog.Logger
	now         func() time.Time
}

func NewPaymentReconciler(
	store *repository.Store,
	em *EnrollmentManager,
	gw PaymentGateway,
	rs ReceiptSender,
	publicBaseURL string,
	log zerolog.Logger,
) *PaymentReconciler {
	return &PaymentReconciler{
		store:       store,
		enrollments: em,
		gateway:     gw,
		receipts:    rs,
		baseURL:     strings.TrimRight(publicBaseURL, "/"),
		log:         log,
		now:         nowUTC,
	}
}

type CheckoutResult struct {
	Payment     *domain.Payment
	CheckoutURL string
}

// CreateCheckout открывает оплату курса. Открытая сессия по тому же курсу переиспользуется.
func (r *PaymentReconciler) CreateCheckout(ctx context.Context, userID uuid.UUID, courseSlug string) (*CheckoutResult, error) {
	course, err := r.store.Courses.GetBySlug(ctx, courseSlug)
	if err != nil {
		return nil, err
	}
	if course.Status != domain.CoursePublished {
		return nil, errCourseNotFound
	}
	user, err := r.store.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role != domain.RoleStudent {
		return nil, permissionf("only students can buy courses")
	}
	enrolled, err := r.store.Enrollments.Exists(ctx, userID, course.ID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, domain.ErrAlreadyEnrolled
	}
	if course.IsFree() {
		return nil, validationf("course %q is free, enroll directly", course.Slug)
	}
	// после добровольного отчисления оплата действует, вернуться можно без покупки
	paid, err := r.store.Payments.HasCompleted(ctx, userID, course.ID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, fmt.Errorf("course already purchased, enroll directly: %w", domain.ErrConflict)
	}

	if res, err := r.reuseOpenCheckout(ctx, userID, course.ID); res != nil || err != nil {
		return res, err
	}

	p := &domain.Payment{
		UserID:      userID,
		CourseID:    course.ID,
		AmountCents: course.PriceCents,
		Currency:    course.Currency,
		Status:      domain.PaymentPending,
	}
	if err := r.store.Payments.Create(ctx, p); err != nil {
		return nil, err
	}

	session, err := r.gateway.CreateCheckout(ctx, domain.CheckoutRequest{
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		ProductName:   course.Title,
		Description:   course.ShortDescription,
		SuccessURL:    r.baseURL + "/api/v1/payments/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     r.baseURL + "/api/v1/courses/" + course.Slug + "?payment=cancelled",
		CustomerEmail: user.Email,
		Metadata: map[string]string{
			"payment_id": p.ID.String(),
			"user_id":    userID.String(),
			"course_id":  course.ID.String(),
		},
	})
	if err != nil {
		if _, ferr := r.store.Payments.Transition(ctx, p.ID, domain.PaymentPending, domain.PaymentFailed,
			map[string]interface{}{"failure_reason": err.Error()}); ferr != nil {
			r.log.Error().Err(ferr).Str("payment_id", p.ID.String()).Msg("failed to mark payment failed")
		}
		r.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("checkout session creation failed")
		if !errors.Is(err, domain.ErrExternalService) {
			err = fmt.Errorf("%w: %v", domain.ErrExternalService, err)
		}
		return nil, err
	}

	if err := r.store.Payments.SetCheckoutSession(ctx, p.ID, session.ID); err != nil {
		return nil, err
	}
	p.CheckoutSessionID = &session.ID

	r.log.Info().Str("payment_id", p.ID.String()).Str("session_id", session.ID).Msg("checkout session created")
	return &CheckoutResult{Payment: p, CheckoutURL: session.URL}, nil
}

// reuseOpenCheckout возвращает открытую сессию pending-платежа. Закрытую сессию
// закрывает и у нас; уже оплаченную проводит и сообщает ErrAlreadyEnrolled.
func (r *PaymentReconciler) reuseOpenCheckout(ctx context.Context, userID, courseID uuid.UUID) (*CheckoutResult, error) {
	p, err := r.store.Payments.FindPending(ctx, userID, courseID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.CheckoutSessionID == nil {
		_, err := r.fail(ctx, p, "checkout session was never created")
		return nil, err
	}

	session, err := r.gateway.RetrieveCheckout(ctx, *p.CheckoutSessionID)
	switch {
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	case err == nil && session.Paid():
		if _, _, err := r.complete(ctx, p, session.PaymentIntentID); err != nil {
			return nil, err
		}
		return nil, domain.ErrAlreadyEnrolled
	case err == nil && session.Open() && session.URL != "":
		return &CheckoutResult{Payment: p, CheckoutURL: session.URL}, nil
	case err == nil && session.Complete():
		// асинхронная оплата еще идет, итог придет вебхуком
		return nil, fmt.Errorf("payment is processing: %w", domain.ErrConflict)
	}

	_, err = r.fail(ctx, p, "checkout session superseded")
	return nil, err
}

type ReturnResult struct {
	Payment    *domain.Payment
	Enrollment *domain.Enrollment
}

// CompleteFromReturn - синхронная ветка: пользователь вернулся с checkout.
// Ошибка процессора здесь статус не меняет: вебхук еще может провести платеж.
func (r *PaymentReconciler) CompleteFromReturn(ctx context.Context, userID uuid.UUID, sessionID string) (*ReturnResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, validationf("session_id is required")
	}
	p, err := r.store.Payments.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, permissionf("payment belongs to another user")
	}

	if p.Status == domain.PaymentPending {
		session, err := r.gateway.RetrieveCheckout(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.Paid() {
			if _, _, err := r.complete(ctx, p, session.PaymentIntentID); err != nil {
				return nil, err
			}
		}
		if p, err = r.store.Payments.GetByID(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	res := &ReturnResult{Payment: p}
	if p.Status == domain.PaymentCompleted {
		e, err := r.store.Enrollments.GetByStudentCourse(ctx, p.UserID, p.CourseID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		res.Enrollment = e
	}
	return res, nil
}

// CancelCheckout закрывает все pending-платежи пользователя за курс.
func (r *PaymentReconciler) CancelCheckout(ctx context.Context, userID uuid.UUID, courseSlug string) (int64, error) {
	course, err := r.store.Courses.GetBySlug(ctx, courseSlug)
	if err != nil {
		return 0, err
	}
	n, err := r.store.Payments.FailPending(ctx, userID, course.ID, "cancelled by user")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info().Str("user_id", userID.String()).Str("course_id", course.ID.String()).Int64("payments", n).Msg("checkout cancelled")
	}
	return n, nil
}

func (r *PaymentReconciler) History(ctx context.Context, userID uuid.UUID) ([]domain.Payment, error) {
	return r.store.Payments.ListByUser(ctx, userID)
}

// HandleWebhook проверяет подпись, сохраняет событие и применяет его ровно один раз.
// Ошибка после проверки подписи оставляет событие необработанным: процессор пришлет его снова.
func (r *PaymentReconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	ev, err := r.gateway.ParseWebhook(payload, signatureHeader)
	if err != nil {
		return err
	}
	log := r.log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	rec, err := r.store.Webhooks.Record(ctx, &domain.WebhookEvent{
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   datatypes.JSON(ev.Payload),
	})
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if rec.Processed {
		log.Debug().Msg("duplicate webhook delivery")
		return nil
	}

	var completed []*domain.Payment
	err = r.store.Transaction(ctx, func(tx *repository.Store) error {
		claimed, err := tx.Webhooks.Claim(ctx, ev.ID, r.now())
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		completed, err = r.dispatch(ctx, tx, ev, log)
		return err
	})
	if err != nil {
		if serr := r.store.Webhooks.SetProcessingError(ctx, ev.ID, err.Error()); serr != nil {
			log.Error().Err(serr).Msg("failed to record processing error")
		}
		log.Error().Err(err).Msg("webhook processing failed")
		return fmt.Errorf("process webhook %s: %w", ev.ID, err)
	}

	for _, p := range completed {
		r.sendReceipt(ctx, p)
	}
	return nil
}

// dispatch применяет событие внутри транзакции и возвращает платежи, которые
// этот вызов перевел в completed.
func (r *PaymentReconciler) dispatch(ctx context.Context, tx *repository.Store, ev *domain.ProcessorEvent, log zerolog.Logger) ([]*domain.Payment, error) {
	switch ev.Type {
	case domain.EventCheckoutCompleted, domain.EventCheckoutAsyncSucceeded:
		if ev.PaymentStatus != "paid" {
			log.Info().Str("payment_status", ev.PaymentStatus).Msg("checkout finished without payment yet")
			return nil, nil
		}
		p, err := r.lookup(ctx, tx, ev, bySession)
		if p == nil || err != nil {
			return nil, err
		}
		return r.completeIn(ctx, tx, p, ev.PaymentIntentID)

	case domain.EventCheckoutExpired, domain.EventCheckoutAsyncFailed:
		p, err := r.lookup(ctx, tx, ev, bySession)
		if p == nil || err != nil {
			return nil, err
		}
		_, err = r.failWithin(ctx, tx, p, ev.Type)
		return nil, err

	case domain.EventPaymentIntentSucceeded:
		p, err := r.lookup(ctx, tx, ev, byIntent)
		if p == nil || err != nil {
			return nil, err
		}
		return r.completeIn(ctx, tx, p, ev.PaymentIntentID)

	case domain.EventPaymentIntentFailed:
		p, err := r.lookup(ctx, tx, ev, byIntent)
		if p == nil || err != nil {
			return nil, err
		}
		_, err = r.failWithin(ctx, tx, p, ev.Type)
		return nil, err

	case domain.EventChargeRefunded:
		p, err := r.lookup(ctx, tx, ev, byIntent)
		if p == nil || err != nil {
			return nil, err
		}
		return nil, r.refundWithin(ctx, tx, p, log)
	}

	log.Debug().Msg("webhook event ignored")
	return nil, nil
}

type lookupKind int

const (
	bySession lookupKind = iota
	byIntent
)

// lookup ищет наш платеж по внешнему id, затем по payment_id из metadata.
// Ненайденный платеж логируется и не считается ошибкой.
func (r *PaymentReconciler) lookup(ctx context.Context, tx *repository.Store, ev *domain.ProcessorEvent, kind lookupKind) (*domain.Payment, error) {
	var (
		p   *domain.Payment
		err = domain.ErrNotFound
	)
	if ev.ObjectID != "" {
		if kind == bySession {
			p, err = tx.Payments.GetBySessionID(ctx, ev.ObjectID)
		} else {
			p, err = tx.Payments.GetByIntentID(ctx, ev.ObjectID)
		}
	}
	if errors.Is(err, domain.ErrNotFound) {
		if id, perr := uuid.Parse(ev.Metadata["payment_id"]); perr == nil {
			p, err = tx.Payments.GetByID(ctx, id)
		}
	}
	if errors.Is(err, domain.ErrNotFound) {
		r.log.Warn().Str("event_id", ev.ID).Str("object_id", ev.ObjectID).Msg("payment for webhook event not found")
		return nil, nil
	}
	return p, err
}

// complete проводит платеж в собственной транзакции и шлет чек победителю.
func (r *PaymentReconciler) complete(ctx context.Context, p *domain.Payment, intentID string) (*domain.Enrollment, bool, error) {
	var (
		enrollment *domain.Enrollment
		won        bool
	)
	err := r.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		enrollment, won, err = r.completeWithin(ctx, tx, p, intentID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if won {
		r.sendReceipt(ctx, p)
	}
	return enrollment, won, nil
}

func (r *PaymentReconciler) completeIn(ctx context.Context, tx *repository.Store, p *domain.Payment, intentID string) ([]*domain.Payment, error) {
	_, won, err := r.completeWithin(ctx, tx, p, intentID)
	if err != nil || !won {
		return nil, err
	}
	return []*domain.Payment{p}, nil
}

// completeWithin: pending -> completed и запись на курс. Записывает только тот,
// чей compare-and-set прошел; проигравший получает won=false без эффектов.
func (r *PaymentReconciler) completeWithin(ctx context.Context, tx *repository.Store, p *domain.Payment, intentID string) (*domain.Enrollment, bool, error) {
	now := r.now()
	fields := map[string]interface{}{"completed_at": now, "failure_reason": ""}
	if intentID != "" {
		fields["payment_intent_id"] = intentID
	}
	won, err := tx.Payments.Transition(ctx, p.ID, domain.PaymentPending, domain.PaymentCompleted, fields)
	if err != nil || !won {
		return nil, false, err
	}

	e, _, err := r.enrollments.EnrollWithin(ctx, tx, p.UserID, p.CourseID)
	if err != nil {
		return nil, false, fmt.Errorf("enroll after payment %s: %w", p.ID, err)
	}

	p.Status = domain.PaymentCompleted
	p.CompletedAt = &now
	if intentID != "" {
		p.PaymentIntentID = &intentID
	}
	r.log.Info().Str("payment_id", p.ID.String()).Str("enrollment_id", e.ID.String()).Msg("payment completed")
	return e, true, nil
}

func (r *PaymentReconciler) fail(ctx context.Context, p *domain.Payment, reason string) (bool, error) {
	return r.failWithin(ctx, r.store, p, reason)
}

func (r *PaymentReconciler) failWithin(ctx context.Context, tx *repository.Store, p *domain.Payment, reason string) (bool, error) {
	won, err := tx.Payments.Transition(ctx, p.ID, domain.PaymentPending, domain.PaymentFailed,
		map[string]interface{}{"failure_reason": reason})
	if err != nil {
		return false, err
	}
	if won {
		r.log.Info().Str("payment_id", p.ID.String()).Str("reason", reason).Msg("payment failed")
	}
	return won, nil
}

// refundWithin: completed -> refunded, запись на курс отчисляется.
func (r *PaymentReconciler) refundWithin(ctx context.Context, tx *repository.Store, p *domain.Payment, log zerolog.Logger) error {
	won, err := tx.Payments.Transition(ctx, p.ID, domain.PaymentCompleted, domain.PaymentRefunded,
		map[string]interface{}{"refunded_at": r.now()})
	if err != nil || !won {
		return err
	}

	e, err := tx.Enrollments.GetByStudentCourse(ctx, p.UserID, p.CourseID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Str("payment_id", p.ID.String()).Msg("refunded payment has no enrollment")
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.Enrollments.UpdateStatus(ctx, e.ID, domain.EnrollmentDropped, e.CompletedAt); err != nil {
		return err
	}
	log.Info().Str("payment_id", p.ID.String()).Str("enrollment_id", e.ID.String()).Msg("payment refunded, enrollment dropped")
	return nil
}

// ReconcileStale сверяет зависшие pending-платежи с процессором:
// оплаченные проводит, истекшие и потерянные закрывает, открытые не трогает.
func (r *PaymentReconciler) ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := r.store.Payments.ListStalePending(ctx, r.now().Add(-olderThan), staleBatch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		p := &stale[i]
		log := r.log.With().Str("payment_id", p.ID.String()).Logger()

		if p.CheckoutSessionID == nil {
			if won, err := r.fail(ctx, p, "checkout session was never created"); err != nil {
				return resolved, err
			} else if won {
				resolved++
			}
			continue
		}

		session, err := r.gateway.RetrieveCheckout(ctx, *p.CheckoutSessionID)
		var won bool
		switch {
		case errors.Is(err, domain.ErrNotFound):
			won, err = r.fail(ctx, p, "checkout session not found")
		case err != nil:
			log.Warn().Err(err).Msg("stale payment check failed, will retry")
			continue
		case session.Paid():
			_, won, err = r.complete(ctx, p, session.PaymentIntentID)
		case session.Status == "expired":
			won, err = r.fail(ctx, p, "checkout session expired")
		}
		if err != nil {
			return resolved, err
		}
		if won {
			resolved++
		}
	}

	if resolved > 0 {
		r.log.Info().Int("resolved", resolved).Int("checked", len(stale)).Msg("stale payments reconciled")
	}
	return resolved, nil
}

// sendReceipt - best effort после коммита; ошибка только логируется.
func (r *PaymentReconciler) sendReceipt(ctx context.Context, p *domain.Payment) {
	if r.receipts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
	defer cancel()

	user, err := r.store.Users.GetByID(ctx, p.UserID)
	if err != nil {
		r.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("receipt skipped")
		return
	}
	course, err := r.store.Courses.GetByID(ctx, p.CourseID)
	if err != nil {
		r.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("receipt skipped")
		return
	}
	if err := r.receipts.SendPaymentReceipt(ctx, user, course, p); err != nil {
		r.log.Error().Err(err).Str("payment_id", p.ID.String()).Msg("failed to send receipt")
	}
}
