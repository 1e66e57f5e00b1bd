package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkout открывает оплату и возвращает платеж с id сессии.
func checkout(t *testing.T, env *testEnv, user *domain.User, course *domain.Course) *domain.Payment {
	t.Helper()
	res, err := env.payments.CreateCheckout(context.Background(), user.ID, course.Slug)
	require.NoError(t, err)
	require.NotNil(t, res.Payment.CheckoutSessionID)
	return res.Payment
}

func paymentStatus(t *testing.T, env *testEnv, p *domain.Payment) domain.PaymentStatus {
	t.Helper()
	got, err := env.store.Payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	return got.Status
}

func completedEvent(t *testing.T, id, sessionID string) []byte {
	return eventPayload(t, wireEvent{
		ID: id, Type: domain.EventCheckoutCompleted, ObjectID: sessionID,
		PaymentStatus: "paid", PaymentIntentID: "pi_" + sessionID,
	})
}

func TestCreateCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 4999, 2)

	res, err := env.payments.CreateCheckout(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Payment.Status)
	assert.Equal(t, int64(4999), res.Payment.AmountCents)
	assert.Equal(t, "https://checkout.test/"+*res.Payment.CheckoutSessionID, res.CheckoutURL)

	require.Len(t, env.gateway.requests, 1)
	req := env.gateway.requests[0]
	assert.Equal(t, res.Payment.ID.String(), req.Metadata["payment_id"])
	assert.Equal(t, student.ID.String(), req.Metadata["user_id"])
	assert.Equal(t, course.ID.String(), req.Metadata["course_id"])
	assert.Equal(t, "https://app.test/api/v1/payments/success?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, student.Email, req.CustomerEmail)

	stored, err := env.store.Payments.GetBySessionID(ctx, *res.Payment.CheckoutSessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, stored.ID)
}

func TestCreateCheckout_ReusesOpenSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)

	first := checkout(t, env, student, course)
	again, err := env.payments.CreateCheckout(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.Payment.ID)
	assert.Len(t, env.gateway.requests, 1)

	// истекшая сессия заменяется новой
	env.gateway.expire(*first.CheckoutSessionID)
	third, err := env.payments.CreateCheckout(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.Payment.ID)
	assert.Equal(t, domain.PaymentFailed, paymentStatus(t, env, first))
}

func TestCreateCheckout_ProcessingSessionIsKept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)

	p := checkout(t, env, student, course)
	// сессия закрыта, а банковский перевод еще в пути
	env.gateway.mu.Lock()
	env.gateway.sessions[*p.CheckoutSessionID].Status = "complete"
	env.gateway.mu.Unlock()

	_, err := env.payments.CreateCheckout(ctx, student.ID, course.Slug)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, p))
	assert.Len(t, env.gateway.requests, 1)

	require.NoError(t, env.payments.HandleWebhook(ctx, eventPayload(t, wireEvent{
		ID: "evt_async", Type: domain.EventCheckoutAsyncSucceeded, ObjectID: *p.CheckoutSessionID,
		PaymentStatus: "paid", PaymentIntentID: "pi_async",
	}), validSignature))
	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, p))
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
}

func TestCreateCheckout_PaidPendingIsCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)

	p := checkout(t, env, student, course)
	env.gateway.pay(*p.CheckoutSessionID, "pi_1")

	_, err := env.payments.CreateCheckout(ctx, student.ID, course.Slug)
	assert.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, p))
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
}

func TestCreateCheckout_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	free, _ := env.course(t, 0, 1)
	paid, _ := env.course(t, 1000, 1)

	_, err := env.payments.CreateCheckout(ctx, student.ID, free.Slug)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.payments.CreateCheckout(ctx, student.ID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.payments.CreateCheckout(ctx, paid.InstructorID, paid.Slug)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, _, err = env.enrollments.Enroll(ctx, student.ID, paid.ID)
	require.NoError(t, err)
	_, err = env.payments.CreateCheckout(ctx, student.ID, paid.Slug)
	assert.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
}

func TestCreateCheckout_ProcessorFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	env.gateway.createErr = errors.New("connection reset")

	_, err := env.payments.CreateCheckout(ctx, student.ID, course.Slug)
	assert.ErrorIs(t, err, domain.ErrExternalService)

	history, err := env.payments.History(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.PaymentFailed, history[0].Status)
	assert.Contains(t, history[0].FailureReason, "connection reset")
	assert.Zero(t, env.enrollmentCount(t, student.ID, course.ID))
}

func TestCompleteFromReturn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 3)
	p := checkout(t, env, student, course)

	// еще не оплачено: платеж остается pending
	res, err := env.payments.CompleteFromReturn(ctx, student.ID, *p.CheckoutSessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Payment.Status)
	assert.Nil(t, res.Enrollment)

	env.gateway.pay(*p.CheckoutSessionID, "pi_42")
	res, err = env.payments.CompleteFromReturn(ctx, student.ID, *p.CheckoutSessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, res.Payment.Status)
	require.NotNil(t, res.Payment.PaymentIntentID)
	assert.Equal(t, "pi_42", *res.Payment.PaymentIntentID)
	require.NotNil(t, res.Enrollment)
	assert.Equal(t, domain.EnrollmentActive, res.Enrollment.Status)

	cp, err := env.store.Enrollments.GetCourseProgress(ctx, res.Enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.TotalLessons)

	// повтор не ходит в процессор и ничего не меняет
	calls := env.gateway.retrieved
	again, err := env.payments.CompleteFromReturn(ctx, student.ID, *p.CheckoutSessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Enrollment.ID, again.Enrollment.ID)
	assert.Equal(t, calls, env.gateway.retrieved)
	assert.Equal(t, 1, env.receipts.count())
}

func TestCompleteFromReturn_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)

	_, err := env.payments.CompleteFromReturn(ctx, student.ID, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.payments.CompleteFromReturn(ctx, student.ID, "cs_unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.payments.CompleteFromReturn(ctx, env.student(t).ID, *p.CheckoutSessionID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	env.gateway.retrieveErr = errors.Join(domain.ErrExternalService, errors.New("timeout"))
	_, err = env.payments.CompleteFromReturn(ctx, student.ID, *p.CheckoutSessionID)
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, p))

	// вебхук все еще может провести платеж
	env.gateway.retrieveErr = nil
	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_late", *p.CheckoutSessionID), validSignature))
	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, p))
}

func TestDoubleCompletion_WebhookThenReturn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)
	env.gateway.pay(*p.CheckoutSessionID, "pi_"+*p.CheckoutSessionID)

	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_1", *p.CheckoutSessionID), validSignature))
	res, err := env.payments.CompleteFromReturn(ctx, student.ID, *p.CheckoutSessionID)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentCompleted, res.Payment.Status)
	assert.NotNil(t, res.Enrollment)
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
	assert.Equal(t, 1, env.receipts.count())
}

func TestDoubleCompletion_ReturnThenWebhook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)
	env.gateway.pay(*p.CheckoutSessionID, "pi_1")

	_, err := env.payments.CompleteFromReturn(ctx, student.ID, *p.CheckoutSessionID)
	require.NoError(t, err)
	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_1", *p.CheckoutSessionID), validSignature))

	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
	assert.Equal(t, 1, env.receipts.count())

	ev, err := env.store.Webhooks.GetByEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ev.Processed)
}

func TestDoubleCompletion_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)
	env.gateway.pay(*p.CheckoutSessionID, "pi_1")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.payments.CompleteFromReturn(context.Background(), student.ID, *p.CheckoutSessionID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			// одно и то же событие, доставленное несколько раз
			err := env.payments.HandleWebhook(context.Background(), completedEvent(t, "evt_same", *p.CheckoutSessionID), validSignature)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, p))
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
	assert.Equal(t, 1, env.receipts.count())
}

func TestHandleWebhook_DuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)
	payload := completedEvent(t, "evt_dup", *p.CheckoutSessionID)

	require.NoError(t, env.payments.HandleWebhook(ctx, payload, validSignature))
	require.NoError(t, env.payments.HandleWebhook(ctx, payload, validSignature))

	var n int64
	require.NoError(t, env.store.DB().Model(&domain.WebhookEvent{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
	assert.Equal(t, 1, env.receipts.count())
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)

	err := env.payments.HandleWebhook(ctx, completedEvent(t, "evt_1", *p.CheckoutSessionID), "t=1,v1=forged")
	assert.ErrorIs(t, err, domain.ErrSignatureVerification)

	var n int64
	require.NoError(t, env.store.DB().Model(&domain.WebhookEvent{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, p))
}

func TestHandleWebhook_UnknownPaymentAndEventType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_1", "cs_nobody"), validSignature))
	require.NoError(t, env.payments.HandleWebhook(ctx, eventPayload(t, wireEvent{ID: "evt_2", Type: "customer.created"}), validSignature))

	for _, id := range []string{"evt_1", "evt_2"} {
		ev, err := env.store.Webhooks.GetByEventID(ctx, id)
		require.NoError(t, err)
		assert.True(t, ev.Processed, id)
	}
}

func TestHandleWebhook_UnpaidCompletionWaits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)

	payload := eventPayload(t, wireEvent{ID: "evt_1", Type: domain.EventCheckoutCompleted, ObjectID: *p.CheckoutSessionID, PaymentStatus: "unpaid"})
	require.NoError(t, env.payments.HandleWebhook(ctx, payload, validSignature))
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, p))

	async := eventPayload(t, wireEvent{ID: "evt_2", Type: domain.EventCheckoutAsyncSucceeded, ObjectID: *p.CheckoutSessionID, PaymentStatus: "paid"})
	require.NoError(t, env.payments.HandleWebhook(ctx, async, validSignature))
	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, p))
}

func TestHandleWebhook_ExpiredAndFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	c1, _ := env.course(t, 1000, 1)
	c2, _ := env.course(t, 1000, 1)
	p1 := checkout(t, env, student, c1)
	p2 := checkout(t, env, student, c2)

	require.NoError(t, env.payments.HandleWebhook(ctx, eventPayload(t, wireEvent{
		ID: "evt_1", Type: domain.EventCheckoutExpired, ObjectID: *p1.CheckoutSessionID,
	}), validSignature))
	assert.Equal(t, domain.PaymentFailed, paymentStatus(t, env, p1))

	// payment intent еще не привязан к платежу: находим по metadata
	require.NoError(t, env.payments.HandleWebhook(ctx, eventPayload(t, wireEvent{
		ID: "evt_2", Type: domain.EventPaymentIntentFailed, ObjectID: "pi_unknown",
		Metadata: map[string]string{"payment_id": p2.ID.String()},
	}), validSignature))
	assert.Equal(t, domain.PaymentFailed, paymentStatus(t, env, p2))

	// поздний completed по проваленному платежу ничего не меняет
	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_3", *p1.CheckoutSessionID), validSignature))
	assert.Equal(t, domain.PaymentFailed, paymentStatus(t, env, p1))
	assert.Zero(t, env.enrollmentCount(t, student.ID, c1.ID))
}

func TestHandleWebhook_PaymentIntentSucceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)

	require.NoError(t, env.payments.HandleWebhook(ctx, eventPayload(t, wireEvent{
		ID: "evt_1", Type: domain.EventPaymentIntentSucceeded, ObjectID: "pi_9", PaymentIntentID: "pi_9",
		Metadata: map[string]string{"payment_id": p.ID.String()},
	}), validSignature))

	got, err := env.store.Payments.GetByIntentID(ctx, "pi_9")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, domain.PaymentCompleted, got.Status)
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
}

func TestHandleWebhook_Refund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)

	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_1", *p.CheckoutSessionID), validSignature))
	require.NoError(t, env.payments.HandleWebhook(ctx, eventPayload(t, wireEvent{
		ID: "evt_2", Type: domain.EventChargeRefunded, ObjectID: "pi_" + *p.CheckoutSessionID,
	}), validSignature))

	got, err := env.store.Payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, got.Status)
	assert.NotNil(t, got.RefundedAt)

	e, err := env.store.Enrollments.GetByStudentCourse(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentDropped, e.Status)
}

func TestCreateCheckout_RebuyAfterRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	first := checkout(t, env, student, course)

	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_1", *first.CheckoutSessionID), validSignature))
	require.NoError(t, env.payments.HandleWebhook(ctx, eventPayload(t, wireEvent{
		ID: "evt_2", Type: domain.EventChargeRefunded, ObjectID: "pi_" + *first.CheckoutSessionID,
	}), validSignature))
	dropped, err := env.store.Enrollments.GetByStudentCourse(ctx, student.ID, course.ID)
	require.NoError(t, err)

	second := checkout(t, env, student, course)
	assert.NotEqual(t, first.ID, second.ID)
	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_3", *second.CheckoutSessionID), validSignature))
	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, second))

	e, err := env.store.Enrollments.GetByStudentCourse(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, dropped.ID, e.ID)
	assert.Equal(t, domain.EnrollmentActive, e.Status)
	assert.Nil(t, e.CompletedAt)
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
}

func TestCreateCheckout_VoluntaryDropKeepsPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)
	require.NoError(t, env.payments.HandleWebhook(ctx, completedEvent(t, "evt_1", *p.CheckoutSessionID), validSignature))

	e, err := env.store.Enrollments.GetByStudentCourse(ctx, student.ID, course.ID)
	require.NoError(t, err)
	_, err = env.enrollments.Drop(ctx, student.ID, e.ID)
	require.NoError(t, err)

	_, err = env.payments.CreateCheckout(ctx, student.ID, course.Slug)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, env.gateway.requests, 1)

	back, created, err := env.enrollments.EnrollFree(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, domain.EnrollmentActive, back.Status)
}

func TestHandleWebhook_FailedEffectIsRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)
	payload := completedEvent(t, "evt_1", *p.CheckoutSessionID)

	// запись на курс падает: таблицы нет
	require.NoError(t, env.store.DB().Migrator().DropTable(&domain.CourseProgress{}))

	err := env.payments.HandleWebhook(ctx, payload, validSignature)
	require.Error(t, err)

	ev, err := env.store.Webhooks.GetByEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ev.Processed)
	assert.NotEmpty(t, ev.ProcessingError)
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, p))
	assert.Zero(t, env.enrollmentCount(t, student.ID, course.ID))
	assert.Zero(t, env.receipts.count())

	// повторная доставка после восстановления проходит
	require.NoError(t, repository.AutoMigrate(env.store.DB()))
	require.NoError(t, env.payments.HandleWebhook(ctx, payload, validSignature))

	ev, err = env.store.Webhooks.GetByEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ev.Processed)
	assert.Empty(t, ev.ProcessingError)
	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, p))
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
}

func TestCancelCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 1000, 1)
	p := checkout(t, env, student, course)

	n, err := env.payments.CancelCheckout(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, domain.PaymentFailed, paymentStatus(t, env, p))

	n, err = env.payments.CancelCheckout(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)

	newPayment := func() *domain.Payment {
		c, _ := env.course(t, 1000, 1)
		return checkout(t, env, student, c)
	}
	paid, expired, open, missing, fresh := newPayment(), newPayment(), newPayment(), newPayment(), newPayment()

	env.gateway.pay(*paid.CheckoutSessionID, "pi_paid")
	env.gateway.pay(*fresh.CheckoutSessionID, "pi_fresh")
	env.gateway.expire(*expired.CheckoutSessionID)
	env.gateway.forget(*missing.CheckoutSessionID)

	old := time.Now().UTC().Add(-2 * time.Hour)
	for _, p := range []*domain.Payment{paid, expired, open, missing} {
		require.NoError(t, env.store.DB().Model(&domain.Payment{}).Where("id = ?", p.ID).Update("created_at", old).Error)
	}

	resolved, err := env.payments.ReconcileStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, resolved)

	assert.Equal(t, domain.PaymentCompleted, paymentStatus(t, env, paid))
	assert.Equal(t, domain.PaymentFailed, paymentStatus(t, env, expired))
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, open))
	assert.Equal(t, domain.PaymentFailed, paymentStatus(t, env, missing))
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, fresh))
	assert.Equal(t, 1, env.receipts.count())

	// ошибки процессора откладывают сверку
	env.gateway.retrieveErr = errors.Join(domain.ErrExternalService, errors.New("down"))
	resolved, err = env.payments.ReconcileStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, open))
}
