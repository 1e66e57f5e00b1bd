package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository"
	"coursemarket/internal/infrastructure/repository/repotest"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const validSignature = "t=1,v1=ok"

type fakeGateway struct {
	mu          sync.Mutex
	seq         int
	sessions    map[string]*domain.CheckoutSession
	requests    []domain.CheckoutRequest
	createErr   error
	retrieveErr error
	retrieved   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*domain.CheckoutSession{}}
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	s := &domain.CheckoutSession{ID: id, URL: "https://checkout.test/" + id, Status: "open", PaymentStatus: "unpaid"}
	g.sessions[id] = s
	g.requests = append(g.requests, req)
	out := *s
	return &out, nil
}

func (g *fakeGateway) RetrieveCheckout(_ context.Context, sessionID string) (*domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieved++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("retrieve checkout session: %w", domain.ErrNotFound)
	}
	out := *s
	return &out, nil
}

// pay помечает сессию оплаченной, как после успешного checkout.
func (g *fakeGateway) pay(sessionID, intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.sessions[sessionID]
	s.Status = "complete"
	s.PaymentStatus = "paid"
	s.PaymentIntentID = intentID
}

func (g *fakeGateway) expire(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionID].Status = "expired"
}

func (g *fakeGateway) forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}

type wireEvent struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	ObjectID        string            `json:"object_id"`
	PaymentStatus   string            `json:"payment_status"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func (g *fakeGateway) ParseWebhook(payload []byte, signatureHeader string) (*domain.ProcessorEvent, error) {
	if signatureHeader != validSignature {
		return nil, fmt.Errorf("%w: bad signature", domain.ErrSignatureVerification)
	}
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureVerification, err)
	}
	return &domain.ProcessorEvent{
		ID:              w.ID,
		Type:            w.Type,
		ObjectID:        w.ObjectID,
		PaymentStatus:   w.PaymentStatus,
		PaymentIntentID: w.PaymentIntentID,
		Metadata:        w.Metadata,
		Payload:         payload,
	}, nil
}

func eventPayload(t testing.TB, w wireEvent) []byte {
	t.Helper()
	b, err := json.Marshal(w)
	require.NoError(t, err)
	return b
}

type fakeReceipts struct {
	mu   sync.Mutex
	sent []uuid.UUID
}

func (r *fakeReceipts) SendPaymentReceipt(_ context.Context, _ *domain.User, _ *domain.Course, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p.ID)
	return nil
}

func (r *fakeReceipts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type testEnv struct {
	store       *repository.Store
	gateway     *fakeGateway
	receipts    *fakeReceipts
	enrollments *EnrollmentManager
	progress    *ProgressAggregator
	payments    *PaymentReconciler
	users       *UserUseCase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repotest.NewStore(t)
	log := zerolog.Nop()

	env := &testEnv{
		store:    store,
		gateway:  newFakeGateway(),
		receipts: &fakeReceipts{},
	}
	env.enrollments = NewEnrollmentManager(store, log)
	env.progress = NewProgressAggregator(store, log)
	env.payments = NewPaymentReconciler(store, env.enrollments, env.gateway, env.receipts, "https://app.test/", log)
	env.users = NewUserUseCase(store, log)
	return env
}

func (e *testEnv) student(t *testing.T) *domain.User {
	return repotest.User(t, e.store, domain.RoleStudent)
}

func (e *testEnv) course(t *testing.T, priceCents int64, lessons int) (*domain.Course, []domain.Lesson) {
	inst := repotest.User(t, e.store, domain.RoleInstructor)
	return repotest.Course(t, e.store, inst.ID, domain.CoursePublished, priceCents, lessons)
}

func (e *testEnv) enrollmentCount(t *testing.T, studentID, courseID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.store.DB().Model(&domain.Enrollment{}).
		Where("student_id = ? AND course_id = ?", studentID, courseID).Count(&n).Error)
	return n
}
