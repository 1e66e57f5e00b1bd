package email

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"coursemarket/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtures() (*domain.User, *domain.Course, *domain.Payment) {
	return &domain.User{Username: "alice", Email: "alice@example.com"},
		&domain.Course{Title: "Go Basics", Slug: "go-basics"},
		&domain.Payment{ID: uuid.New(), AmountCents: 4999, Currency: "usd"}
}

func TestSendPaymentReceipt(t *testing.T) {
	var (
		auth string
		body map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewEmailSender("SG.key", "noreply@example.com", "https://app.example", zerolog.Nop()).WithHost(srv.URL)
	u, c, p := fixtures()

	require.NoError(t, s.SendPaymentReceipt(context.Background(), u, c, p))
	assert.Equal(t, "Bearer SG.key", auth)
	assert.Equal(t, "Чек об оплате: Go Basics", body["subject"])

	raw, _ := json.Marshal(body["content"])
	assert.Contains(t, string(raw), "49.99 usd")
	assert.Contains(t, string(raw), "https://app.example/courses/go-basics")
}

func TestSendPaymentReceipt_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errors":[{"message":"bad key"}]}`)
	}))
	defer srv.Close()

	s := NewEmailSender("SG.bad", "noreply@example.com", "https://app.example", zerolog.Nop()).WithHost(srv.URL)
	u, c, p := fixtures()

	assert.Error(t, s.SendPaymentReceipt(context.Background(), u, c, p))
}

func TestSendPaymentReceipt_DisabledWithoutKey(t *testing.T) {
	s := NewEmailSender("", "noreply@example.com", "https://app.example", zerolog.Nop()).WithHost("http://127.0.0.1:1")
	u, c, p := fixtures()
	assert.NoError(t, s.SendPaymentReceipt(context.Background(), u, c, p))
}
