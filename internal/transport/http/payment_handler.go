package handlers

import (
	"errors"
	"io"
	"net/http"

	"coursemarket/internal/application/usecase"
	"coursemarket/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "Stripe-Signature"
)

type PaymentHandler struct {
	payments *usecase.PaymentReconciler
	log      zerolog.Logger
}

func NewPaymentHandler(payments *usecase.PaymentReconciler, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

// POST /api/v1/courses/:slug/checkout
func (h *PaymentHandler) Checkout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	res, err := h.payments.CreateCheckout(c.Request.Context(), userID, c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment_id":   res.Payment.ID,
		"session_id":   res.Payment.CheckoutSessionID,
		"checkout_url": res.CheckoutURL,
		"amount_cents": res.Payment.AmountCents,
		"currency":     res.Payment.Currency,
	})
}

// POST /api/v1/courses/:slug/checkout/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	n, err := h.payments.CancelCheckout(c.Request.Context(), userID, c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

// GET /api/v1/payments/success?session_id=...
func (h *PaymentHandler) Success(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	res, err := h.payments.CompleteFromReturn(c.Request.Context(), userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_id": res.Payment.ID,
		"status":     res.Payment.Status,
		"enrollment": res.Enrollment,
	})
}

// GET /api/v1/payments/history
func (h *PaymentHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	list, err := h.payments.History(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// POST /api/v1/payments/webhook
// Подпись считается по сырому телу, поэтому тело не биндим.
// 500 заставляет процессор повторить доставку.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.log.Warn().Err(err).Str("ip", c.ClientIP()).Int64("content_length", c.Request.ContentLength).
			Msg("webhook body rejected")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	err = h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, domain.ErrSignatureVerification):
		h.log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("webhook signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
	}
}
