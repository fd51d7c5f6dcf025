package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/velouria-skin/api/internal/checkout"
	"github.com/velouria-skin/api/internal/services/order"
	"github.com/velouria-skin/api/internal/stripe"
)

const testSecret = "whsec_test_secret"

type stubReconciler struct {
	reconciled []string
	expired    []string
	order      order.Order
	err        error
}

func (s *stubReconciler) ReconcileSession(ctx context.Context, sess *stripesdk.CheckoutSession, source string) (order.Order, error) {
	s.reconciled = append(s.reconciled, sess.ID)
	return s.order, s.err
}

func (s *stubReconciler) HandleSessionExpired(ctx context.Context, sessionID string) error {
	s.expired = append(s.expired, sessionID)
	return s.err
}

func newWebhookTest(t *testing.T) (*WebhookHandler, *stubReconciler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubReconciler{order: order.Order{ID: uuid.New(), Status: order.StatusConfirmed}}
	return NewWebhookHandler(stripe.NewService("sk_test_fake", logger), stub, logger, testSecret), stub
}

func signedRequest(t *testing.T, eventType, sessionID string) *http.Request {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"api_version": stripesdk.APIVersion,
		"type":        eventType,
		"data": map[string]any{
			"object": map[string]any{"id": sessionID},
		},
	})
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})

	req := httptest.NewRequest("POST", "/api/v1/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func TestWebhook_SessionCompleted(t *testing.T) {
	h, stub := newWebhookTest(t)

	rr := httptest.NewRecorder()
	h.HandleStripeWebhook(rr, signedRequest(t, "checkout.session.completed", "cs_test_123"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp["received"] {
		t.Error("expected received=true")
	}
	if len(stub.reconciled) != 1 || stub.reconciled[0] != "cs_test_123" {
		t.Errorf("reconciled = %v, want [cs_test_123]", stub.reconciled)
	}
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	h, stub := newWebhookTest(t)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.HandleStripeWebhook(rr, signedRequest(t, "checkout.session.completed", "cs_test_123"))
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rr.Code)
		}
	}

	// Both deliveries reach the reconciler; idempotency lives there, and
	// the handler must acknowledge each with 200.
	if len(stub.reconciled) != 2 {
		t.Errorf("reconciler calls = %d, want 2", len(stub.reconciled))
	}
}

func TestWebhook_NoIntentRejected(t *testing.T) {
	h, stub := newWebhookTest(t)
	stub.err = fmt.Errorf("decoding order intent from session cs_bare: %w", checkout.ErrNoIntent)

	rr := httptest.NewRecorder()
	h.HandleStripeWebhook(rr, signedRequest(t, "checkout.session.completed", "cs_bare"))

	// A session without an intent can never become an order; the delivery
	// must not be acknowledged.
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestWebhook_ReconcileErrorStillAcknowledged(t *testing.T) {
	h, stub := newWebhookTest(t)
	stub.err = errors.New("connection reset")

	rr := httptest.NewRecorder()
	h.HandleStripeWebhook(rr, signedRequest(t, "checkout.session.completed", "cs_test_123"))

	// Transient failures are acknowledged; the verifier fallback picks
	// the session up when the customer lands on the success page.
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestWebhook_SessionExpired(t *testing.T) {
	h, stub := newWebhookTest(t)

	rr := httptest.NewRecorder()
	h.HandleStripeWebhook(rr, signedRequest(t, "checkout.session.expired", "cs_test_999"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(stub.expired) != 1 || stub.expired[0] != "cs_test_999" {
		t.Errorf("expired = %v, want [cs_test_999]", stub.expired)
	}
	if len(stub.reconciled) != 0 {
		t.Errorf("expired session must not be reconciled, got %v", stub.reconciled)
	}
}

func TestWebhook_IgnoredEventType(t *testing.T) {
	h, stub := newWebhookTest(t)

	rr := httptest.NewRecorder()
	h.HandleStripeWebhook(rr, signedRequest(t, "payment_intent.succeeded", "pi_1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(stub.reconciled) != 0 || len(stub.expired) != 0 {
		t.Error("ignored event types must not touch the reconciler")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	h, stub := newWebhookTest(t)

	req := httptest.NewRequest("POST", "/api/v1/webhooks/stripe",
		bytes.NewReader([]byte(`{"type":"checkout.session.completed"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")

	rr := httptest.NewRecorder()
	h.HandleStripeWebhook(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if len(stub.reconciled) != 0 {
		t.Error("unverified event must not be reconciled")
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	h, _ := newWebhookTest(t)

	req := httptest.NewRequest("POST", "/api/v1/webhooks/stripe",
		bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	h.HandleStripeWebhook(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
