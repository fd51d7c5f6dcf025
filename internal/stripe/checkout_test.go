package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	stripesdk "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestValidateSessionInput(t *testing.T) {
	valid := SessionInput{
		Email:      "buyer@example.com",
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
		Currency:   "eur",
		Items: []SessionItem{
			{Name: "Hydrating Serum", Quantity: 1, UnitAmount: 2900, ProductID: "p1"},
		},
	}

	tests := []struct {
		name    string
		mutate  func(*SessionInput)
		wantErr error
	}{
		{"valid", func(in *SessionInput) {}, nil},
		{"no items", func(in *SessionInput) { in.Items = nil }, ErrEmptyItems},
		{"no currency", func(in *SessionInput) { in.Currency = "" }, ErrInvalidCurrency},
		{"no success url", func(in *SessionInput) { in.SuccessURL = "" }, ErrMissingURLs},
		{"no cancel url", func(in *SessionInput) { in.CancelURL = "" }, ErrMissingURLs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := validateSessionInput(in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validateSessionInput() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecimalToCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"42.50", 4250},
		{"0.01", 1},
		{"19.999", 2000},
		{"100", 10000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.in)
			if err != nil {
				t.Fatalf("parsing %q: %v", tt.in, err)
			}
			if got := decimalToCents(d); got != tt.want {
				t.Errorf("decimalToCents(%s) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	svc := NewService("sk_test_fake", nil)
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_123","api_version":"` + stripesdk.APIVersion + `","type":"checkout.session.completed"}`)

	t.Run("valid signature", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    secret,
			Timestamp: time.Now(),
		})

		event, err := svc.VerifyWebhookSignature(signed.Payload, signed.Header, secret)
		if err != nil {
			t.Fatalf("VerifyWebhookSignature: %v", err)
		}
		if event.ID != "evt_123" {
			t.Errorf("event.ID = %q, want evt_123", event.ID)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    "whsec_other",
			Timestamp: time.Now(),
		})

		if _, err := svc.VerifyWebhookSignature(signed.Payload, signed.Header, secret); err == nil {
			t.Error("expected signature error")
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    secret,
			Timestamp: time.Now().Add(-10 * time.Minute),
		})

		if _, err := svc.VerifyWebhookSignature(signed.Payload, signed.Header, secret); err == nil {
			t.Error("expected replay tolerance error")
		}
	})
}
