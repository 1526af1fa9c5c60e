package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testNotification() Notification {
	return Notification{
		ExecutionID:  uuid.New(),
		AutomationID: uuid.New(),
		Status:       "success",
	}
}

func TestWebhookSender_SignsRequests(t *testing.T) {
	const secret = "test-secret"
	var gotSignature string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Autoloop-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, secret, 5*time.Second)
	if err := sender.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotSignature == "" {
		t.Fatal("request carried no signature")
	}
	if !VerifySignature(secret, gotBody, gotSignature) {
		t.Error("signature does not verify against the body")
	}
	if VerifySignature("wrong-secret", gotBody, gotSignature) {
		t.Error("signature verifies under the wrong secret")
	}
}

func TestWebhookSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "s", 5*time.Second)
	if err := sender.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("send after transient failure: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("made %d requests, want 2", calls.Load())
	}
}

func TestWebhookSender_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "s", 5*time.Second)
	if err := sender.Send(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("made %d requests, want 1 (client errors are permanent)", calls.Load())
	}
}

func TestWebhookSender_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "s", 5*time.Second)
	if err := sender.Send(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
	if calls.Load() != maxSendAttempts {
		t.Errorf("made %d requests, want %d", calls.Load(), maxSendAttempts)
	}
}
