package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifyPostsPayload(t *testing.T) {
	var got InboundMessage
	var gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(SecretHeader)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "hunter2")
	err := n.Notify(context.Background(), InboundMessage{
		From:         "15551234567@s.whatsapp.net",
		FromIdentity: "15551234567@s.whatsapp.net",
		Text:         "hello",
		MessageID:    "ABC123",
		FromMe:       true,
		SelfJID:      "15551234567@s.whatsapp.net",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got.From != "15551234567@s.whatsapp.net" || got.Text != "hello" || !got.FromMe {
		t.Errorf("payload = %+v, want posted fields intact", got)
	}
	if got.IsGroup {
		t.Error("is_group = true, want false")
	}
	if gotSecret != "hunter2" {
		t.Errorf("secret header = %q, want hunter2", gotSecret)
	}
}

func TestNotifyErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	if err := n.Notify(context.Background(), InboundMessage{From: "x", Text: "y"}); err == nil {
		t.Error("Notify() = nil error for 502 response")
	}
}

func TestNotifyNoSecretHeaderWhenUnset(t *testing.T) {
	var hasHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasHeader = r.Header[SecretHeader]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	if err := n.Notify(context.Background(), InboundMessage{From: "x", Text: "y"}); err != nil {
		t.Fatal(err)
	}
	if hasHeader {
		t.Error("secret header sent despite empty secret")
	}
}
