package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", WithAPIURL(server.URL), WithHTTPClient(server.Client()))

	err := client.Send(context.Background(), "parent@example.com", "Chore submitted", "Pip finished <Dishes>.\n\nReview it in the app.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "parent@example.com" {
		t.Errorf("To = %q, want %q", received.To, "parent@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if received.Subject != "Chore submitted" {
		t.Errorf("Subject = %q, want %q", received.Subject, "Chore submitted")
	}
	want := "<p>Pip finished &lt;Dishes&gt;.</p><p>Review it in the app.</p>"
	if received.HtmlBody != want {
		t.Errorf("HtmlBody = %q, want %q", received.HtmlBody, want)
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com")
	if err := client.Send(context.Background(), "a@example.com", "s", "b"); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestSendNoRecipient(t *testing.T) {
	client := NewClient("token", "noreply@example.com")
	if err := client.Send(context.Background(), "", "s", "b"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", WithAPIURL(server.URL))
	if err := client.Send(context.Background(), "a@example.com", "s", "b"); err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestConfigured(t *testing.T) {
	c := NewClient("token", "from@test.com")
	if !c.Configured() {
		t.Error("expected Configured() = true")
	}

	c2 := NewClient("", "from@test.com")
	if c2.Configured() {
		t.Error("expected Configured() = false")
	}
}
