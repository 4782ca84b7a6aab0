package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/domain"
	"golang.org/x/oauth2"
)

type failingTokenSource struct{}

func (failingTokenSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("token endpoint unavailable")
}

func testPushJob() *domain.Job {
	return &domain.Job{
		NotificationID: "n-2",
		UserID:         "u-2",
		RequestID:      "r-2",
		TemplateCode:   "order_shipped",
		DeviceToken:    "device-abc",
		Variables:      map[string]any{"title": "Shipped", "message": "Your order is on the way"},
	}
}

func TestFCMProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody fcmRequest
	var gotPath, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"projects/demo/messages/42"}`))
	}))
	defer server.Close()

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "fcm-token"})
	p, err := NewFCMProvider(server.URL, "demo", tokens)
	if err != nil {
		t.Fatalf("NewFCMProvider() error = %v", err)
	}

	receipt, err := p.Send(context.Background(), testPushJob())
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if gotPath != "/v1/projects/demo/messages:send" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer fcm-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if receipt.MessageID != "projects/demo/messages/42" {
		t.Fatalf("MessageID = %q", receipt.MessageID)
	}
	if gotBody.Message.Token != "device-abc" {
		t.Fatalf("token = %q", gotBody.Message.Token)
	}
	if gotBody.Message.Notification.Title != "Shipped" || gotBody.Message.Notification.Body != "Your order is on the way" {
		t.Fatalf("notification = %+v", gotBody.Message.Notification)
	}
	if gotBody.Message.Data["notification_id"] != "n-2" {
		t.Fatalf("data = %+v", gotBody.Message.Data)
	}
}

func TestFCMProviderDefaultsTitleAndBody(t *testing.T) {
	t.Parallel()

	job := testPushJob()
	job.Variables = nil

	if got := pushTitle(job); got != "order_shipped" {
		t.Fatalf("pushTitle() = %q", got)
	}
	if got := pushBody(job); got != `Your notification "order_shipped" has been triggered.` {
		t.Fatalf("pushBody() = %q", got)
	}
}

func TestFCMProviderSendErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer unregistered" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"status":"NOT_FOUND"}}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	noToken := testPushJob()
	noToken.DeviceToken = ""

	testCases := []struct {
		name          string
		tokens        oauth2.TokenSource
		job           *domain.Job
		wantTransient bool
		wantPermanent bool
	}{
		{
			name:          "missing device token is permanent",
			tokens:        oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"}),
			job:           noToken,
			wantPermanent: true,
		},
		{
			name:          "missing credentials is permanent",
			tokens:        nil,
			job:           testPushJob(),
			wantPermanent: true,
		},
		{
			name:          "token failure is transient",
			tokens:        failingTokenSource{},
			job:           testPushJob(),
			wantTransient: true,
		},
		{
			name:          "not found is permanent",
			tokens:        oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "unregistered"}),
			job:           testPushJob(),
			wantPermanent: true,
		},
		{
			name:          "unavailable is transient",
			tokens:        oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"}),
			job:           testPushJob(),
			wantTransient: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewFCMProvider(server.URL, "demo", tc.tokens)
			if err != nil {
				t.Fatalf("NewFCMProvider() error = %v", err)
			}

			_, err = p.Send(context.Background(), tc.job)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v (err=%v)", got, tc.wantTransient, err)
			}
			if got := IsPermanent(err); got != tc.wantPermanent {
				t.Fatalf("IsPermanent() = %v, want %v (err=%v)", got, tc.wantPermanent, err)
			}
		})
	}
}

func TestFCMProviderServiceAccountToken(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("assertion") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"sa-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var gotAuth string
	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"name":"projects/demo-project/messages/1"}`))
	}))
	defer fcmServer.Close()

	creds, err := LoadFirebaseCredentials(context.Background(), serviceAccountJSON(t, tokenServer.URL), "", "")
	if err != nil {
		t.Fatalf("LoadFirebaseCredentials() error = %v", err)
	}
	if creds.ProjectID != "demo-project" {
		t.Fatalf("ProjectID = %q, want demo-project", creds.ProjectID)
	}

	p, err := NewFCMProvider(fcmServer.URL, creds.ProjectID, creds.Tokens)
	if err != nil {
		t.Fatalf("NewFCMProvider() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := p.Send(context.Background(), testPushJob()); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if gotAuth != "Bearer sa-token" {
		t.Fatalf("Authorization = %q, want Bearer sa-token", gotAuth)
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("token endpoint calls = %d, want 1 (token reused)", got)
	}
}

func TestFCMProviderTokenEndpointErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		status        int
		wantTransient bool
		wantPermanent bool
	}{
		{name: "unavailable token endpoint is transient", status: http.StatusServiceUnavailable, wantTransient: true},
		{name: "throttled token endpoint is transient", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "rejected service account is permanent", status: http.StatusBadRequest, wantPermanent: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			}))
			defer tokenServer.Close()

			fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("fcm endpoint must not be called without a token")
			}))
			defer fcmServer.Close()

			creds, err := LoadFirebaseCredentials(context.Background(), serviceAccountJSON(t, tokenServer.URL), "", "")
			if err != nil {
				t.Fatalf("LoadFirebaseCredentials() error = %v", err)
			}
			p, err := NewFCMProvider(fcmServer.URL, creds.ProjectID, creds.Tokens)
			if err != nil {
				t.Fatalf("NewFCMProvider() error = %v", err)
			}

			_, err = p.Send(context.Background(), testPushJob())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v (err=%v)", got, tc.wantTransient, err)
			}
			if got := IsPermanent(err); got != tc.wantPermanent {
				t.Fatalf("IsPermanent() = %v, want %v (err=%v)", got, tc.wantPermanent, err)
			}
		})
	}
}

func TestFCMProviderTokenFetchHonoursSendDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(tokenServer.Close)
	t.Cleanup(func() { close(release) })

	creds, err := LoadFirebaseCredentials(context.Background(), serviceAccountJSON(t, tokenServer.URL), "", "")
	if err != nil {
		t.Fatalf("LoadFirebaseCredentials() error = %v", err)
	}
	p, err := NewFCMProvider("https://fcm.invalid", creds.ProjectID, creds.Tokens)
	if err != nil {
		t.Fatalf("NewFCMProvider() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Send(ctx, testPushJob())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error from stalled token endpoint")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Send returned after %v, want it bounded by the 200ms deadline", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !IsTransient(err) || IsPermanent(err) {
		t.Fatalf("stalled token fetch must be transient, got %v", err)
	}
}

// serviceAccountJSON builds a throwaway service account whose token_uri
// points at tokenURL.
func serviceAccountJSON(t *testing.T, tokenURL string) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}

	body, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "demo-project",
		"private_key_id": "key-1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "relay@demo-project.iam.gserviceaccount.com",
		"client_id":      "1234567890",
		"token_uri":      tokenURL,
	})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return string(body)
}
