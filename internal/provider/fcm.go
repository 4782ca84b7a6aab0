package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-relay/internal/domain"
	"golang.org/x/oauth2"
)

// DefaultFCMEndpoint is the FCM HTTP v1 API base URL.
const DefaultFCMEndpoint = "https://fcm.googleapis.com"

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmResponse struct {
	Name string `json:"name"`
}

var _ Provider = (*FCMProvider)(nil)

// FCMProvider delivers push jobs through the Firebase Cloud Messaging v1 API.
type FCMProvider struct {
	client    *resty.Client
	endpoint  string
	projectID string
	tokens    oauth2.TokenSource
}

func NewFCMProvider(endpoint, projectID string, tokens oauth2.TokenSource) (*FCMProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)

	return NewFCMProviderWithClient(endpoint, projectID, tokens, client)
}

func NewFCMProviderWithClient(endpoint, projectID string, tokens oauth2.TokenSource, client *resty.Client) (*FCMProvider, error) {
	trimmedEndpoint := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmedEndpoint == "" {
		trimmedEndpoint = DefaultFCMEndpoint
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid fcm endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &FCMProvider{
		client:    client,
		endpoint:  trimmedEndpoint,
		projectID: strings.TrimSpace(projectID),
		tokens:    tokens,
	}, nil
}

func (p *FCMProvider) Kind() domain.Kind { return domain.KindPush }

func (p *FCMProvider) Send(ctx context.Context, job *domain.Job) (*Receipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if job == nil {
		return nil, permanentError("job is required")
	}
	if p.tokens == nil {
		return nil, permanentError("firebase credentials are not configured")
	}
	if p.projectID == "" {
		return nil, permanentError("firebase project id is not configured")
	}

	deviceToken := job.Recipient(domain.KindPush)
	if deviceToken == "" {
		return nil, permanentError("device token is required")
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, tokenFailed(err)
	}

	reqBody := fcmRequest{
		Message: fcmMessage{
			Token: deviceToken,
			Notification: fcmNotification{
				Title: pushTitle(job),
				Body:  pushBody(job),
			},
			Data: map[string]string{
				"notification_id": job.NotificationID,
				"request_id":      job.RequestID,
				"template_code":   job.TemplateCode,
			},
		},
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.sendURL())
	if err != nil {
		return nil, requestFailed(err)
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var decoded fcmResponse
		_ = json.Unmarshal(response.Body(), &decoded)
		return &Receipt{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  decoded.Name,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (p *FCMProvider) sendURL() string {
	return fmt.Sprintf("%s/v1/projects/%s/messages:send", p.endpoint, url.PathEscape(p.projectID))
}

// accessToken fetches a bearer token without outliving ctx. TokenSource has no
// context parameter, so the fetch runs aside and is abandoned on ctx expiry;
// the credential HTTP client timeout bounds the abandoned call.
func (p *FCMProvider) accessToken(ctx context.Context) (*oauth2.Token, error) {
	type result struct {
		token *oauth2.Token
		err   error
	}

	done := make(chan result, 1)
	go func() {
		token, err := p.tokens.Token()
		done <- result{token: token, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err == nil && (r.token == nil || r.token.AccessToken == "") {
			return nil, errors.New("token source returned an empty access token")
		}
		return r.token, r.err
	}
}

// tokenFailed classifies a token fetch failure. Only a 4xx answer from the
// token endpoint (bad key, revoked account) is permanent.
func tokenFailed(err error) *ProviderError {
	const message = "failed to obtain firebase access token"

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return &ProviderError{
			StatusCode: code,
			Message:    message,
			Transient:  code < http.StatusBadRequest || code >= http.StatusInternalServerError || isTransientHTTPStatus(code),
			Cause:      err,
		}
	}

	failed := requestFailed(err)
	failed.Message = message
	return failed
}
