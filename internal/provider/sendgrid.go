package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-relay/internal/domain"
)

const (
	defaultSendTimeout = 10 * time.Second
	// DefaultSendGridEndpoint is the SendGrid v3 mail send API.
	DefaultSendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"
)

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

var _ Provider = (*SendGridProvider)(nil)

// SendGridProvider delivers email jobs through the SendGrid v3 API.
type SendGridProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	from     string
}

func NewSendGridProvider(endpoint, apiKey, from string) (*SendGridProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)

	return NewSendGridProviderWithClient(endpoint, apiKey, from, client)
}

func NewSendGridProviderWithClient(endpoint, apiKey, from string, client *resty.Client) (*SendGridProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		trimmedEndpoint = DefaultSendGridEndpoint
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid sendgrid endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &SendGridProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
		from:     strings.TrimSpace(from),
	}, nil
}

func (p *SendGridProvider) Kind() domain.Kind { return domain.KindEmail }

func (p *SendGridProvider) Send(ctx context.Context, job *domain.Job) (*Receipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if job == nil {
		return nil, permanentError("job is required")
	}
	if p.apiKey == "" {
		return nil, permanentError("sendgrid api key is not configured")
	}
	if p.from == "" {
		return nil, permanentError("sender address is not configured")
	}

	recipient := job.Recipient(domain.KindEmail)
	if recipient == "" || !strings.Contains(recipient, "@") {
		return nil, permanentError("invalid email recipient %q", recipient)
	}

	text, htmlBody := emailBodies(job)
	reqBody := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: recipient}}}},
		From:             sendGridAddress{Email: p.from},
		Subject:          emailSubject(job),
		Content: []sendGridContent{
			{Type: "text/plain", Value: text},
			{Type: "text/html", Value: htmlBody},
		},
		CustomArgs: map[string]string{
			"notification_id": job.NotificationID,
			"request_id":      job.RequestID,
		},
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, requestFailed(err)
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Receipt{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  strings.TrimSpace(response.Header().Get("X-Message-Id")),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
