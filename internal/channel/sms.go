package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kbridge/unity-send/internal/domain"
)

const defaultSMSTimeout = 10 * time.Second

type smsSendRequest struct {
	Phone      string `json:"to"`
	TemplateID string `json:"template_id"`
	RequestID  string `json:"client_key"`
}

type smsSendResponse struct {
	MessageID string `json:"message_id"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SMSAdapter is the plain-text fallback channel; the gateway's accept
// response is the terminal outcome.
type SMSAdapter struct {
	client   *resty.Client
	endpoint string
}

func NewSMSAdapter(endpoint, apiKey string) (*SMSAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)
	client.SetRetryCount(0)
	client.SetHeader("X-Api-Key", strings.TrimSpace(apiKey))

	return NewSMSAdapterWithClient(endpoint, client)
}

func NewSMSAdapterWithClient(endpoint string, client *resty.Client) (*SMSAdapter, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("sms endpoint is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSMSTimeout)
	}
	client.SetRetryCount(0)

	return &SMSAdapter{client: client, endpoint: trimmed}, nil
}

func (a *SMSAdapter) Code() domain.ChannelCode   { return domain.ChannelSMS }
func (a *SMSAdapter) RequiresConfirmation() bool { return false }
func (a *SMSAdapter) RequiredFields() []string   { return []string{"phone"} }

func (a *SMSAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("sms adapter is not initialized")
	}

	body := smsSendRequest{
		Phone:      req.Recipient.Phone,
		TemplateID: req.TemplateID,
		RequestID:  req.DetailID,
	}

	var parsed smsSendResponse
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(a.endpoint + "/v1/messages")
	if err != nil {
		return nil, &AdapterError{
			Message:   "sms request failed",
			Permanent: false,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			ExternalRef: strings.TrimSpace(parsed.MessageID),
			Outcome:     Outcome{OK: true},
		}, nil
	}

	permanent := statusCode == http.StatusUnprocessableEntity ||
		strings.EqualFold(strings.TrimSpace(parsed.ErrorCode), "INVALID_NUMBER")

	return nil, &AdapterError{
		StatusCode: statusCode,
		Code:       normalizePostCode("SMS", parsed.ErrorCode),
		Message:    postErrorMessage("sms", statusCode, parsed.Message),
		Permanent:  permanent,
	}
}

func (a *SMSAdapter) PollStatus(ctx context.Context, externalRef string) (*Outcome, error) {
	return nil, fmt.Errorf("sms does not support status polling")
}
