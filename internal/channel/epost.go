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

const defaultPostTimeout = 15 * time.Second

type epostSendRequest struct {
	Name       string `json:"receiver_name"`
	ZipCode    string `json:"receiver_zip"`
	Address    string `json:"receiver_addr"`
	TemplateID string `json:"form_id"`
	RequestID  string `json:"order_key"`
}

type epostSendResponse struct {
	AcceptNo  string `json:"accept_no"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// EPostAdapter hands registered post over to the EPost window service.
// Acceptance by the window is the terminal outcome for this channel; there
// is no asynchronous delivery confirmation.
type EPostAdapter struct {
	client   *resty.Client
	endpoint string
}

func NewEPostAdapter(endpoint, apiKey string) (*EPostAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultPostTimeout)
	client.SetRetryCount(0)
	client.SetHeader("X-Api-Key", strings.TrimSpace(apiKey))

	return NewEPostAdapterWithClient(endpoint, client)
}

func NewEPostAdapterWithClient(endpoint string, client *resty.Client) (*EPostAdapter, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("epost endpoint is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPostTimeout)
	}
	client.SetRetryCount(0)

	return &EPostAdapter{client: client, endpoint: trimmed}, nil
}

func (a *EPostAdapter) Code() domain.ChannelCode   { return domain.ChannelEPost }
func (a *EPostAdapter) RequiresConfirmation() bool { return false }
func (a *EPostAdapter) RequiredFields() []string   { return []string{"name", "zipCode", "address"} }

func (a *EPostAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("epost adapter is not initialized")
	}

	body := epostSendRequest{
		Name:       req.Recipient.Name,
		ZipCode:    req.Recipient.ZipCode,
		Address:    req.Recipient.Address,
		TemplateID: req.TemplateID,
		RequestID:  req.DetailID,
	}

	var parsed epostSendResponse
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(a.endpoint + "/api/v1/accept")
	if err != nil {
		return nil, &AdapterError{
			Message:   "epost request failed",
			Permanent: false,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			ExternalRef: strings.TrimSpace(parsed.AcceptNo),
			Outcome:     Outcome{OK: true},
		}, nil
	}

	return nil, &AdapterError{
		StatusCode: statusCode,
		Code:       normalizePostCode("EPOST", parsed.ErrorCode),
		Message:    postErrorMessage("epost", statusCode, parsed.Message),
		Permanent:  isPermanentPostError(statusCode, parsed.ErrorCode),
	}
}

func (a *EPostAdapter) PollStatus(ctx context.Context, externalRef string) (*Outcome, error) {
	return nil, fmt.Errorf("epost does not support status polling")
}

// Shared helpers for the postal channels.

func isPermanentPostError(statusCode int, errorCode string) bool {
	switch strings.ToUpper(strings.TrimSpace(errorCode)) {
	case "BAD_ADDRESS", "UNKNOWN_ZIP", "REFUSED":
		return true
	}
	return statusCode == http.StatusUnprocessableEntity
}

func normalizePostCode(prefix, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	return prefix + "_" + code
}

func postErrorMessage(provider string, statusCode int, message string) string {
	base := fmt.Sprintf("%s returned status %d", provider, statusCode)
	if strings.TrimSpace(message) == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, message)
}
