package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kbridge/unity-send/internal/domain"
)

type postplusSendRequest struct {
	Name       string `json:"rcv_nm"`
	ZipCode    string `json:"rcv_zipcode"`
	Address    string `json:"rcv_addr"`
	TemplateID string `json:"letter_cd"`
	RequestID  string `json:"cust_ref"`
}

type postplusSendResponse struct {
	OrderNo   string `json:"order_no"`
	ErrorCode string `json:"err_cd,omitempty"`
	Message   string `json:"err_msg,omitempty"`
}

// PostPlusAdapter hands registered post over to the PostPlus print-and-mail
// service. Like EPost, acceptance is the terminal outcome.
type PostPlusAdapter struct {
	client   *resty.Client
	endpoint string
}

func NewPostPlusAdapter(endpoint, apiKey string) (*PostPlusAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultPostTimeout)
	client.SetRetryCount(0)
	client.SetHeader("Authorization", "Bearer "+strings.TrimSpace(apiKey))

	return NewPostPlusAdapterWithClient(endpoint, client)
}

func NewPostPlusAdapterWithClient(endpoint string, client *resty.Client) (*PostPlusAdapter, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("postplus endpoint is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPostTimeout)
	}
	client.SetRetryCount(0)

	return &PostPlusAdapter{client: client, endpoint: trimmed}, nil
}

func (a *PostPlusAdapter) Code() domain.ChannelCode   { return domain.ChannelPostPlus }
func (a *PostPlusAdapter) RequiresConfirmation() bool { return false }
func (a *PostPlusAdapter) RequiredFields() []string   { return []string{"name", "zipCode", "address"} }

func (a *PostPlusAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("postplus adapter is not initialized")
	}

	body := postplusSendRequest{
		Name:       req.Recipient.Name,
		ZipCode:    req.Recipient.ZipCode,
		Address:    req.Recipient.Address,
		TemplateID: req.TemplateID,
		RequestID:  req.DetailID,
	}

	var parsed postplusSendResponse
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(a.endpoint + "/v1/orders")
	if err != nil {
		return nil, &AdapterError{
			Message:   "postplus request failed",
			Permanent: false,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			ExternalRef: strings.TrimSpace(parsed.OrderNo),
			Outcome:     Outcome{OK: true},
		}, nil
	}

	return nil, &AdapterError{
		StatusCode: statusCode,
		Code:       normalizePostCode("POSTPLUS", parsed.ErrorCode),
		Message:    postErrorMessage("postplus", statusCode, parsed.Message),
		Permanent:  isPermanentPostError(statusCode, parsed.ErrorCode),
	}
}

func (a *PostPlusAdapter) PollStatus(ctx context.Context, externalRef string) (*Outcome, error) {
	return nil, fmt.Errorf("postplus does not support status polling")
}
