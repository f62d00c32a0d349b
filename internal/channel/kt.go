package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kbridge/unity-send/internal/domain"
)

const defaultKTTimeout = 10 * time.Second

// KT two-letter result codes. "00" is accepted; delivery confirmation
// arrives later as a DLR callback keyed by the message id.
const (
	ktCodeAccepted      = "00"
	ktCodeInvalidNumber = "40"
	ktCodeOptedOut      = "41"
	ktCodeSpamBlocked   = "48"
	ktCodeSystemBusy    = "30"
)

type ktSendRequest struct {
	Phone      string `json:"dstaddr"`
	TemplateID string `json:"template_cd"`
	RequestID  string `json:"client_msg_key"`
}

type ktSendResponse struct {
	ResultCode string `json:"rslt_cd"`
	ResultMsg  string `json:"rslt_msg,omitempty"`
	MessageID  string `json:"msg_id,omitempty"`
}

type ktStatusResponse struct {
	ResultCode string `json:"rslt_cd"`
	ResultMsg  string `json:"rslt_msg,omitempty"`
	Delivered  bool   `json:"dlvr_yn"`
}

// KTAdapter sends carrier MMS/RCS through the KT gateway.
type KTAdapter struct {
	client   *resty.Client
	endpoint string
}

func NewKTAdapter(endpoint, apiKey string) (*KTAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultKTTimeout)
	client.SetRetryCount(0)
	client.SetHeader("X-Api-Key", strings.TrimSpace(apiKey))

	return NewKTAdapterWithClient(endpoint, client)
}

func NewKTAdapterWithClient(endpoint string, client *resty.Client) (*KTAdapter, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("kt endpoint is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultKTTimeout)
	}
	client.SetRetryCount(0)

	return &KTAdapter{client: client, endpoint: trimmed}, nil
}

func (a *KTAdapter) Code() domain.ChannelCode   { return domain.ChannelKTMMS }
func (a *KTAdapter) RequiresConfirmation() bool { return true }
func (a *KTAdapter) RequiredFields() []string   { return []string{"phone"} }

func (a *KTAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("kt adapter is not initialized")
	}

	body := ktSendRequest{
		Phone:      req.Recipient.Phone,
		TemplateID: req.TemplateID,
		RequestID:  req.DetailID,
	}

	var parsed ktSendResponse
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(a.endpoint + "/mms/v2/send")
	if err != nil {
		return nil, &AdapterError{
			Message:   "kt request failed",
			Permanent: false,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &AdapterError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("kt returned status %d", statusCode),
			Permanent:  false,
		}
	}

	code := strings.TrimSpace(parsed.ResultCode)
	if code == ktCodeAccepted {
		ref := strings.TrimSpace(parsed.MessageID)
		if ref == "" {
			return nil, &AdapterError{
				StatusCode: statusCode,
				Message:    "kt response missing message id",
				Permanent:  false,
			}
		}
		return &SendResult{
			ExternalRef: ref,
			Outcome:     Outcome{OK: true},
		}, nil
	}

	return nil, &AdapterError{
		StatusCode: statusCode,
		Code:       "KT_" + code,
		Message:    ktErrorMessage(code, parsed.ResultMsg),
		Permanent:  isPermanentKTCode(code),
	}
}

func (a *KTAdapter) PollStatus(ctx context.Context, externalRef string) (*Outcome, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("kt adapter is not initialized")
	}
	if strings.TrimSpace(externalRef) == "" {
		return nil, errors.New("external ref is required")
	}

	var parsed ktStatusResponse
	response, err := a.client.R().
		SetContext(ctx).
		SetResult(&parsed).
		SetError(&parsed).
		Get(a.endpoint + "/mms/v2/report/" + externalRef)
	if err != nil {
		return nil, &AdapterError{
			Message:   "kt report request failed",
			Permanent: false,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &AdapterError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("kt returned status %d", statusCode),
			Permanent:  false,
		}
	}

	code := strings.TrimSpace(parsed.ResultCode)
	if parsed.Delivered && code == ktCodeAccepted {
		return &Outcome{OK: true}, nil
	}

	return &Outcome{
		OK:           false,
		ErrorCode:    "KT_" + code,
		ErrorMessage: ktErrorMessage(code, parsed.ResultMsg),
	}, nil
}

// isPermanentKTCode: invalid numbers, opt-outs, and spam blocks never
// succeed on retry. Congestion codes do.
func isPermanentKTCode(code string) bool {
	switch code {
	case ktCodeInvalidNumber, ktCodeOptedOut, ktCodeSpamBlocked:
		return true
	}
	return false
}

func ktErrorMessage(code, msg string) string {
	base := fmt.Sprintf("kt result code %s", code)
	if strings.TrimSpace(msg) == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, msg)
}
