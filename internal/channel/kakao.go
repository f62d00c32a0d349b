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

const defaultKakaoTimeout = 10 * time.Second

// Kakao doc_box_status values. SENT/RECEIVED/READ count as delivered;
// EXPIRED means the recipient never opened the document in time.
const (
	kakaoDocStatusSent     = "SENT"
	kakaoDocStatusReceived = "RECEIVED"
	kakaoDocStatusRead     = "READ"
	kakaoDocStatusExpired  = "EXPIRED"
)

type kakaoSendRequest struct {
	CI         string `json:"ci"`
	Phone      string `json:"phone"`
	TemplateID string `json:"template_id"`
	ExternalID string `json:"external_id"`
}

type kakaoSendResponse struct {
	DocumentKey string `json:"document_key"`
	ErrorCode   string `json:"error_code,omitempty"`
	Message     string `json:"message,omitempty"`
}

type kakaoStatusResponse struct {
	DocBoxStatus string `json:"doc_box_status"`
	ErrorCode    string `json:"error_code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// KakaoAdapter delivers certified KakaoTalk documents. Delivery is
// confirmed asynchronously through the document box status.
type KakaoAdapter struct {
	client   *resty.Client
	endpoint string
}

func NewKakaoAdapter(endpoint, apiKey string) (*KakaoAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultKakaoTimeout)
	client.SetRetryCount(0)
	client.SetHeader("Authorization", "Bearer "+strings.TrimSpace(apiKey))

	return NewKakaoAdapterWithClient(endpoint, client)
}

func NewKakaoAdapterWithClient(endpoint string, client *resty.Client) (*KakaoAdapter, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("kakao endpoint is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultKakaoTimeout)
	}
	client.SetRetryCount(0)

	return &KakaoAdapter{client: client, endpoint: trimmed}, nil
}

func (a *KakaoAdapter) Code() domain.ChannelCode   { return domain.ChannelKakao }
func (a *KakaoAdapter) RequiresConfirmation() bool { return true }
func (a *KakaoAdapter) RequiredFields() []string   { return []string{"ci", "phone"} }

func (a *KakaoAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("kakao adapter is not initialized")
	}

	body := kakaoSendRequest{
		CI:         req.Recipient.CI,
		Phone:      req.Recipient.Phone,
		TemplateID: req.TemplateID,
		ExternalID: req.DetailID,
	}

	var parsed kakaoSendResponse
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(a.endpoint + "/v1/documents")
	if err != nil {
		return nil, &AdapterError{
			Message:   "kakao request failed",
			Permanent: false,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		ref := strings.TrimSpace(parsed.DocumentKey)
		if ref == "" {
			return nil, &AdapterError{
				StatusCode: statusCode,
				Message:    "kakao response missing document key",
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
		Code:       normalizeKakaoCode(parsed.ErrorCode),
		Message:    kakaoErrorMessage(statusCode, parsed.Message),
		Permanent:  isPermanentKakaoError(statusCode, parsed.ErrorCode),
	}
}

func (a *KakaoAdapter) PollStatus(ctx context.Context, externalRef string) (*Outcome, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("kakao adapter is not initialized")
	}
	if strings.TrimSpace(externalRef) == "" {
		return nil, errors.New("external ref is required")
	}

	var parsed kakaoStatusResponse
	response, err := a.client.R().
		SetContext(ctx).
		SetResult(&parsed).
		SetError(&parsed).
		Get(a.endpoint + "/v1/documents/" + externalRef + "/status")
	if err != nil {
		return nil, &AdapterError{
			Message:   "kakao status request failed",
			Permanent: false,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &AdapterError{
			StatusCode: statusCode,
			Code:       normalizeKakaoCode(parsed.ErrorCode),
			Message:    kakaoErrorMessage(statusCode, parsed.Message),
			Permanent:  false,
		}
	}

	switch strings.ToUpper(strings.TrimSpace(parsed.DocBoxStatus)) {
	case kakaoDocStatusSent, kakaoDocStatusReceived, kakaoDocStatusRead:
		return &Outcome{OK: true}, nil
	case kakaoDocStatusExpired:
		return &Outcome{
			OK:           false,
			ErrorCode:    "KAKAO_EXPIRED",
			ErrorMessage: "certified document expired before the recipient read it",
		}, nil
	default:
		return nil, &AdapterError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unknown doc_box_status %q", parsed.DocBoxStatus),
			Permanent:  false,
		}
	}
}

// isPermanentKakaoError: 4xx responses other than rate limiting mean the
// recipient has no certified document box or opted out.
func isPermanentKakaoError(statusCode int, errorCode string) bool {
	if statusCode == http.StatusTooManyRequests {
		return false
	}
	if statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError {
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(errorCode)) {
	case "NO_DOC_BOX", "OPTED_OUT", "CI_MISMATCH":
		return true
	}
	return false
}

func normalizeKakaoCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if strings.HasPrefix(code, "KAKAO_") {
		return code
	}
	return "KAKAO_" + code
}

func kakaoErrorMessage(statusCode int, message string) string {
	base := fmt.Sprintf("kakao returned status %d", statusCode)
	if strings.TrimSpace(message) == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, message)
}
