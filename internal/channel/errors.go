package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kbridge/unity-send/internal/domain"
)

// AdapterError classifies provider call failures. Permanent means the
// provider reports the recipient can never receive via this channel (opted
// out, invalid address) so the remaining attempt budget is skipped.
type AdapterError struct {
	StatusCode int
	Code       string
	Message    string
	Permanent  bool
	Cause      error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "adapter error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsPermanent reports whether an error should skip the channel's remaining
// attempt budget. Timeouts and network failures are always retryable.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}

	return false
}

// ErrorCode extracts the normalized error code, TIMEOUT for deadline
// expiry, or a generic code when the failure carries none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorCodeTimeout
	}

	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) && strings.TrimSpace(adapterErr.Code) != "" {
		return adapterErr.Code
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrorCodeTimeout
	}

	return "SEND_ERROR"
}
