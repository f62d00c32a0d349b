package queue

import (
	"fmt"
	"strings"
)

// CallbackMessage is the broker payload for provider delivery receipts.
// KT DLRs and Kakao document-box events are normalized into this shape
// before they reach the queue.
type CallbackMessage struct {
	ExternalRef  string `json:"externalRef"`
	Provider     string `json:"provider"`
	OK           bool   `json:"ok"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (m CallbackMessage) Validate() error {
	if strings.TrimSpace(m.ExternalRef) == "" {
		return fmt.Errorf("externalRef is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	return nil
}
