package domain

import (
	"fmt"
	"strings"
	"time"
)

// DetailStatus is the lifecycle state of a single recipient delivery.
type DetailStatus string

const (
	StatusPendingDispatch  DetailStatus = "PENDING_DISPATCH"
	StatusSending          DetailStatus = "SENDING"
	StatusAwaitingConfirm  DetailStatus = "AWAITING_CONFIRMATION"
	StatusFailRetryable    DetailStatus = "SEND_FAIL_RETRYABLE"
	StatusChannelExhausted DetailStatus = "SEND_FAIL_CHANNEL_EXHAUSTED"
	StatusClosedSuccess    DetailStatus = "CLOSED_SUCCESS"
	StatusClosedFailed     DetailStatus = "CLOSED_FAILED"
)

func (s DetailStatus) String() string { return string(s) }

func (s DetailStatus) IsValid() bool {
	switch s {
	case StatusPendingDispatch, StatusSending, StatusAwaitingConfirm,
		StatusFailRetryable, StatusChannelExhausted,
		StatusClosedSuccess, StatusClosedFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further event may mutate the detail.
func (s DetailStatus) IsTerminal() bool {
	return s == StatusClosedSuccess || s == StatusClosedFailed
}

// IsDispatchable reports whether the dispatch scan may claim the detail.
// SEND_FAIL_CHANNEL_EXHAUSTED rows are already advanced onto their next
// plan step and wait for dispatch exactly like PENDING_DISPATCH.
func (s DetailStatus) IsDispatchable() bool {
	return s == StatusPendingDispatch || s == StatusChannelExhausted
}

func ParseDetailStatusFromString(s string) (DetailStatus, error) {
	st := DetailStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid detail status %q", ErrValidation, s)
	}
	return st, nil
}

// AggregateStatus is the derived batch-level status of a send master.
type AggregateStatus string

const (
	AggregateProcessing AggregateStatus = "PROCESSING"
	AggregateClosed     AggregateStatus = "CLOSED"
)

func (s AggregateStatus) String() string { return string(s) }

// Error codes the orchestrator stamps onto detail rows. Vendor-specific
// codes never appear here; adapters map them before the state machine sees
// an outcome.
const (
	ErrorCodeTimeout       = "TIMEOUT"
	ErrorCodeOperatorAbort = "OPERATOR_ABORT"
	ErrorCodeExhausted     = "CHANNEL_EXHAUSTED"
)

// Recipient carries identity and contact fields for one citizen. Which
// fields are required depends on the first channel of the resolved plan.
type Recipient struct {
	Name    string
	CI      string
	Phone   string
	ZipCode string
	Address string
}

// Field returns a recipient contact field by its canonical name.
func (r Recipient) Field(name string) string {
	switch name {
	case "name":
		return r.Name
	case "ci":
		return r.CI
	case "phone":
		return r.Phone
	case "zipCode":
		return r.ZipCode
	case "address":
		return r.Address
	}
	return ""
}

// SendMaster is the batch-level record, one per accepted recipient upload.
// AggregateStatus is derived from owned details and never set directly.
type SendMaster struct {
	UnitySendMasterID string
	SignguCode        string
	TemplateID        string
	TotalCount        int
	AggregateStatus   AggregateStatus
	PlanJSON          string
	CreatedAt         time.Time
	ClosedAt          *time.Time
}

// Plan restores the channel plan snapshot captured at batch acceptance.
func (m *SendMaster) Plan() (ChannelPlan, error) {
	return UnmarshalPlan(m.PlanJSON)
}

// SendDetail is the per-recipient record, owned by exactly one master.
//
// Invariants the state machine maintains:
//   - AttemptCount resets to 0 whenever ChannelPlanIndex advances;
//   - NextWakeAt is non-nil iff Status == SEND_FAIL_RETRYABLE;
//   - once terminal, no field changes again.
type SendDetail struct {
	UnityDetailID     string
	UnitySendMasterID string
	Recipient         Recipient
	ChannelPlanIndex  int
	AttemptCount      int
	Status            DetailStatus
	LastErrorCode     *string
	LastErrorMessage  *string
	NextWakeAt        *time.Time
	ExternalRef       *string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DispatchAttempt records a single adapter call for audit.
type DispatchAttempt struct {
	ID             string
	UnityDetailID  string
	Channel        ChannelCode
	AttemptNumber  int
	ExternalRef    *string
	OutcomeCode    *string
	OutcomeMessage *string
	CreatedAt      time.Time
}

// MasterMeta is the caller-supplied part of a new send master.
type MasterMeta struct {
	SignguCode string
	TemplateID string
}

func (m MasterMeta) Validate() error {
	if strings.TrimSpace(m.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if strings.TrimSpace(m.SignguCode) == "" {
		return fmt.Errorf("%w: signgu code is required", ErrValidation)
	}
	return nil
}
