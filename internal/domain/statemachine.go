package domain

import (
	"fmt"
	"time"
)

// Decision is the outcome of one state machine transition: the full set of
// detail fields to persist. Applied=false means the event did not match the
// current state and the transition is a no-op (idempotent replay).
type Decision struct {
	Applied bool

	Status           DetailStatus
	ChannelPlanIndex int
	AttemptCount     int
	NextWakeAt       *time.Time
	ExternalRef      *string
	ErrorCode        *string
	ErrorMessage     *string
}

// Closed reports whether the decision lands the detail in a terminal state.
func (d Decision) Closed() bool {
	return d.Applied && d.Status.IsTerminal()
}

func noop() Decision {
	return Decision{Applied: false}
}

// Transition advances one detail given an event and the plan snapshot of its
// master. Pure: it never touches storage and is safe to replay — an event
// that does not match the current state returns a no-op decision, and events
// targeting a closed detail return ErrClosed so callers can log and drop
// them (duplicate webhooks are common).
func Transition(detail SendDetail, event DeliveryEvent, plan ChannelPlan, now time.Time) (Decision, error) {
	if detail.Status.IsTerminal() {
		return noop(), fmt.Errorf("%w: detail %s is %s", ErrClosed, detail.UnityDetailID, detail.Status)
	}

	step, ok := plan.StepAt(detail.ChannelPlanIndex)
	if !ok {
		return noop(), fmt.Errorf("%w: detail %s plan index %d out of range", ErrConfig, detail.UnityDetailID, detail.ChannelPlanIndex)
	}

	switch event.Kind {
	case EventOperatorAbort:
		return abortDecision(detail), nil

	case EventDispatchResult:
		if detail.Status != StatusSending && !detail.Status.IsDispatchable() {
			return noop(), nil
		}
		if event.OK {
			return dispatchSuccess(detail, event), nil
		}
		return failure(detail, step, plan, event, now), nil

	case EventPollResult, EventCallbackReceived:
		if detail.Status != StatusAwaitingConfirm {
			return noop(), nil
		}
		if event.OK {
			return closedSuccess(detail), nil
		}
		return failure(detail, step, plan, event, now), nil

	case EventTimerFired:
		if detail.Status != StatusFailRetryable {
			return noop(), nil
		}
		d := carry(detail)
		d.Status = StatusPendingDispatch
		d.AttemptCount = detail.AttemptCount + 1
		d.NextWakeAt = nil
		return d, nil
	}

	return noop(), nil
}

// carry starts a decision from the detail's current mutable fields.
func carry(detail SendDetail) Decision {
	return Decision{
		Applied:          true,
		Status:           detail.Status,
		ChannelPlanIndex: detail.ChannelPlanIndex,
		AttemptCount:     detail.AttemptCount,
		NextWakeAt:       detail.NextWakeAt,
		ExternalRef:      detail.ExternalRef,
		ErrorCode:        detail.LastErrorCode,
		ErrorMessage:     detail.LastErrorMessage,
	}
}

func dispatchSuccess(detail SendDetail, event DeliveryEvent) Decision {
	d := carry(detail)
	d.NextWakeAt = nil
	if ref := event.ExternalRef; ref != "" {
		d.ExternalRef = &ref
	}
	if event.NeedsConfirmation {
		d.Status = StatusAwaitingConfirm
		return d
	}
	return markSuccess(d)
}

func closedSuccess(detail SendDetail) Decision {
	return markSuccess(carry(detail))
}

func markSuccess(d Decision) Decision {
	d.Status = StatusClosedSuccess
	d.NextWakeAt = nil
	d.ErrorCode = nil
	d.ErrorMessage = nil
	return d
}

func abortDecision(detail SendDetail) Decision {
	d := carry(detail)
	d.Status = StatusClosedFailed
	d.NextWakeAt = nil
	code := ErrorCodeOperatorAbort
	msg := "aborted by operator"
	d.ErrorCode = &code
	d.ErrorMessage = &msg
	return d
}

// failure handles a not-ok dispatch, poll, or callback outcome: schedule a
// retry on the same channel while budget remains, otherwise exhaust the
// channel and either advance to the next plan step or close the detail.
// A permanent provider error skips the remaining budget immediately.
func failure(detail SendDetail, step ChannelStep, plan ChannelPlan, event DeliveryEvent, now time.Time) Decision {
	d := carry(detail)
	d.ErrorCode = optional(event.ErrorCode)
	d.ErrorMessage = optional(event.ErrorMessage)

	attemptsUsed := detail.AttemptCount + 1
	if !event.Permanent && attemptsUsed < step.MaxAttempts {
		wake := now.Add(time.Duration(step.DelayMinutes(detail.AttemptCount)) * time.Minute)
		d.Status = StatusFailRetryable
		d.NextWakeAt = &wake
		return d
	}

	// Channel exhausted with a fallback remaining: the row records the
	// exhaustion and is queued on the next plan step, where the dispatch
	// scan picks it up.
	if plan.HasNextStep(detail.ChannelPlanIndex) {
		d.Status = StatusChannelExhausted
		d.ChannelPlanIndex = detail.ChannelPlanIndex + 1
		d.AttemptCount = 0
		d.NextWakeAt = nil
		return d
	}

	d.Status = StatusClosedFailed
	d.NextWakeAt = nil
	if d.ErrorCode == nil {
		code := ErrorCodeExhausted
		d.ErrorCode = &code
	}
	return d
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
