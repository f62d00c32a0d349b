package domain

// EventKind discriminates the delivery event variants.
type EventKind string

const (
	EventDispatchResult   EventKind = "DISPATCH_RESULT"
	EventPollResult       EventKind = "POLL_RESULT"
	EventCallbackReceived EventKind = "CALLBACK_RECEIVED"
	EventTimerFired       EventKind = "TIMER_FIRED"
	EventOperatorAbort    EventKind = "OPERATOR_ABORT"
)

// DeliveryEvent drives the state machine. Events are transient: they are
// consumed synchronously and only the resulting transition is persisted.
type DeliveryEvent struct {
	Kind EventKind

	// ExternalRef is set on dispatch results and callbacks.
	ExternalRef string

	// OK is the provider outcome for dispatch, poll, and callback events.
	OK bool

	// Permanent marks a dispatch failure the provider reports as
	// unrecoverable for this recipient on this channel. Skips the remaining
	// attempt budget and advances straight to channel exhaustion.
	Permanent bool

	// NeedsConfirmation is set on successful dispatch results for channels
	// whose delivery is confirmed asynchronously.
	NeedsConfirmation bool

	ErrorCode    string
	ErrorMessage string
}

// NewDispatchResult builds the event fed after an adapter send call.
func NewDispatchResult(externalRef string, ok bool, needsConfirmation bool, permanent bool, errorCode, errorMessage string) DeliveryEvent {
	return DeliveryEvent{
		Kind:              EventDispatchResult,
		ExternalRef:       externalRef,
		OK:                ok,
		NeedsConfirmation: needsConfirmation,
		Permanent:         permanent,
		ErrorCode:         errorCode,
		ErrorMessage:      errorMessage,
	}
}

// NewPollResult builds the event fed after an adapter status poll.
func NewPollResult(ok bool, errorCode, errorMessage string) DeliveryEvent {
	return DeliveryEvent{
		Kind:         EventPollResult,
		OK:           ok,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
}

// NewCallbackReceived builds the event fed when a provider webhook or DLR
// arrives for an external ref.
func NewCallbackReceived(externalRef string, ok bool, errorCode, errorMessage string) DeliveryEvent {
	return DeliveryEvent{
		Kind:         EventCallbackReceived,
		ExternalRef:  externalRef,
		OK:           ok,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
}

// NewTimerFired builds the event the retry sweeper fires for a due wake.
func NewTimerFired() DeliveryEvent {
	return DeliveryEvent{Kind: EventTimerFired}
}

// NewOperatorAbort builds the manual-abort event.
func NewOperatorAbort() DeliveryEvent {
	return DeliveryEvent{Kind: EventOperatorAbort}
}
