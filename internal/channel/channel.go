package channel

import (
	"context"
	"fmt"
	"sort"

	"github.com/kbridge/unity-send/internal/domain"
)

// SendRequest is the uniform payload handed to every adapter. Providers
// pick the contact fields they need; the orchestrator never sees
// provider-specific request shapes.
type SendRequest struct {
	DetailID   string
	SignguCode string
	TemplateID string
	Recipient  domain.Recipient
}

// Outcome is the provider result normalized at the adapter boundary.
// Vendor status codes (Kakao doc_box_status, KT two-letter result codes,
// Postplus field values) are mapped into this shape and never leak out.
type Outcome struct {
	OK           bool
	ErrorCode    string
	ErrorMessage string
}

// SendResult is the immediate result of a dispatch call.
type SendResult struct {
	ExternalRef string
	Outcome     Outcome
}

// Adapter is the uniform capability one delivery provider implements.
type Adapter interface {
	Code() domain.ChannelCode

	// RequiresConfirmation reports whether delivery is confirmed
	// asynchronously (poll or callback) rather than by the send response.
	RequiresConfirmation() bool

	// RequiredFields lists the recipient fields AcceptBatch must validate
	// before a batch may target this channel.
	RequiredFields() []string

	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	PollStatus(ctx context.Context, externalRef string) (*Outcome, error)
}

// Registry resolves a channel code to its adapter.
type Registry struct {
	adapters map[domain.ChannelCode]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.ChannelCode]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("nil adapter")
		}
		code := a.Code()
		if !code.IsValid() {
			return nil, fmt.Errorf("%w: adapter has invalid channel code %q", domain.ErrConfig, code)
		}
		if _, exists := r.adapters[code]; exists {
			return nil, fmt.Errorf("%w: duplicate adapter for channel %s", domain.ErrConfig, code)
		}
		r.adapters[code] = a
	}
	return r, nil
}

// Resolve returns the adapter for a channel code.
func (r *Registry) Resolve(code domain.ChannelCode) (Adapter, error) {
	a, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for channel %s", domain.ErrConfig, code)
	}
	return a, nil
}

// Codes lists the registered channel codes in stable order.
func (r *Registry) Codes() []domain.ChannelCode {
	codes := make([]domain.ChannelCode, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
