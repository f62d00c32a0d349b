package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChannelCode identifies one delivery provider.
type ChannelCode string

const (
	ChannelKakao    ChannelCode = "KAKAO"
	ChannelKTMMS    ChannelCode = "KT_MMS"
	ChannelEPost    ChannelCode = "EPOST"
	ChannelPostPlus ChannelCode = "POSTPLUS"
	ChannelSMS      ChannelCode = "SMS"
)

func (c ChannelCode) String() string { return string(c) }

func (c ChannelCode) IsValid() bool {
	switch c {
	case ChannelKakao, ChannelKTMMS, ChannelEPost, ChannelPostPlus, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelCodeFromString(s string) (ChannelCode, error) {
	c := ChannelCode(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid channel code %q", ErrConfig, s)
	}
	return c, nil
}

// ChannelStep is one entry in a fallback plan: a channel, its attempt budget,
// and the delay before each retry on that channel. RetryDelayMinutes[i] is
// the wait before attempt i+1; a missing entry falls back to the last one.
type ChannelStep struct {
	Channel           ChannelCode `json:"channel"`
	MaxAttempts       int         `json:"maxAttempts"`
	RetryDelayMinutes []int       `json:"retryDelayMinutes,omitempty"`
}

// DelayMinutes returns the retry delay before the attempt following
// attemptCount failures on this channel.
func (s ChannelStep) DelayMinutes(attemptCount int) int {
	if len(s.RetryDelayMinutes) == 0 {
		return 0
	}
	if attemptCount < 0 {
		attemptCount = 0
	}
	if attemptCount >= len(s.RetryDelayMinutes) {
		return s.RetryDelayMinutes[len(s.RetryDelayMinutes)-1]
	}
	return s.RetryDelayMinutes[attemptCount]
}

func (s ChannelStep) Validate() error {
	if !s.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel code %q", ErrConfig, s.Channel)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("%w: channel %s max attempts must be at least 1", ErrConfig, s.Channel)
	}
	for _, d := range s.RetryDelayMinutes {
		if d < 0 {
			return fmt.Errorf("%w: channel %s has negative retry delay", ErrConfig, s.Channel)
		}
	}
	return nil
}

// ChannelPlan is the ordered fallback sequence resolved from a template.
// It is immutable for the lifetime of a send master: the plan is captured
// onto the master at batch acceptance and never re-resolved mid-batch.
type ChannelPlan struct {
	TemplateID string        `json:"templateId"`
	Steps      []ChannelStep `json:"steps"`
}

func (p ChannelPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no channel steps", ErrConfig)
	}
	for _, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StepAt returns the plan step at index, false when index is out of range.
func (p ChannelPlan) StepAt(index int) (ChannelStep, bool) {
	if index < 0 || index >= len(p.Steps) {
		return ChannelStep{}, false
	}
	return p.Steps[index], true
}

// HasNextStep reports whether a fallback channel exists after index.
func (p ChannelPlan) HasNextStep(index int) bool {
	return index+1 < len(p.Steps)
}

// TotalAttempts is the attempt budget summed over every step.
func (p ChannelPlan) TotalAttempts() int {
	total := 0
	for _, step := range p.Steps {
		total += step.MaxAttempts
	}
	return total
}

// MarshalPlan serializes a plan for the master's snapshot column.
func MarshalPlan(p ChannelPlan) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal channel plan: %w", err)
	}
	return string(raw), nil
}

// UnmarshalPlan restores a plan snapshot taken at batch acceptance.
func UnmarshalPlan(raw string) (ChannelPlan, error) {
	var p ChannelPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ChannelPlan{}, fmt.Errorf("failed to unmarshal channel plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return ChannelPlan{}, err
	}
	return p, nil
}
