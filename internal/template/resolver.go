package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kbridge/unity-send/internal/domain"
	"github.com/kbridge/unity-send/internal/repository"
)

// Resolver turns a template id into a channel plan: the ordered fallback
// sequence with per-channel attempt budgets and retry delays. Plans are
// immutable, so resolved plans are cached; the cache only serves batch
// acceptance — in-flight batches read the snapshot on their master and are
// unaffected by template edits either way.
type Resolver struct {
	templates repository.TemplateRepository

	mu    sync.RWMutex
	cache map[string]domain.ChannelPlan
}

func NewResolver(templates repository.TemplateRepository) (*Resolver, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	return &Resolver{
		templates: templates,
		cache:     make(map[string]domain.ChannelPlan),
	}, nil
}

func (r *Resolver) Resolve(ctx context.Context, templateID string) (domain.ChannelPlan, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return domain.ChannelPlan{}, fmt.Errorf("%w: template id is required", domain.ErrConfig)
	}

	r.mu.RLock()
	cached, ok := r.cache[templateID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	record, err := r.templates.GetByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ChannelPlan{}, fmt.Errorf("%w: template %s not found", domain.ErrConfig, templateID)
		}
		return domain.ChannelPlan{}, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}

	plan, err := buildPlan(record)
	if err != nil {
		return domain.ChannelPlan{}, err
	}

	r.mu.Lock()
	r.cache[templateID] = plan
	r.mu.Unlock()

	return plan, nil
}

// Invalidate drops a cached plan so the next Resolve re-reads the template.
func (r *Resolver) Invalidate(templateID string) {
	r.mu.Lock()
	delete(r.cache, strings.TrimSpace(templateID))
	r.mu.Unlock()
}

func buildPlan(record *repository.TemplateRecord) (domain.ChannelPlan, error) {
	if record == nil {
		return domain.ChannelPlan{}, fmt.Errorf("%w: template record is nil", domain.ErrConfig)
	}
	if !strings.EqualFold(strings.TrimSpace(record.UseAt), "Y") {
		return domain.ChannelPlan{}, fmt.Errorf("%w: template %s is inactive", domain.ErrConfig, record.TemplateID)
	}
	if len(record.Steps) == 0 {
		return domain.ChannelPlan{}, fmt.Errorf("%w: template %s has no channel steps", domain.ErrConfig, record.TemplateID)
	}

	steps := make([]domain.ChannelStep, 0, len(record.Steps))
	for _, step := range record.Steps {
		code, err := domain.ParseChannelCodeFromString(step.ChannelCode)
		if err != nil {
			return domain.ChannelPlan{}, fmt.Errorf("%w: template %s references undefined channel %q", domain.ErrConfig, record.TemplateID, step.ChannelCode)
		}

		maxAttempts := step.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}

		steps = append(steps, domain.ChannelStep{
			Channel:           code,
			MaxAttempts:       maxAttempts,
			RetryDelayMinutes: step.RetryDelayMinutes,
		})
	}

	plan := domain.ChannelPlan{
		TemplateID: record.TemplateID,
		Steps:      steps,
	}
	if err := plan.Validate(); err != nil {
		return domain.ChannelPlan{}, err
	}

	return plan, nil
}
