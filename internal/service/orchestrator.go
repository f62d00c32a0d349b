package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kbridge/unity-send/internal/channel"
	"github.com/kbridge/unity-send/internal/domain"
	"github.com/kbridge/unity-send/internal/observability"
	"github.com/kbridge/unity-send/internal/ratelimit"
	"github.com/kbridge/unity-send/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minDispatchConcurrency = 1
	defaultDispatchLimit   = 100
)

// PlanResolver resolves a template id into a channel plan at batch
// acceptance time.
type PlanResolver interface {
	Resolve(ctx context.Context, templateID string) (domain.ChannelPlan, error)
}

// AdapterRegistry resolves a channel code to its provider adapter.
type AdapterRegistry interface {
	Resolve(code domain.ChannelCode) (channel.Adapter, error)
}

// Orchestrator owns the send lifecycle of a unit send: batch acceptance,
// bounded-concurrency dispatch, callback/poll reconciliation, retry wakes,
// and the master's aggregate status.
type Orchestrator struct {
	store       repository.SendRepository
	attempts    repository.AttemptRepository
	resolver    PlanResolver
	adapters    AdapterRegistry
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewOrchestrator(
	store repository.SendRepository,
	attempts repository.AttemptRepository,
	resolver PlanResolver,
	adapters AdapterRegistry,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("send repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("plan resolver is required")
	}
	if adapters == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if concurrency < minDispatchConcurrency {
		concurrency = minDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		store:       store,
		attempts:    attempts,
		resolver:    resolver,
		adapters:    adapters,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// AcceptBatch validates and persists a new unit send: one master plus one
// detail per recipient, all PENDING_DISPATCH, with the resolved plan
// snapshotted onto the master. Dispatch happens asynchronously; only
// validation and configuration errors are surfaced here.
func (o *Orchestrator) AcceptBatch(ctx context.Context, meta domain.MasterMeta, recipients []domain.Recipient) (*domain.SendMaster, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one recipient", domain.ErrValidation)
	}

	plan, err := o.resolver.Resolve(ctx, meta.TemplateID)
	if err != nil {
		return nil, err
	}

	// Every channel in the plan must have an adapter before the batch is
	// accepted; finding out mid-flight would strand details.
	for _, step := range plan.Steps {
		if _, err := o.adapters.Resolve(step.Channel); err != nil {
			return nil, err
		}
	}

	firstAdapter, err := o.adapters.Resolve(plan.Steps[0].Channel)
	if err != nil {
		return nil, err
	}
	required := firstAdapter.RequiredFields()
	for i, recipient := range recipients {
		for _, field := range required {
			if strings.TrimSpace(recipient.Field(field)) == "" {
				return nil, fmt.Errorf("%w: recipient %d is missing %s required by channel %s",
					domain.ErrValidation, i, field, plan.Steps[0].Channel)
			}
		}
	}

	planJSON, err := domain.MarshalPlan(plan)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	master := &domain.SendMaster{
		UnitySendMasterID: uuid.NewString(),
		SignguCode:        strings.TrimSpace(meta.SignguCode),
		TemplateID:        strings.TrimSpace(meta.TemplateID),
		TotalCount:        len(recipients),
		AggregateStatus:   domain.AggregateProcessing,
		PlanJSON:          planJSON,
		CreatedAt:         now,
	}

	details := make([]*domain.SendDetail, 0, len(recipients))
	for _, recipient := range recipients {
		details = append(details, &domain.SendDetail{
			UnityDetailID:     uuid.NewString(),
			UnitySendMasterID: master.UnitySendMasterID,
			Recipient:         recipient,
			ChannelPlanIndex:  0,
			AttemptCount:      0,
			Status:            domain.StatusPendingDispatch,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	if err := o.store.CreateMasterWithDetails(ctx, master, details); err != nil {
		return nil, fmt.Errorf("failed to persist unit send: %w", err)
	}

	o.logger.Info("batch accepted",
		zap.String("masterId", master.UnitySendMasterID),
		zap.String("templateId", master.TemplateID),
		zap.Int("recipients", master.TotalCount),
	)

	return master, nil
}

// DispatchPending claims up to limit dispatchable details (oldest first
// across all masters) and sends each through its active channel adapter on
// a bounded worker pool. One detail's failure never aborts the others.
// Returns the number of details processed.
func (o *Orchestrator) DispatchPending(ctx context.Context, limit int) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultDispatchLimit
	}

	details, err := o.store.ListPendingDispatch(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending details: %w", err)
	}
	if len(details) == 0 {
		return 0, nil
	}

	plans := o.plansForDetails(ctx, details)

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i := range details {
		detail := details[i]
		pc, ok := plans[detail.UnitySendMasterID]
		if !ok {
			continue
		}

		g.Go(func() error {
			if err := o.dispatchOne(groupCtx, detail, pc); err != nil {
				// Per-detail errors are recorded on the row; only log here.
				o.logger.Error("dispatch failed",
					zap.String("detailId", detail.UnityDetailID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	return len(details), nil
}

// planContext pairs a master with its restored plan snapshot so dispatch
// workers do not reload either per detail.
type planContext struct {
	master *domain.SendMaster
	plan   domain.ChannelPlan
}

// plansForDetails loads the master and plan for every distinct master in the
// batch. A master that cannot be loaded or whose plan cannot be restored is
// logged and left out of the map; its details are skipped this pass and
// picked up again on the next scan rather than aborting the whole batch.
func (o *Orchestrator) plansForDetails(ctx context.Context, details []domain.SendDetail) map[string]planContext {
	plans := make(map[string]planContext)
	failed := make(map[string]struct{})
	for i := range details {
		masterID := details[i].UnitySendMasterID
		if _, ok := plans[masterID]; ok {
			continue
		}
		if _, ok := failed[masterID]; ok {
			continue
		}

		master, err := o.store.GetMaster(ctx, masterID)
		if err != nil {
			failed[masterID] = struct{}{}
			o.logger.Error("failed to load master, skipping its details",
				zap.String("masterId", masterID),
				zap.Error(err),
			)
			continue
		}
		plan, err := master.Plan()
		if err != nil {
			failed[masterID] = struct{}{}
			o.logger.Error("failed to restore plan, skipping its details",
				zap.String("masterId", masterID),
				zap.Error(err),
			)
			continue
		}
		plans[masterID] = planContext{master: master, plan: plan}
	}
	return plans
}

func (o *Orchestrator) dispatchOne(ctx context.Context, detail domain.SendDetail, pc planContext) error {
	plan := pc.plan
	// Claim the row before the network call so the sweeper and sibling
	// workers skip it. Losing the claim is not an error.
	if !detail.Status.IsDispatchable() {
		return nil
	}
	claim := claimDecision(detail)
	claimed, err := o.store.UpdateDetailIfStatus(ctx, detail.UnityDetailID, detail.Status, detail.Version, claim)
	if err != nil {
		return fmt.Errorf("failed to claim detail: %w", err)
	}
	if !claimed {
		return nil
	}
	detail.Status = domain.StatusSending
	detail.Version++

	step, ok := plan.StepAt(detail.ChannelPlanIndex)
	if !ok {
		return fmt.Errorf("%w: detail %s plan index %d out of range", domain.ErrConfig, detail.UnityDetailID, detail.ChannelPlanIndex)
	}

	adapter, err := o.adapters.Resolve(step.Channel)
	if err != nil {
		// No adapter for the active channel: exhaust it so the plan can
		// fall back instead of retrying forever.
		event := domain.NewDispatchResult("", false, false, true, "NO_ADAPTER", err.Error())
		return o.persistTransition(ctx, detail, event, plan)
	}

	channelName := strings.ToLower(step.Channel.String())
	if o.metrics != nil {
		o.metrics.IncDispatchInFlight(channelName)
		defer o.metrics.DecDispatchInFlight(channelName)
	}

	if o.rateLimiter != nil {
		if err := o.rateLimiter.Wait(ctx, channelName); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	req := channel.SendRequest{
		DetailID:   detail.UnityDetailID,
		SignguCode: pc.master.SignguCode,
		TemplateID: plan.TemplateID,
		Recipient:  detail.Recipient,
	}

	sendStart := o.now()
	result, sendErr := adapter.Send(ctx, req)
	if o.metrics != nil {
		o.metrics.ObserveAdapterCallDuration(channelName, o.now().Sub(sendStart))
	}

	event := dispatchEvent(adapter, result, sendErr)

	if err := o.recordAttempt(ctx, detail, step.Channel, event); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	return o.persistTransition(ctx, detail, event, plan)
}

// dispatchEvent normalizes an adapter call into the state machine's
// dispatch-result event. A timeout becomes a retryable failure, never a
// crash.
func dispatchEvent(adapter channel.Adapter, result *channel.SendResult, sendErr error) domain.DeliveryEvent {
	if sendErr != nil {
		return domain.NewDispatchResult(
			"",
			false,
			false,
			channel.IsPermanent(sendErr),
			channel.ErrorCode(sendErr),
			sendErr.Error(),
		)
	}

	if result == nil || !result.Outcome.OK {
		code := "SEND_ERROR"
		msg := "adapter returned empty result"
		if result != nil {
			if result.Outcome.ErrorCode != "" {
				code = result.Outcome.ErrorCode
			}
			if result.Outcome.ErrorMessage != "" {
				msg = result.Outcome.ErrorMessage
			}
		}
		return domain.NewDispatchResult("", false, false, false, code, msg)
	}

	return domain.NewDispatchResult(result.ExternalRef, true, adapter.RequiresConfirmation(), false, "", "")
}

// RunCallback is the entry point for provider webhooks and DLRs. A callback
// for an already-closed detail is a benign duplicate and returns nil; a ref
// nobody owns returns ErrNotFound.
func (o *Orchestrator) RunCallback(ctx context.Context, externalRef string, ok bool, errorCode, errorMessage string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return fmt.Errorf("%w: external ref is required", domain.ErrValidation)
	}

	detail, err := o.store.FindDetailByExternalRef(ctx, externalRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn("callback for unknown external ref",
				zap.String("externalRef", externalRef),
			)
			return fmt.Errorf("%w: no detail owns external ref %s", domain.ErrNotFound, externalRef)
		}
		return fmt.Errorf("failed to find detail by external ref: %w", err)
	}

	if detail.Status.IsTerminal() {
		o.logger.Info("duplicate callback for closed detail dropped",
			zap.String("detailId", detail.UnityDetailID),
			zap.String("externalRef", externalRef),
		)
		return nil
	}

	plan, err := o.planFor(ctx, detail.UnitySendMasterID)
	if err != nil {
		return err
	}

	event := domain.NewCallbackReceived(externalRef, ok, errorCode, errorMessage)
	return o.persistTransition(ctx, *detail, event, plan)
}

// PollConfirmations sweeps details awaiting asynchronous confirmation and
// reconciles each through its adapter's status poll. Returns the number of
// details polled.
func (o *Orchestrator) PollConfirmations(ctx context.Context, limit int) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultDispatchLimit
	}

	details, err := o.store.ListAwaitingConfirmation(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list awaiting details: %w", err)
	}
	if len(details) == 0 {
		return 0, nil
	}

	plans := o.plansForDetails(ctx, details)

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i := range details {
		detail := details[i]
		pc, ok := plans[detail.UnitySendMasterID]
		if !ok {
			continue
		}

		g.Go(func() error {
			if err := o.pollOne(groupCtx, detail, pc.plan); err != nil {
				o.logger.Error("confirmation poll failed",
					zap.String("detailId", detail.UnityDetailID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	return len(details), nil
}

func (o *Orchestrator) pollOne(ctx context.Context, detail domain.SendDetail, plan domain.ChannelPlan) error {
	if detail.ExternalRef == nil || *detail.ExternalRef == "" {
		return fmt.Errorf("detail %s awaits confirmation without an external ref", detail.UnityDetailID)
	}

	step, ok := plan.StepAt(detail.ChannelPlanIndex)
	if !ok {
		return fmt.Errorf("%w: detail %s plan index %d out of range", domain.ErrConfig, detail.UnityDetailID, detail.ChannelPlanIndex)
	}

	adapter, err := o.adapters.Resolve(step.Channel)
	if err != nil {
		return err
	}

	outcome, err := adapter.PollStatus(ctx, *detail.ExternalRef)
	if err != nil {
		// Poll failures are transient by definition; the next sweep retries.
		return fmt.Errorf("status poll failed: %w", err)
	}
	if outcome == nil {
		return fmt.Errorf("adapter returned empty outcome")
	}

	event := domain.NewPollResult(outcome.OK, outcome.ErrorCode, outcome.ErrorMessage)
	return o.persistTransition(ctx, detail, event, plan)
}

// FireTimer re-feeds a due retryable detail into the state machine. Returns
// false when the claim was lost to a concurrent worker, which is not an
// error.
func (o *Orchestrator) FireTimer(ctx context.Context, detail domain.SendDetail) (bool, error) {
	if detail.Status != domain.StatusFailRetryable {
		return false, nil
	}

	plan, err := o.planFor(ctx, detail.UnitySendMasterID)
	if err != nil {
		return false, err
	}

	dec, err := domain.Transition(detail, domain.NewTimerFired(), plan, o.now().UTC())
	if err != nil || !dec.Applied {
		return false, err
	}

	applied, err := o.store.UpdateDetailIfStatus(ctx, detail.UnityDetailID, detail.Status, detail.Version, dec)
	if err != nil {
		return false, fmt.Errorf("failed to persist timer transition: %w", err)
	}
	if applied && o.metrics != nil {
		if step, ok := plan.StepAt(detail.ChannelPlanIndex); ok {
			o.metrics.IncRetryWoken(strings.ToLower(step.Channel.String()))
		}
	}
	return applied, nil
}

// Abort closes one detail with the operator-abort code, distinguishable
// from channel exhaustion. Aborting an already-closed detail is a no-op.
func (o *Orchestrator) Abort(ctx context.Context, detailID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	detail, err := o.store.GetDetail(ctx, detailID)
	if err != nil {
		return err
	}
	if detail.Status.IsTerminal() {
		return nil
	}

	plan, err := o.planFor(ctx, detail.UnitySendMasterID)
	if err != nil {
		return err
	}

	return o.persistTransition(ctx, *detail, domain.NewOperatorAbort(), plan)
}

// AbortMaster aborts every non-terminal detail of a unit send.
func (o *Orchestrator) AbortMaster(ctx context.Context, masterID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	details, err := o.store.ListDetailsByMaster(ctx, masterID)
	if err != nil {
		return err
	}
	if len(details) == 0 {
		return fmt.Errorf("%w: master %s has no details", domain.ErrNotFound, masterID)
	}

	plan, err := o.planFor(ctx, masterID)
	if err != nil {
		return err
	}

	for i := range details {
		if details[i].Status.IsTerminal() {
			continue
		}
		if err := o.persistTransition(ctx, details[i], domain.NewOperatorAbort(), plan); err != nil {
			o.logger.Error("abort failed",
				zap.String("detailId", details[i].UnityDetailID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// RecomputeAggregate derives the master's aggregate status from its detail
// statuses and stamps closed_at the first time every detail is terminal.
// Safe to call any number of times.
func (o *Orchestrator) RecomputeAggregate(ctx context.Context, masterID string) error {
	counts, err := o.store.CountDetailsByStatus(ctx, masterID)
	if err != nil {
		return fmt.Errorf("failed to count detail statuses: %w", err)
	}

	total := 0
	terminal := 0
	for status, count := range counts {
		total += count
		if status.IsTerminal() {
			terminal += count
		}
	}
	if total == 0 || terminal < total {
		return nil
	}

	closed, err := o.store.CloseMaster(ctx, masterID, o.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to close master: %w", err)
	}
	if closed {
		o.logger.Info("unit send closed",
			zap.String("masterId", masterID),
			zap.Int("success", counts[domain.StatusClosedSuccess]),
			zap.Int("failed", counts[domain.StatusClosedFailed]),
		)
		if o.metrics != nil {
			o.metrics.IncMasterClosed()
		}
	}
	return nil
}

// ReconcileAggregates re-derives the aggregate status of still-open
// masters. A crash between a detail close and its aggregate recompute
// would otherwise leave the master PROCESSING forever. Returns the number
// of masters examined.
func (o *Orchestrator) ReconcileAggregates(ctx context.Context, limit int) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultDispatchLimit
	}

	masterIDs, err := o.store.ListOpenMasters(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list open masters: %w", err)
	}

	for _, masterID := range masterIDs {
		if err := o.RecomputeAggregate(ctx, masterID); err != nil {
			o.logger.Error("aggregate reconcile failed",
				zap.String("masterId", masterID),
				zap.Error(err),
			)
		}
	}

	return len(masterIDs), nil
}

// persistTransition runs one event through the state machine and commits
// the decision with the optimistic-concurrency primitive. Lost races and
// no-op replays are swallowed; the other worker's transition stands.
func (o *Orchestrator) persistTransition(ctx context.Context, detail domain.SendDetail, event domain.DeliveryEvent, plan domain.ChannelPlan) error {
	dec, err := domain.Transition(detail, event, plan, o.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrClosed) {
			o.logger.Info("event for closed detail dropped",
				zap.String("detailId", detail.UnityDetailID),
				zap.String("event", string(event.Kind)),
			)
			return nil
		}
		return err
	}
	if !dec.Applied {
		return nil
	}

	applied, err := o.store.UpdateDetailIfStatus(ctx, detail.UnityDetailID, detail.Status, detail.Version, dec)
	if err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}
	if !applied {
		o.logger.Debug("transition discarded after losing update race",
			zap.String("detailId", detail.UnityDetailID),
			zap.String("event", string(event.Kind)),
		)
		return nil
	}

	o.observeTransition(detail, event, dec, plan)

	if dec.Closed() {
		if err := o.RecomputeAggregate(ctx, detail.UnitySendMasterID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) observeTransition(detail domain.SendDetail, event domain.DeliveryEvent, dec domain.Decision, plan domain.ChannelPlan) {
	if o.metrics == nil {
		return
	}

	step, ok := plan.StepAt(detail.ChannelPlanIndex)
	if !ok {
		return
	}
	channelName := strings.ToLower(step.Channel.String())

	switch dec.Status {
	case domain.StatusClosedSuccess:
		o.metrics.IncDetailClosed(channelName, "success")
	case domain.StatusClosedFailed:
		reason := "exhausted"
		if event.Kind == domain.EventOperatorAbort {
			reason = "aborted"
		}
		o.metrics.IncDetailClosed(channelName, reason)
	case domain.StatusFailRetryable:
		o.metrics.IncRetryScheduled(channelName)
	}
}

func (o *Orchestrator) planFor(ctx context.Context, masterID string) (domain.ChannelPlan, error) {
	master, err := o.store.GetMaster(ctx, masterID)
	if err != nil {
		return domain.ChannelPlan{}, fmt.Errorf("failed to load master %s: %w", masterID, err)
	}
	plan, err := master.Plan()
	if err != nil {
		return domain.ChannelPlan{}, fmt.Errorf("failed to restore plan for master %s: %w", masterID, err)
	}
	return plan, nil
}

func (o *Orchestrator) recordAttempt(ctx context.Context, detail domain.SendDetail, code domain.ChannelCode, event domain.DeliveryEvent) error {
	attempt := &domain.DispatchAttempt{
		ID:            uuid.NewString(),
		UnityDetailID: detail.UnityDetailID,
		Channel:       code,
		AttemptNumber: detail.AttemptCount + 1,
		CreatedAt:     o.now().UTC(),
	}
	if event.ExternalRef != "" {
		ref := event.ExternalRef
		attempt.ExternalRef = &ref
	}
	if event.ErrorCode != "" {
		errCode := event.ErrorCode
		attempt.OutcomeCode = &errCode
	}
	if event.ErrorMessage != "" {
		msg := event.ErrorMessage
		attempt.OutcomeMessage = &msg
	}

	return o.attempts.Create(ctx, attempt)
}

// claimDecision moves a pending detail to SENDING, leaving every other
// field untouched.
func claimDecision(detail domain.SendDetail) domain.Decision {
	return domain.Decision{
		Applied:          true,
		Status:           domain.StatusSending,
		ChannelPlanIndex: detail.ChannelPlanIndex,
		AttemptCount:     detail.AttemptCount,
		NextWakeAt:       nil,
		ExternalRef:      detail.ExternalRef,
		ErrorCode:        detail.LastErrorCode,
		ErrorMessage:     detail.LastErrorMessage,
	}
}
