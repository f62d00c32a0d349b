package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kbridge/unity-send/internal/channel"
	"github.com/kbridge/unity-send/internal/domain"
	"github.com/kbridge/unity-send/internal/ratelimit"
	"github.com/kbridge/unity-send/internal/repository"
	"go.uber.org/zap"
)

var orchNow = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func orchPlan() domain.ChannelPlan {
	return domain.ChannelPlan{
		TemplateID: "tpl-1",
		Steps: []domain.ChannelStep{
			{Channel: domain.ChannelKakao, MaxAttempts: 2, RetryDelayMinutes: []int{5}},
			{Channel: domain.ChannelSMS, MaxAttempts: 1},
		},
	}
}

func masterWithPlan(t *testing.T, masterID string) *domain.SendMaster {
	t.Helper()

	planJSON, err := domain.MarshalPlan(orchPlan())
	if err != nil {
		t.Fatalf("MarshalPlan() error = %v", err)
	}
	return &domain.SendMaster{
		UnitySendMasterID: masterID,
		SignguCode:        "11110",
		TemplateID:        "tpl-1",
		TotalCount:        1,
		AggregateStatus:   domain.AggregateProcessing,
		PlanJSON:          planJSON,
		CreatedAt:         orchNow,
	}
}

// capturedUpdate records one optimistic-concurrency call so tests can assert
// the claim/commit sequence.
type capturedUpdate struct {
	detailID        string
	expectedStatus  domain.DetailStatus
	expectedVersion int64
	dec             domain.Decision
}

func newTestOrchestrator(t *testing.T, store repository.SendRepository, attempts repository.AttemptRepository, resolver PlanResolver, adapters AdapterRegistry) *Orchestrator {
	t.Helper()

	orch, err := NewOrchestrator(store, attempts, resolver, adapters, nil, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	orch.now = func() time.Time { return orchNow }
	return orch
}

func TestNewOrchestratorRequiresDependencies(t *testing.T) {
	t.Parallel()

	store := &fakeSendRepo{}
	attempts := &fakeAttemptRepo{}
	resolver := &fakePlanResolver{}
	registry := newFakeRegistry()

	if _, err := NewOrchestrator(nil, attempts, resolver, registry, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil send repository")
	}
	if _, err := NewOrchestrator(store, nil, resolver, registry, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil attempt repository")
	}
	if _, err := NewOrchestrator(store, attempts, nil, registry, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil plan resolver")
	}
	if _, err := NewOrchestrator(store, attempts, resolver, nil, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil adapter registry")
	}
	if _, err := NewOrchestrator(store, attempts, resolver, registry, nil, 0, nil); err != nil {
		t.Fatalf("NewOrchestrator() with zero concurrency error = %v", err)
	}
}

func TestAcceptBatchPersistsMasterAndDetails(t *testing.T) {
	t.Parallel()

	var gotMaster *domain.SendMaster
	var gotDetails []*domain.SendDetail

	store := &fakeSendRepo{
		createMasterFn: func(ctx context.Context, master *domain.SendMaster, details []*domain.SendDetail) error {
			gotMaster = master
			gotDetails = details
			return nil
		},
	}
	resolver := &fakePlanResolver{
		resolveFn: func(ctx context.Context, templateID string) (domain.ChannelPlan, error) {
			if templateID != "tpl-1" {
				t.Fatalf("template id = %q, want tpl-1", templateID)
			}
			return orchPlan(), nil
		},
	}
	registry := newFakeRegistry(
		&fakeAdapter{code: domain.ChannelKakao, confirms: true, fields: []string{"ci", "phone"}},
		&fakeAdapter{code: domain.ChannelSMS, fields: []string{"phone"}},
	)

	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, resolver, registry)

	recipients := []domain.Recipient{
		{Name: "Kim", CI: "ci-1", Phone: "01011112222"},
		{Name: "Lee", CI: "ci-2", Phone: "01033334444"},
	}
	master, err := orch.AcceptBatch(context.Background(), domain.MasterMeta{SignguCode: "11110", TemplateID: "tpl-1"}, recipients)
	if err != nil {
		t.Fatalf("AcceptBatch() error = %v", err)
	}
	if master != gotMaster {
		t.Fatal("returned master is not the persisted master")
	}

	if gotMaster.UnitySendMasterID == "" {
		t.Fatal("master id not assigned")
	}
	if gotMaster.TotalCount != 2 {
		t.Fatalf("total count = %d, want 2", gotMaster.TotalCount)
	}
	if gotMaster.AggregateStatus != domain.AggregateProcessing {
		t.Fatalf("aggregate status = %s, want PROCESSING", gotMaster.AggregateStatus)
	}

	plan, err := gotMaster.Plan()
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Steps) != 2 || plan.Steps[0].Channel != domain.ChannelKakao {
		t.Fatalf("snapshotted plan = %+v, want the resolved two-step plan", plan)
	}

	if len(gotDetails) != 2 {
		t.Fatalf("details = %d, want 2", len(gotDetails))
	}
	seen := make(map[string]bool)
	for i, detail := range gotDetails {
		if detail.UnitySendMasterID != gotMaster.UnitySendMasterID {
			t.Fatalf("detail %d master id = %q, want %q", i, detail.UnitySendMasterID, gotMaster.UnitySendMasterID)
		}
		if detail.Status != domain.StatusPendingDispatch {
			t.Fatalf("detail %d status = %s, want PENDING_DISPATCH", i, detail.Status)
		}
		if detail.ChannelPlanIndex != 0 || detail.AttemptCount != 0 {
			t.Fatalf("detail %d starts at index %d attempt %d, want 0/0", i, detail.ChannelPlanIndex, detail.AttemptCount)
		}
		if seen[detail.UnityDetailID] {
			t.Fatalf("detail id %q assigned twice", detail.UnityDetailID)
		}
		seen[detail.UnityDetailID] = true
	}
}

func TestAcceptBatchValidation(t *testing.T) {
	t.Parallel()

	registry := newFakeRegistry(
		&fakeAdapter{code: domain.ChannelKakao, fields: []string{"ci", "phone"}},
		&fakeAdapter{code: domain.ChannelSMS, fields: []string{"phone"}},
	)

	tests := []struct {
		name       string
		meta       domain.MasterMeta
		recipients []domain.Recipient
	}{
		{
			name:       "missing template id",
			meta:       domain.MasterMeta{SignguCode: "11110"},
			recipients: []domain.Recipient{{CI: "ci-1", Phone: "01011112222"}},
		},
		{
			name:       "missing signgu code",
			meta:       domain.MasterMeta{TemplateID: "tpl-1"},
			recipients: []domain.Recipient{{CI: "ci-1", Phone: "01011112222"}},
		},
		{
			name: "no recipients",
			meta: domain.MasterMeta{SignguCode: "11110", TemplateID: "tpl-1"},
		},
		{
			name:       "recipient missing field required by first channel",
			meta:       domain.MasterMeta{SignguCode: "11110", TemplateID: "tpl-1"},
			recipients: []domain.Recipient{{Phone: "01011112222"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			created := false
			store := &fakeSendRepo{
				createMasterFn: func(ctx context.Context, master *domain.SendMaster, details []*domain.SendDetail) error {
					created = true
					return nil
				},
			}
			orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, registry)

			_, err := orch.AcceptBatch(context.Background(), tc.meta, tc.recipients)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("AcceptBatch() error = %v, want ErrValidation", err)
			}
			if created {
				t.Fatal("invalid batch must not be persisted")
			}
		})
	}
}

func TestAcceptBatchRequiresAdapterForEveryPlanStep(t *testing.T) {
	t.Parallel()

	created := false
	store := &fakeSendRepo{
		createMasterFn: func(ctx context.Context, master *domain.SendMaster, details []*domain.SendDetail) error {
			created = true
			return nil
		},
	}
	// SMS is in the plan but has no adapter.
	registry := newFakeRegistry(&fakeAdapter{code: domain.ChannelKakao, fields: []string{"ci"}})
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, registry)

	_, err := orch.AcceptBatch(context.Background(),
		domain.MasterMeta{SignguCode: "11110", TemplateID: "tpl-1"},
		[]domain.Recipient{{CI: "ci-1", Phone: "01011112222"}},
	)
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("AcceptBatch() error = %v, want ErrConfig", err)
	}
	if created {
		t.Fatal("batch with an unservable plan step must not be persisted")
	}
}

func TestDispatchPendingClosesImmediateChannel(t *testing.T) {
	t.Parallel()

	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Recipient:         domain.Recipient{CI: "ci-1", Phone: "01011112222"},
		Status:            domain.StatusPendingDispatch,
		Version:           3,
	}

	var updates []capturedUpdate
	masterClosed := false
	store := &fakeSendRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return []domain.SendDetail{detail}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			return map[domain.DetailStatus]int{domain.StatusClosedSuccess: 1}, nil
		},
		closeMasterFn: func(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
			masterClosed = true
			if !closedAt.Equal(orchNow) {
				t.Fatalf("closed at = %v, want %v", closedAt, orchNow)
			}
			return true, nil
		},
	}

	var gotAttempt *domain.DispatchAttempt
	attempts := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.DispatchAttempt) error {
			gotAttempt = a
			return nil
		},
	}

	adapter := &fakeAdapter{
		code: domain.ChannelKakao,
		sendFn: func(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
			if req.DetailID != "d1" || req.SignguCode != "11110" {
				t.Fatalf("send request = %+v, want detail d1 for signgu 11110", req)
			}
			return &channel.SendResult{ExternalRef: "prov-1", Outcome: channel.Outcome{OK: true}}, nil
		},
	}
	orch := newTestOrchestrator(t, store, attempts, &fakePlanResolver{}, newFakeRegistry(adapter))
	orch.rateLimiter = &fakeRateLimiter{
		waitFn: func(ctx context.Context, ch string) error {
			if ch != "kakao" {
				t.Fatalf("rate limited channel = %q, want kakao", ch)
			}
			return nil
		},
	}

	processed, err := orch.DispatchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want claim + commit", len(updates))
	}
	claim := updates[0]
	if claim.expectedStatus != domain.StatusPendingDispatch || claim.expectedVersion != 3 {
		t.Fatalf("claim expected %s v%d, want PENDING_DISPATCH v3", claim.expectedStatus, claim.expectedVersion)
	}
	if claim.dec.Status != domain.StatusSending {
		t.Fatalf("claim decision status = %s, want SENDING", claim.dec.Status)
	}

	commit := updates[1]
	if commit.expectedStatus != domain.StatusSending || commit.expectedVersion != 4 {
		t.Fatalf("commit expected %s v%d, want SENDING v4", commit.expectedStatus, commit.expectedVersion)
	}
	if commit.dec.Status != domain.StatusClosedSuccess {
		t.Fatalf("commit decision status = %s, want CLOSED_SUCCESS", commit.dec.Status)
	}
	if commit.dec.ExternalRef == nil || *commit.dec.ExternalRef != "prov-1" {
		t.Fatal("commit decision must carry the provider reference")
	}

	if gotAttempt == nil {
		t.Fatal("dispatch attempt not recorded")
	}
	if gotAttempt.UnityDetailID != "d1" || gotAttempt.Channel != domain.ChannelKakao || gotAttempt.AttemptNumber != 1 {
		t.Fatalf("attempt = %+v, want first KAKAO attempt for d1", gotAttempt)
	}
	if gotAttempt.ExternalRef == nil || *gotAttempt.ExternalRef != "prov-1" {
		t.Fatal("attempt must carry the provider reference")
	}

	if !masterClosed {
		t.Fatal("closing the last detail must close the master")
	}
}

func TestDispatchPendingAwaitsAsynchronousConfirmation(t *testing.T) {
	t.Parallel()

	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusPendingDispatch,
	}

	var updates []capturedUpdate
	store := &fakeSendRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return []domain.SendDetail{detail}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
		closeMasterFn: func(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
			t.Fatal("master must not close while a detail awaits confirmation")
			return false, nil
		},
	}

	adapter := &fakeAdapter{
		code:     domain.ChannelKakao,
		confirms: true,
		sendFn: func(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
			return &channel.SendResult{ExternalRef: "doc-42", Outcome: channel.Outcome{OK: true}}, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry(adapter))

	if _, err := orch.DispatchPending(context.Background(), 10); err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want claim + commit", len(updates))
	}
	commit := updates[1].dec
	if commit.Status != domain.StatusAwaitingConfirm {
		t.Fatalf("commit status = %s, want AWAITING_CONFIRMATION", commit.Status)
	}
	if commit.ExternalRef == nil || *commit.ExternalRef != "doc-42" {
		t.Fatal("awaiting detail must carry the provider reference for reconciliation")
	}
}

func TestDispatchPendingLostClaimSkipsAdapter(t *testing.T) {
	t.Parallel()

	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusPendingDispatch,
	}

	store := &fakeSendRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return []domain.SendDetail{detail}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			return false, nil
		},
	}
	attempts := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.DispatchAttempt) error {
			t.Fatal("no attempt may be recorded after a lost claim")
			return nil
		},
	}
	adapter := &fakeAdapter{
		code: domain.ChannelKakao,
		sendFn: func(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
			t.Fatal("adapter must not be called after a lost claim")
			return nil, nil
		},
	}
	orch := newTestOrchestrator(t, store, attempts, &fakePlanResolver{}, newFakeRegistry(adapter))

	processed, err := orch.DispatchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
}

func TestDispatchPendingTransientFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusPendingDispatch,
	}

	var updates []capturedUpdate
	var gotAttempt *domain.DispatchAttempt
	store := &fakeSendRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return []domain.SendDetail{detail}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
	}
	attempts := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.DispatchAttempt) error {
			gotAttempt = a
			return nil
		},
	}
	adapter := &fakeAdapter{
		code: domain.ChannelKakao,
		sendFn: func(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
			return nil, &channel.AdapterError{StatusCode: 502, Code: "KAKAO_UPSTREAM", Message: "bad gateway"}
		},
	}
	orch := newTestOrchestrator(t, store, attempts, &fakePlanResolver{}, newFakeRegistry(adapter))

	if _, err := orch.DispatchPending(context.Background(), 10); err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want claim + commit", len(updates))
	}
	commit := updates[1].dec
	if commit.Status != domain.StatusFailRetryable {
		t.Fatalf("commit status = %s, want SEND_FAIL_RETRYABLE", commit.Status)
	}
	wantWake := orchNow.Add(5 * time.Minute)
	if commit.NextWakeAt == nil || !commit.NextWakeAt.Equal(wantWake) {
		t.Fatalf("next wake = %v, want %v", commit.NextWakeAt, wantWake)
	}
	if commit.ErrorCode == nil || *commit.ErrorCode != "KAKAO_UPSTREAM" {
		t.Fatal("commit must record the normalized provider error code")
	}

	if gotAttempt == nil {
		t.Fatal("failed dispatch must still be recorded as an attempt")
	}
	if gotAttempt.OutcomeCode == nil || *gotAttempt.OutcomeCode != "KAKAO_UPSTREAM" {
		t.Fatalf("attempt outcome code = %v, want KAKAO_UPSTREAM", gotAttempt.OutcomeCode)
	}
}

func TestDispatchPendingMissingAdapterFallsBack(t *testing.T) {
	t.Parallel()

	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusPendingDispatch,
	}

	var updates []capturedUpdate
	store := &fakeSendRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return []domain.SendDetail{detail}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
	}
	// Only SMS is registered; the detail's active channel KAKAO has no adapter.
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{},
		newFakeRegistry(&fakeAdapter{code: domain.ChannelSMS}))

	if _, err := orch.DispatchPending(context.Background(), 10); err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want claim + fallback", len(updates))
	}
	commit := updates[1].dec
	if commit.Status != domain.StatusChannelExhausted {
		t.Fatalf("commit status = %s, want SEND_FAIL_CHANNEL_EXHAUSTED on the fallback channel", commit.Status)
	}
	if commit.ChannelPlanIndex != 1 || commit.AttemptCount != 0 {
		t.Fatalf("fallback index/attempts = %d/%d, want 1/0", commit.ChannelPlanIndex, commit.AttemptCount)
	}
	if commit.ErrorCode == nil || *commit.ErrorCode != "NO_ADAPTER" {
		t.Fatalf("fallback error code = %v, want NO_ADAPTER", commit.ErrorCode)
	}
}

func TestDispatchPendingClaimsExhaustedDetail(t *testing.T) {
	t.Parallel()

	// A detail that exhausted KAKAO sits on the SMS step in
	// SEND_FAIL_CHANNEL_EXHAUSTED; the scan must claim it against that
	// status and dispatch on the fallback channel.
	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusChannelExhausted,
		ChannelPlanIndex:  1,
		Version:           3,
	}

	var updates []capturedUpdate
	store := &fakeSendRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return []domain.SendDetail{detail}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
	}
	smsSent := false
	adapter := &fakeAdapter{
		code: domain.ChannelSMS,
		sendFn: func(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
			smsSent = true
			return &channel.SendResult{ExternalRef: "sms-1", Outcome: channel.Outcome{OK: true}}, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry(adapter))

	if _, err := orch.DispatchPending(context.Background(), 10); err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want claim + commit", len(updates))
	}
	if updates[0].expectedStatus != domain.StatusChannelExhausted {
		t.Fatalf("claim expected status = %s, want SEND_FAIL_CHANNEL_EXHAUSTED", updates[0].expectedStatus)
	}
	if updates[0].expectedVersion != 3 {
		t.Fatalf("claim expected version = %d, want 3", updates[0].expectedVersion)
	}
	if !smsSent {
		t.Fatal("fallback dispatch must go through the SMS adapter")
	}
	if commit := updates[1].dec; commit.Status != domain.StatusClosedSuccess {
		t.Fatalf("commit status = %s, want CLOSED_SUCCESS", commit.Status)
	}
}

func TestDispatchPendingSkipsUnloadableMaster(t *testing.T) {
	t.Parallel()

	// Two details from different masters; one master cannot be loaded.
	// Only its detail is skipped, the other still dispatches.
	details := []domain.SendDetail{
		{UnityDetailID: "d-bad", UnitySendMasterID: "m-bad", Status: domain.StatusPendingDispatch},
		{UnityDetailID: "d-ok", UnitySendMasterID: "m-ok", Status: domain.StatusPendingDispatch},
	}

	var updates []capturedUpdate
	store := &fakeSendRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return details, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			if masterID == "m-bad" {
				return nil, errors.New("connection reset")
			}
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
	}
	adapter := &fakeAdapter{
		code:     domain.ChannelKakao,
		confirms: true,
		sendFn: func(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
			if req.DetailID != "d-ok" {
				t.Fatalf("dispatched detail %s, want only d-ok", req.DetailID)
			}
			return &channel.SendResult{ExternalRef: "doc-1", Outcome: channel.Outcome{OK: true}}, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry(adapter))

	if _, err := orch.DispatchPending(context.Background(), 10); err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}

	for _, u := range updates {
		if u.detailID == "d-bad" {
			t.Fatal("detail of the unloadable master must not be touched")
		}
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want claim + commit for the healthy detail", len(updates))
	}
}

func TestRunCallbackClosesAwaitingDetail(t *testing.T) {
	t.Parallel()

	ref := "doc-42"
	detail := &domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusAwaitingConfirm,
		ExternalRef:       &ref,
		Version:           7,
	}

	var updates []capturedUpdate
	store := &fakeSendRepo{
		findByExternalRefFn: func(ctx context.Context, externalRef string) (*domain.SendDetail, error) {
			if externalRef != ref {
				t.Fatalf("external ref = %q, want %q", externalRef, ref)
			}
			return detail, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			return map[domain.DetailStatus]int{domain.StatusClosedSuccess: 1}, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.RunCallback(context.Background(), ref, true, "", ""); err != nil {
		t.Fatalf("RunCallback() error = %v", err)
	}

	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	got := updates[0]
	if got.expectedStatus != domain.StatusAwaitingConfirm || got.expectedVersion != 7 {
		t.Fatalf("update expected %s v%d, want AWAITING_CONFIRMATION v7", got.expectedStatus, got.expectedVersion)
	}
	if got.dec.Status != domain.StatusClosedSuccess {
		t.Fatalf("decision status = %s, want CLOSED_SUCCESS", got.dec.Status)
	}
}

func TestRunCallbackUnknownRef(t *testing.T) {
	t.Parallel()

	store := &fakeSendRepo{
		findByExternalRefFn: func(ctx context.Context, externalRef string) (*domain.SendDetail, error) {
			return nil, domain.ErrNotFound
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.RunCallback(context.Background(), "nobody-owns-this", true, "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RunCallback() error = %v, want ErrNotFound", err)
	}
	if err := orch.RunCallback(context.Background(), "  ", true, "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("RunCallback() with blank ref error = %v, want ErrValidation", err)
	}
}

func TestRunCallbackDuplicateForClosedDetailIsBenign(t *testing.T) {
	t.Parallel()

	ref := "doc-42"
	store := &fakeSendRepo{
		findByExternalRefFn: func(ctx context.Context, externalRef string) (*domain.SendDetail, error) {
			return &domain.SendDetail{
				UnityDetailID: "d1",
				Status:        domain.StatusClosedSuccess,
				ExternalRef:   &ref,
			}, nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			t.Fatal("duplicate callback must not touch a closed detail")
			return false, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.RunCallback(context.Background(), ref, false, "KAKAO_EXPIRED", "expired"); err != nil {
		t.Fatalf("RunCallback() error = %v, want nil for duplicate", err)
	}
}

func TestRunCallbackLostRaceIsDiscarded(t *testing.T) {
	t.Parallel()

	ref := "doc-42"
	detail := &domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusAwaitingConfirm,
		ExternalRef:       &ref,
	}
	store := &fakeSendRepo{
		findByExternalRefFn: func(ctx context.Context, externalRef string) (*domain.SendDetail, error) {
			return detail, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			return false, nil
		},
		closeMasterFn: func(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
			t.Fatal("a discarded transition must not recompute the aggregate")
			return false, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.RunCallback(context.Background(), ref, true, "", ""); err != nil {
		t.Fatalf("RunCallback() error = %v, want nil after losing the race", err)
	}
}

func TestPollConfirmationsReconcilesThroughAdapter(t *testing.T) {
	t.Parallel()

	ref := "doc-42"
	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusAwaitingConfirm,
		ExternalRef:       &ref,
		Version:           5,
	}

	var updates []capturedUpdate
	store := &fakeSendRepo{
		listAwaitingFn: func(ctx context.Context, limit int) ([]domain.SendDetail, error) {
			return []domain.SendDetail{detail}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			return map[domain.DetailStatus]int{domain.StatusClosedSuccess: 1}, nil
		},
	}
	adapter := &fakeAdapter{
		code:     domain.ChannelKakao,
		confirms: true,
		pollFn: func(ctx context.Context, externalRef string) (*channel.Outcome, error) {
			if externalRef != ref {
				t.Fatalf("polled ref = %q, want %q", externalRef, ref)
			}
			return &channel.Outcome{OK: true}, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry(adapter))

	polled, err := orch.PollConfirmations(context.Background(), 10)
	if err != nil {
		t.Fatalf("PollConfirmations() error = %v", err)
	}
	if polled != 1 {
		t.Fatalf("polled = %d, want 1", polled)
	}
	if len(updates) != 1 || updates[0].dec.Status != domain.StatusClosedSuccess {
		t.Fatalf("updates = %+v, want a single CLOSED_SUCCESS commit", updates)
	}
}

func TestFireTimerWakesRetryableDetail(t *testing.T) {
	t.Parallel()

	wake := orchNow.Add(-time.Minute)
	detail := domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusFailRetryable,
		AttemptCount:      0,
		NextWakeAt:        &wake,
		Version:           2,
	}

	var updates []capturedUpdate
	store := &fakeSendRepo{
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	fired, err := orch.FireTimer(context.Background(), detail)
	if err != nil {
		t.Fatalf("FireTimer() error = %v", err)
	}
	if !fired {
		t.Fatal("FireTimer() = false, want true")
	}

	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	got := updates[0]
	if got.expectedStatus != domain.StatusFailRetryable || got.expectedVersion != 2 {
		t.Fatalf("update expected %s v%d, want SEND_FAIL_RETRYABLE v2", got.expectedStatus, got.expectedVersion)
	}
	if got.dec.Status != domain.StatusPendingDispatch || got.dec.AttemptCount != 1 {
		t.Fatalf("decision = %s attempts %d, want PENDING_DISPATCH with attempt count 1", got.dec.Status, got.dec.AttemptCount)
	}
	if got.dec.NextWakeAt != nil {
		t.Fatal("a fired timer must clear the wake time")
	}
}

func TestFireTimerIgnoresNonRetryableDetail(t *testing.T) {
	t.Parallel()

	store := &fakeSendRepo{
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			t.Fatal("no plan load for a detail that is not retryable")
			return nil, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	fired, err := orch.FireTimer(context.Background(), domain.SendDetail{
		UnityDetailID: "d1",
		Status:        domain.StatusPendingDispatch,
	})
	if err != nil {
		t.Fatalf("FireTimer() error = %v", err)
	}
	if fired {
		t.Fatal("FireTimer() = true for a non-retryable detail, want false")
	}
}

func TestFireTimerLostClaim(t *testing.T) {
	t.Parallel()

	wake := orchNow.Add(-time.Minute)
	store := &fakeSendRepo{
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			return false, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	fired, err := orch.FireTimer(context.Background(), domain.SendDetail{
		UnityDetailID:     "d1",
		UnitySendMasterID: "m1",
		Status:            domain.StatusFailRetryable,
		NextWakeAt:        &wake,
	})
	if err != nil {
		t.Fatalf("FireTimer() error = %v", err)
	}
	if fired {
		t.Fatal("FireTimer() = true after losing the claim, want false")
	}
}

func TestAbortClosesOpenDetail(t *testing.T) {
	t.Parallel()

	var updates []capturedUpdate
	store := &fakeSendRepo{
		getDetailFn: func(ctx context.Context, detailID string) (*domain.SendDetail, error) {
			return &domain.SendDetail{
				UnityDetailID:     detailID,
				UnitySendMasterID: "m1",
				Status:            domain.StatusFailRetryable,
				Version:           4,
			}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			return map[domain.DetailStatus]int{domain.StatusClosedFailed: 1}, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.Abort(context.Background(), "d1"); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	dec := updates[0].dec
	if dec.Status != domain.StatusClosedFailed {
		t.Fatalf("decision status = %s, want CLOSED_FAILED", dec.Status)
	}
	if dec.ErrorCode == nil || *dec.ErrorCode != domain.ErrorCodeOperatorAbort {
		t.Fatalf("error code = %v, want OPERATOR_ABORT", dec.ErrorCode)
	}
}

func TestAbortClosedDetailIsNoop(t *testing.T) {
	t.Parallel()

	store := &fakeSendRepo{
		getDetailFn: func(ctx context.Context, detailID string) (*domain.SendDetail, error) {
			return &domain.SendDetail{UnityDetailID: detailID, Status: domain.StatusClosedSuccess}, nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			t.Fatal("aborting a closed detail must not write")
			return false, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.Abort(context.Background(), "d1"); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
}

func TestAbortMasterAbortsOnlyOpenDetails(t *testing.T) {
	t.Parallel()

	var updates []capturedUpdate
	store := &fakeSendRepo{
		listByMasterFn: func(ctx context.Context, masterID string) ([]domain.SendDetail, error) {
			return []domain.SendDetail{
				{UnityDetailID: "d1", UnitySendMasterID: masterID, Status: domain.StatusClosedSuccess},
				{UnityDetailID: "d2", UnitySendMasterID: masterID, Status: domain.StatusPendingDispatch},
				{UnityDetailID: "d3", UnitySendMasterID: masterID, Status: domain.StatusAwaitingConfirm},
			}, nil
		},
		getMasterFn: func(ctx context.Context, masterID string) (*domain.SendMaster, error) {
			return masterWithPlan(t, masterID), nil
		},
		updateIfStatusFn: func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
			updates = append(updates, capturedUpdate{detailID, expectedStatus, expectedVersion, dec})
			return true, nil
		},
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			return map[domain.DetailStatus]int{domain.StatusClosedSuccess: 1, domain.StatusClosedFailed: 2}, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.AbortMaster(context.Background(), "m1"); err != nil {
		t.Fatalf("AbortMaster() error = %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want the two open details", len(updates))
	}
	aborted := map[string]bool{}
	for _, u := range updates {
		if u.dec.Status != domain.StatusClosedFailed {
			t.Fatalf("decision status = %s, want CLOSED_FAILED", u.dec.Status)
		}
		aborted[u.detailID] = true
	}
	if !aborted["d2"] || !aborted["d3"] {
		t.Fatalf("aborted details = %v, want d2 and d3", aborted)
	}
}

func TestAbortMasterWithoutDetails(t *testing.T) {
	t.Parallel()

	store := &fakeSendRepo{
		listByMasterFn: func(ctx context.Context, masterID string) ([]domain.SendDetail, error) {
			return nil, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.AbortMaster(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("AbortMaster() error = %v, want ErrNotFound", err)
	}
}

func TestRecomputeAggregateWaitsForAllTerminal(t *testing.T) {
	t.Parallel()

	store := &fakeSendRepo{
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			return map[domain.DetailStatus]int{
				domain.StatusClosedSuccess:   2,
				domain.StatusPendingDispatch: 1,
			}, nil
		},
		closeMasterFn: func(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
			t.Fatal("master must not close while details are open")
			return false, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.RecomputeAggregate(context.Background(), "m1"); err != nil {
		t.Fatalf("RecomputeAggregate() error = %v", err)
	}
}

func TestRecomputeAggregateClosesWhenAllTerminal(t *testing.T) {
	t.Parallel()

	closed := 0
	store := &fakeSendRepo{
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			return map[domain.DetailStatus]int{
				domain.StatusClosedSuccess: 2,
				domain.StatusClosedFailed:  1,
			}, nil
		},
		closeMasterFn: func(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
			closed++
			// Second call sees the master already closed.
			return closed == 1, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	if err := orch.RecomputeAggregate(context.Background(), "m1"); err != nil {
		t.Fatalf("RecomputeAggregate() error = %v", err)
	}
	if err := orch.RecomputeAggregate(context.Background(), "m1"); err != nil {
		t.Fatalf("RecomputeAggregate() second call error = %v", err)
	}
	if closed != 2 {
		t.Fatalf("close attempts = %d, want idempotent close on every call", closed)
	}
}

func TestReconcileAggregatesClosesStrandedMasters(t *testing.T) {
	t.Parallel()

	var recomputed []string
	closedMasters := map[string]bool{"m1": true}
	store := &fakeSendRepo{
		listOpenMastersFn: func(ctx context.Context, limit int) ([]string, error) {
			if limit != 50 {
				t.Fatalf("limit = %d, want 50", limit)
			}
			return []string{"m1", "m2"}, nil
		},
		countByStatusFn: func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
			recomputed = append(recomputed, masterID)
			if closedMasters[masterID] {
				// m1's details all closed but its aggregate never caught up.
				return map[domain.DetailStatus]int{domain.StatusClosedSuccess: 3}, nil
			}
			return map[domain.DetailStatus]int{
				domain.StatusClosedSuccess:   2,
				domain.StatusPendingDispatch: 1,
			}, nil
		},
		closeMasterFn: func(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
			if masterID != "m1" {
				t.Fatalf("closed master = %q, want only the stranded m1", masterID)
			}
			return true, nil
		},
	}
	orch := newTestOrchestrator(t, store, &fakeAttemptRepo{}, &fakePlanResolver{}, newFakeRegistry())

	examined, err := orch.ReconcileAggregates(context.Background(), 50)
	if err != nil {
		t.Fatalf("ReconcileAggregates() error = %v", err)
	}
	if examined != 2 {
		t.Fatalf("examined = %d, want 2", examined)
	}
	if len(recomputed) != 2 {
		t.Fatalf("recomputed = %v, want both open masters", recomputed)
	}
}

// --- fakes ---

type fakeSendRepo struct {
	createMasterFn      func(ctx context.Context, master *domain.SendMaster, details []*domain.SendDetail) error
	getMasterFn         func(ctx context.Context, masterID string) (*domain.SendMaster, error)
	getDetailFn         func(ctx context.Context, detailID string) (*domain.SendDetail, error)
	listByMasterFn      func(ctx context.Context, masterID string) ([]domain.SendDetail, error)
	listPendingFn       func(ctx context.Context, limit int) ([]domain.SendDetail, error)
	listDueRetriesFn    func(ctx context.Context, now time.Time, limit int) ([]domain.SendDetail, error)
	listAwaitingFn      func(ctx context.Context, limit int) ([]domain.SendDetail, error)
	findByExternalRefFn func(ctx context.Context, externalRef string) (*domain.SendDetail, error)
	updateIfStatusFn    func(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error)
	countByStatusFn     func(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error)
	closeMasterFn       func(ctx context.Context, masterID string, closedAt time.Time) (bool, error)
	listOpenMastersFn   func(ctx context.Context, limit int) ([]string, error)
}

func (f *fakeSendRepo) CreateMasterWithDetails(ctx context.Context, master *domain.SendMaster, details []*domain.SendDetail) error {
	if f.createMasterFn != nil {
		return f.createMasterFn(ctx, master, details)
	}
	return nil
}

func (f *fakeSendRepo) GetMaster(ctx context.Context, masterID string) (*domain.SendMaster, error) {
	if f.getMasterFn != nil {
		return f.getMasterFn(ctx, masterID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSendRepo) GetDetail(ctx context.Context, detailID string) (*domain.SendDetail, error) {
	if f.getDetailFn != nil {
		return f.getDetailFn(ctx, detailID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSendRepo) ListDetailsByMaster(ctx context.Context, masterID string) ([]domain.SendDetail, error) {
	if f.listByMasterFn != nil {
		return f.listByMasterFn(ctx, masterID)
	}
	return nil, nil
}

func (f *fakeSendRepo) ListPendingDispatch(ctx context.Context, limit int) ([]domain.SendDetail, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeSendRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.SendDetail, error) {
	if f.listDueRetriesFn != nil {
		return f.listDueRetriesFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeSendRepo) ListAwaitingConfirmation(ctx context.Context, limit int) ([]domain.SendDetail, error) {
	if f.listAwaitingFn != nil {
		return f.listAwaitingFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeSendRepo) FindDetailByExternalRef(ctx context.Context, externalRef string) (*domain.SendDetail, error) {
	if f.findByExternalRefFn != nil {
		return f.findByExternalRefFn(ctx, externalRef)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSendRepo) UpdateDetailIfStatus(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error) {
	if f.updateIfStatusFn != nil {
		return f.updateIfStatusFn(ctx, detailID, expectedStatus, expectedVersion, dec)
	}
	return true, nil
}

func (f *fakeSendRepo) CountDetailsByStatus(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
	if f.countByStatusFn != nil {
		return f.countByStatusFn(ctx, masterID)
	}
	return nil, nil
}

func (f *fakeSendRepo) CloseMaster(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
	if f.closeMasterFn != nil {
		return f.closeMasterFn(ctx, masterID, closedAt)
	}
	return false, nil
}

func (f *fakeSendRepo) ListOpenMasters(ctx context.Context, limit int) ([]string, error) {
	if f.listOpenMastersFn != nil {
		return f.listOpenMastersFn(ctx, limit)
	}
	return nil, nil
}

var _ repository.SendRepository = (*fakeSendRepo)(nil)

type fakeAttemptRepo struct {
	createFn      func(ctx context.Context, a *domain.DispatchAttempt) error
	getByDetailFn func(ctx context.Context, detailID string) ([]domain.DispatchAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DispatchAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByDetailID(ctx context.Context, detailID string) ([]domain.DispatchAttempt, error) {
	if f.getByDetailFn != nil {
		return f.getByDetailFn(ctx, detailID)
	}
	return nil, nil
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

type fakePlanResolver struct {
	resolveFn func(ctx context.Context, templateID string) (domain.ChannelPlan, error)
}

func (f *fakePlanResolver) Resolve(ctx context.Context, templateID string) (domain.ChannelPlan, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, templateID)
	}
	return orchPlan(), nil
}

var _ PlanResolver = (*fakePlanResolver)(nil)

type fakeAdapter struct {
	code     domain.ChannelCode
	confirms bool
	fields   []string
	sendFn   func(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error)
	pollFn   func(ctx context.Context, externalRef string) (*channel.Outcome, error)
}

func (f *fakeAdapter) Code() domain.ChannelCode   { return f.code }
func (f *fakeAdapter) RequiresConfirmation() bool { return f.confirms }
func (f *fakeAdapter) RequiredFields() []string   { return f.fields }

func (f *fakeAdapter) Send(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &channel.SendResult{ExternalRef: "fake-ref", Outcome: channel.Outcome{OK: true}}, nil
}

func (f *fakeAdapter) PollStatus(ctx context.Context, externalRef string) (*channel.Outcome, error) {
	if f.pollFn != nil {
		return f.pollFn(ctx, externalRef)
	}
	return &channel.Outcome{OK: true}, nil
}

var _ channel.Adapter = (*fakeAdapter)(nil)

type fakeRegistry struct {
	adapters map[domain.ChannelCode]channel.Adapter
}

func newFakeRegistry(adapters ...channel.Adapter) *fakeRegistry {
	r := &fakeRegistry{adapters: make(map[domain.ChannelCode]channel.Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Code()] = a
	}
	return r
}

func (f *fakeRegistry) Resolve(code domain.ChannelCode) (channel.Adapter, error) {
	a, ok := f.adapters[code]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for channel %s", domain.ErrConfig, code)
	}
	return a, nil
}

var _ AdapterRegistry = (*fakeRegistry)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)
