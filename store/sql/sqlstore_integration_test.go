package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/google/uuid"
)

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{
		"outbound_deliveries",
		"outbound_delivery_attempts",
		"outbound_audit_events",
		"outbound_guardian_actions",
		"outbound_guardian_policies",
	} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestDeliveryStore_CreateIsIdempotentPerProjectConnectorKey(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).DeliveryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := newDelivery("proj_1", core.ConnectorTypeWebhook, "evt-1", now)
	stored, existing, err := store.CreateDelivery(ctx, first)
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if existing || stored.ID != first.ID || stored.IdempotencyKey != "evt-1" {
		t.Fatalf("unexpected first create %+v existing=%v", stored, existing)
	}

	replay := newDelivery("proj_1", core.ConnectorTypeWebhook, "evt-1", now.Add(time.Minute))
	stored, existing, err = store.CreateDelivery(ctx, replay)
	if err != nil {
		t.Fatalf("replay delivery: %v", err)
	}
	if !existing || stored.ID != first.ID {
		t.Fatalf("expected original delivery on replay, got %+v existing=%v", stored, existing)
	}

	otherConnector := newDelivery("proj_1", core.ConnectorTypeSlack, "evt-1", now)
	if _, existing, err := store.CreateDelivery(ctx, otherConnector); err != nil || existing {
		t.Fatalf("expected same key on another connector to create, existing=%v err=%v", existing, err)
	}
	for range 2 {
		if _, existing, err := store.CreateDelivery(ctx, newDelivery("proj_1", core.ConnectorTypeWebhook, "", now)); err != nil || existing {
			t.Fatalf("expected keyless deliveries to always create, existing=%v err=%v", existing, err)
		}
	}
}

func TestDeliveryStore_GetUpdateAndNotFound(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).DeliveryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	delivery := newDelivery("proj_1", core.ConnectorTypeJira, "", now)
	delivery.Config = core.ConnectorConfig{"base_url": "https://example.atlassian.net", "api_token": core.RedactedValue}
	if _, _, err := store.CreateDelivery(ctx, delivery); err != nil {
		t.Fatalf("create: %v", err)
	}

	status := 503
	next := now.Add(2 * time.Second)
	delivery.Status = core.DeliveryStatusRetrying
	delivery.AttemptCount = 1
	delivery.LastStatusCode = &status
	delivery.LastError = "HTTP 503"
	delivery.NextAttemptAt = &next
	delivery.UpdatedAt = now.Add(time.Second)
	if err := store.UpdateDelivery(ctx, delivery); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.GetDelivery(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != core.DeliveryStatusRetrying || loaded.AttemptCount != 1 || loaded.LastError != "HTTP 503" {
		t.Fatalf("unexpected loaded delivery %+v", loaded)
	}
	if loaded.LastStatusCode == nil || *loaded.LastStatusCode != 503 {
		t.Fatalf("expected last status code 503, got %v", loaded.LastStatusCode)
	}
	if loaded.NextAttemptAt == nil || !loaded.NextAttemptAt.Equal(next) {
		t.Fatalf("expected next attempt %s, got %v", next, loaded.NextAttemptAt)
	}
	if loaded.Payload["event"] != "ticket.created" || loaded.Config["api_token"] != core.RedactedValue {
		t.Fatalf("expected payload and redacted config round trip, got %#v %#v", loaded.Payload, loaded.Config)
	}

	if _, err := store.GetDelivery(ctx, uuid.NewString()); !isTextCode(err, core.OutboundErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	missing := newDelivery("proj_1", core.ConnectorTypeJira, "", now)
	if err := store.UpdateDelivery(ctx, missing); !isTextCode(err, core.OutboundErrorNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestDeliveryStore_AttemptsAreStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).DeliveryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := newDelivery("proj_1", core.ConnectorTypeSQS, "", now)
	second := newDelivery("proj_1", core.ConnectorTypeSQS, "", now)
	for _, delivery := range []core.Delivery{first, second} {
		if _, _, err := store.CreateDelivery(ctx, delivery); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	status := 500
	for number := 1; number <= 2; number++ {
		if err := store.AppendAttempt(ctx, core.DeliveryAttempt{
			ID:            uuid.NewString(),
			DeliveryID:    first.ID,
			AttemptNumber: number,
			StatusCode:    &status,
			Error:         "HTTP 500",
			CreatedAt:     now.Add(time.Duration(number) * time.Second),
		}); err != nil {
			t.Fatalf("append attempt %d: %v", number, err)
		}
	}
	err := store.AppendAttempt(ctx, core.DeliveryAttempt{ID: uuid.NewString(), DeliveryID: first.ID, AttemptNumber: 2, CreatedAt: now})
	if !isTextCode(err, core.OutboundErrorInvalidTransition) {
		t.Fatalf("expected sequence violation, got %v", err)
	}
	err = store.AppendAttempt(ctx, core.DeliveryAttempt{ID: uuid.NewString(), DeliveryID: uuid.NewString(), AttemptNumber: 1, CreatedAt: now})
	if !isTextCode(err, core.OutboundErrorNotFound) {
		t.Fatalf("expected missing delivery, got %v", err)
	}
	if err := store.AppendAttempt(ctx, core.DeliveryAttempt{ID: uuid.NewString(), DeliveryID: second.ID, AttemptNumber: 1, Success: true, CreatedAt: now}); err != nil {
		t.Fatalf("append second delivery attempt: %v", err)
	}

	attempts, err := store.ListAttempts(ctx, first.ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 || attempts[0].AttemptNumber != 1 || attempts[1].AttemptNumber != 2 {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
	if attempts[0].StatusCode == nil || *attempts[0].StatusCode != 500 {
		t.Fatalf("expected status code on attempt")
	}

	grouped, err := store.ListAttemptsForDeliveries(ctx, []string{first.ID, second.ID, " "})
	if err != nil {
		t.Fatalf("list attempts for deliveries: %v", err)
	}
	if len(grouped[first.ID]) != 2 || len(grouped[second.ID]) != 1 || !grouped[second.ID][0].Success {
		t.Fatalf("unexpected grouped attempts %#v", grouped)
	}
}

func TestDeliveryStore_ClaimDueLeasesEachRowOnce(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).DeliveryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	due := newDelivery("proj_1", core.ConnectorTypeWebhook, "", now.Add(-time.Minute))
	later := newDelivery("proj_1", core.ConnectorTypeWebhook, "", now.Add(-2*time.Minute))
	future := now.Add(time.Hour)
	later.Status = core.DeliveryStatusRetrying
	later.NextAttemptAt = &future
	delivered := newDelivery("proj_1", core.ConnectorTypeWebhook, "", now.Add(-3*time.Minute))
	delivered.Status = core.DeliveryStatusDelivered
	otherProject := newDelivery("proj_2", core.ConnectorTypeWebhook, "", now.Add(-time.Minute))
	for _, delivery := range []core.Delivery{due, later, delivered, otherProject} {
		if _, _, err := store.CreateDelivery(ctx, delivery); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	claimRequest := core.ClaimRequest{
		ProjectID:     "proj_1",
		ConnectorType: core.ConnectorTypeWebhook,
		Limit:         10,
		Owner:         "worker-a",
		Lease:         time.Minute,
		Now:           now,
	}
	claimed, err := store.ClaimDue(ctx, claimRequest)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID || claimed[0].ClaimedBy != "worker-a" {
		t.Fatalf("expected only the due delivery claimed, got %+v", claimed)
	}

	counts, err := store.CountByStatus(ctx, "proj_1", core.ConnectorTypeWebhook, now)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Queued != 1 || counts.Retrying != 1 || counts.Delivered != 1 || counts.DueNow != 0 {
		t.Fatalf("unexpected counts while leased %+v", counts)
	}

	claimRequest.Owner = "worker-b"
	again, err := store.ClaimDue(ctx, claimRequest)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected leased row to be skipped, got %+v", again)
	}

	claimRequest.Now = now.Add(2 * time.Minute)
	expired, err := store.ClaimDue(ctx, claimRequest)
	if err != nil {
		t.Fatalf("claim after lease expiry: %v", err)
	}
	if len(expired) != 1 || expired[0].ClaimedBy != "worker-b" {
		t.Fatalf("expected expired lease to be reclaimed, got %+v", expired)
	}
}

func TestDeliveryStore_ClaimDueSingleDelivery(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).DeliveryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := newDelivery("proj_1", core.ConnectorTypeWebhook, "", now.Add(-2*time.Minute))
	second := newDelivery("proj_1", core.ConnectorTypeWebhook, "", now.Add(-time.Minute))
	for _, delivery := range []core.Delivery{first, second} {
		if _, _, err := store.CreateDelivery(ctx, delivery); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	request := core.ClaimRequest{
		ProjectID:     "proj_1",
		ConnectorType: core.ConnectorTypeWebhook,
		DeliveryID:    second.ID,
		Limit:         1,
		Owner:         "worker-sync",
		Lease:         time.Minute,
		Now:           now,
	}
	claimed, err := store.ClaimDue(ctx, request)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != second.ID || claimed[0].ClaimedBy != "worker-sync" {
		t.Fatalf("expected only the named delivery claimed, got %+v", claimed)
	}

	request.Owner = "worker-process"
	again, err := store.ClaimDue(ctx, request)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected the leased delivery to be skipped, got %+v", again)
	}

	untouched, err := store.GetDelivery(ctx, first.ID)
	if err != nil || untouched.ClaimedBy != "" {
		t.Fatalf("expected other deliveries left unclaimed, got %+v err=%v", untouched, err)
	}
}

func TestDeliveryStore_ListDeliveriesFilters(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).DeliveryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	statuses := []core.DeliveryStatus{
		core.DeliveryStatusDeadLettered,
		core.DeliveryStatusDelivered,
		core.DeliveryStatusDeadLettered,
		core.DeliveryStatusQueued,
	}
	ids := make([]string, 0, len(statuses))
	for index, status := range statuses {
		delivery := newDelivery("proj_1", core.ConnectorTypeDB, "", base.Add(time.Duration(index)*time.Minute))
		delivery.Status = status
		ids = append(ids, delivery.ID)
		if _, _, err := store.CreateDelivery(ctx, delivery); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	deadLettered, err := store.ListDeliveries(ctx, core.DeliveryFilter{
		ProjectID:     "proj_1",
		ConnectorType: core.ConnectorTypeDB,
		Statuses:      []core.DeliveryStatus{core.DeliveryStatusDeadLettered},
		Order:         core.DeliveryOrderOldestUpdate,
	})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(deadLettered) != 2 || deadLettered[0].ID != ids[0] || deadLettered[1].ID != ids[2] {
		t.Fatalf("unexpected dead letters %+v", deadLettered)
	}

	since := base.Add(90 * time.Second)
	recent, err := store.ListDeliveries(ctx, core.DeliveryFilter{
		ProjectID:    "proj_1",
		UpdatedSince: &since,
		Order:        core.DeliveryOrderNewestUpdate,
		Limit:        1,
	})
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != ids[3] {
		t.Fatalf("expected newest delivery only, got %+v", recent)
	}
}

func TestAuditStore_RedactsMetadata(t *testing.T) {
	ctx := context.Background()
	audit := newFactory(t).AuditStore()

	if err := audit.Record(ctx, core.AuditRecord{
		EventType: core.AuditEventDeliveryQueued,
		Actor:     "api",
		ProjectID: "proj_1",
		Metadata: map[string]any{
			"delivery_id": "d1",
			"config":      map[string]any{"api_token": "secret", "base_url": "https://x"},
		},
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := audit.Record(ctx, core.AuditRecord{EventType: core.AuditEventGuardianAction, ProjectID: "proj_2"}); err != nil {
		t.Fatalf("record second: %v", err)
	}
	if err := audit.Record(ctx, core.AuditRecord{}); err == nil {
		t.Fatalf("expected missing event type error")
	}

	records, err := audit.List(ctx, sqlstore.AuditFilter{ProjectID: "proj_1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Actor != "api" || records[0].Metadata["delivery_id"] != "d1" {
		t.Fatalf("unexpected audit records %+v", records)
	}
	config, ok := records[0].Metadata["config"].(map[string]any)
	if !ok || config["api_token"] != core.RedactedValue || config["base_url"] != "https://x" {
		t.Fatalf("expected redacted config metadata, got %#v", records[0].Metadata["config"])
	}
}

func TestCooldownStore_TracksLatestActionPerKey(t *testing.T) {
	ctx := context.Background()
	cooldowns := newFactory(t).CooldownStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, found, err := cooldowns.LastAction(ctx, "proj_1", core.ConnectorTypeSQS, core.GuardianActionProcessQueue); err != nil || found {
		t.Fatalf("expected no action yet, found=%v err=%v", found, err)
	}
	for _, offset := range []time.Duration{0, 5 * time.Minute} {
		if err := cooldowns.RecordAction(ctx, core.ActionRecord{
			ProjectID:     "proj_1",
			ConnectorType: core.ConnectorTypeSQS,
			Action:        core.GuardianActionProcessQueue,
			Actor:         guardian.DefaultActor,
			AffectedCount: 3,
			CreatedAt:     now.Add(offset),
		}); err != nil {
			t.Fatalf("record action: %v", err)
		}
	}
	last, found, err := cooldowns.LastAction(ctx, "proj_1", core.ConnectorTypeSQS, core.GuardianActionProcessQueue)
	if err != nil || !found || !last.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("expected latest action, got %s found=%v err=%v", last, found, err)
	}
	if _, found, _ := cooldowns.LastAction(ctx, "proj_1", core.ConnectorTypeSQS, core.GuardianActionRedriveDeadLetters); found {
		t.Fatalf("expected actions to be keyed per action type")
	}
	if err := cooldowns.RecordAction(ctx, core.ActionRecord{ProjectID: "proj_1", ConnectorType: "ftp"}); err == nil {
		t.Fatalf("expected invalid connector type error")
	}
}

func TestGuardianPolicyStore_UpsertGetListDelete(t *testing.T) {
	ctx := context.Background()
	policies := newFactory(t).GuardianPolicyStore()

	if _, found, err := policies.ConnectorGuardianPolicy(ctx, "proj_1"); err != nil || found {
		t.Fatalf("expected no policy, found=%v err=%v", found, err)
	}
	if _, err := policies.Upsert(ctx, "proj_1", guardian.Policy{
		Enabled:                true,
		RiskThreshold:          30,
		AllowedRecommendations: []string{core.RecommendationProcessQueue},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := policies.Upsert(ctx, "proj_1", guardian.Policy{
		Enabled:                false,
		RiskThreshold:          45.5,
		CooldownMinutes:        20,
		AllowedRecommendations: []string{core.RecommendationRedriveDeadLetters},
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	policy, found, err := policies.ConnectorGuardianPolicy(ctx, "proj_1")
	if err != nil || !found {
		t.Fatalf("expected policy, found=%v err=%v", found, err)
	}
	if policy.Enabled || policy.RiskThreshold != 45.5 || policy.CooldownMinutes != 20 {
		t.Fatalf("expected replaced policy, got %+v", policy)
	}
	if len(policy.AllowedRecommendations) != 1 || policy.AllowedRecommendations[0] != core.RecommendationRedriveDeadLetters {
		t.Fatalf("unexpected allowed recommendations %#v", policy.AllowedRecommendations)
	}
	if _, err := policies.Upsert(ctx, "proj_2", guardian.Policy{AllowedRecommendations: []string{core.RecommendationHealthy}}); err == nil {
		t.Fatalf("expected healthy recommendation to be rejected")
	}

	all, err := policies.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one policy, got %d err=%v", len(all), err)
	}
	if err := policies.Delete(ctx, "proj_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := policies.ConnectorGuardianPolicy(ctx, "proj_1"); found {
		t.Fatalf("expected policy removed")
	}
}

func TestGuardianPolicyStore_StoredZerosResolveAsSet(t *testing.T) {
	ctx := context.Background()
	policies := newFactory(t).GuardianPolicyStore()
	if _, err := policies.Upsert(ctx, "proj_zero", guardian.Policy{
		Enabled:              true,
		RiskThreshold:        0,
		MinDeadLetterMinutes: 0,
		CooldownMinutes:      0,
		ActionLimit:          10,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	actions := &recordingRedriveActions{}
	guard, err := guardian.New(actions, guardian.Config{
		ProjectIDs: []string{"proj_zero"},
		Defaults:   guardian.DefaultPolicy(core.DefaultConfig().Guardian),
	}, guardian.WithPolicySource(policies))
	if err != nil {
		t.Fatalf("new guardian: %v", err)
	}
	report, err := guard.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.ActionedCount != 1 || len(actions.redrives) != 1 {
		t.Fatalf("expected the low-risk connector to be actioned, got %+v", report)
	}
	call := actions.redrives[0]
	if call.MinDeadLetterMinutes != 0 || call.CooldownMinutes != 0 || call.Limit != 10 {
		t.Fatalf("expected stored policy values, got %+v", call)
	}
}

type recordingRedriveActions struct {
	redrives []core.RedriveRequest
}

func (a *recordingRedriveActions) Reliability(_ context.Context, req core.ReliabilityRequest) (core.ReliabilityResult, error) {
	return core.ReliabilityResult{
		ProjectID: req.ProjectID,
		Connectors: []core.RankedItem{{
			ConnectorType:  core.ConnectorTypeWebhook,
			RiskScore:      3,
			Recommendation: core.RecommendationRedriveDeadLetters,
		}},
	}, nil
}

func (a *recordingRedriveActions) Process(context.Context, core.ProcessRequest) (core.ProcessResult, error) {
	return core.ProcessResult{}, nil
}

func (a *recordingRedriveActions) Redrive(_ context.Context, req core.RedriveRequest) (core.RedriveResult, error) {
	a.redrives = append(a.redrives, req)
	return core.RedriveResult{RedrivenCount: 1}, nil
}

func TestServiceOverSQLiteStores(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	adapter := &sequenceAdapter{statuses: []int{503, 200}}
	svc, err := core.NewService(core.Config{},
		core.WithStoreProvider(factory),
		core.WithAdapterResolver(adapter),
		core.WithWaitFunc(func(context.Context, time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	request := core.DeliverRequest{
		ProjectID:      "proj_1",
		ConnectorType:  core.ConnectorTypeWebhook,
		Payload:        map[string]any{"event": "deploy.finished"},
		IdempotencyKey: "evt-42",
		Config:         core.ConnectorConfig{"url": "https://hooks.example.com/outbound"},
		Mode:           core.DeliveryModeSync,
	}
	result, err := svc.Deliver(ctx, request)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if result.Delivery.Status != core.DeliveryStatusDelivered || len(result.Attempts) != 2 {
		t.Fatalf("expected delivery after one retry, got %+v", result)
	}

	replay, err := svc.Deliver(ctx, request)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Duplicate || replay.Delivery.ID != result.Delivery.ID || adapter.calls != 2 {
		t.Fatalf("expected duplicate without dispatch, got %+v calls=%d", replay, adapter.calls)
	}

	attempts, err := factory.DeliveryStore().ListAttempts(ctx, result.Delivery.ID)
	if err != nil || len(attempts) != 2 {
		t.Fatalf("expected persisted attempts, got %d err=%v", len(attempts), err)
	}
	events, err := factory.AuditStore().List(ctx, sqlstore.AuditFilter{ProjectID: "proj_1", EventType: core.AuditEventDeliveryDelivered})
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one delivered audit event, got %d err=%v", len(events), err)
	}
}

type sequenceAdapter struct {
	statuses []int
	calls    int
}

func (a *sequenceAdapter) Adapter(core.ConnectorType) (core.ConnectorAdapter, error) {
	return a, nil
}

func (a *sequenceAdapter) Type() core.ConnectorType            { return core.ConnectorTypeWebhook }
func (a *sequenceAdapter) Validate(core.ConnectorConfig) error { return nil }

func (a *sequenceAdapter) Dispatch(context.Context, map[string]any, core.ConnectorConfig) core.DeliveryResult {
	status := a.statuses[min(a.calls, len(a.statuses)-1)]
	a.calls++
	result := core.DeliveryResult{StatusCode: &status, Success: status < 300}
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("HTTP %d", status)
	}
	return result
}

func newDelivery(projectID string, connectorType core.ConnectorType, key string, at time.Time) core.Delivery {
	return core.Delivery{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		ConnectorType:  connectorType,
		IdempotencyKey: key,
		PayloadHash:    "hash",
		Payload:        map[string]any{"event": "ticket.created"},
		Status:         core.DeliveryStatusQueued,
		MaxAttempts:    3,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func isTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == textCode
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:outbound-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	cfg := sqlstore.PersistenceConfig{
		Driver:         sqlstore.DriverSQLite,
		DSN:            dsn,
		PingTimeout:    time.Second,
		OtelIdentifier: "go-outbound-tests",
	}
	client, err := sqlstore.Open(cfg)
	if err != nil {
		t.Fatalf("open sqlite client: %v", err)
	}
	if err := sqlstore.Migrate(context.Background(), client, cfg.Driver); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}
	return client, func() {
		_ = client.Close()
	}
}
