package webhooks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-square-bff/core"
)

const testSigningKey = "whsec_engine"

type capturedSecurityEvent struct {
	action   string
	cause    error
	metadata map[string]any
}

type captureSecurityRecorder struct {
	mu     sync.Mutex
	events []capturedSecurityEvent
}

func (r *captureSecurityRecorder) RecordSecurityEvent(_ context.Context, action string, cause error, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, capturedSecurityEvent{action: action, cause: cause, metadata: metadata})
}

type stubForgetter struct {
	merchants []string
	err       error
}

func (f *stubForgetter) ForgetCredential(_ context.Context, merchantID string) error {
	f.merchants = append(f.merchants, merchantID)
	return f.err
}

type engineFixture struct {
	engine    *Engine
	store     *MemoryEventStore
	security  *captureSecurityRecorder
	forgetter *stubForgetter
	now       time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		store:     NewMemoryEventStore(),
		security:  &captureSecurityRecorder{},
		forgetter: &stubForgetter{},
		now:       time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	registry := NewRegistry()
	if err := RegisterBuiltins(registry, nil, fx.forgetter); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	fx.engine = NewEngine(NewHMACVerifier(testSigningKey), fx.store, registry)
	fx.engine.Security = fx.security
	fx.engine.Now = func() time.Time { return fx.now }
	return fx
}

func (fx *engineFixture) deliver(t *testing.T, body string) (Result, error) {
	t.Helper()
	return fx.engine.Receive(context.Background(), []byte(body), Sign(testSigningKey, []byte(body)))
}

const inventoryBody = `{"merchant_id":"MLR1","type":"inventory.count.updated","event_id":"evt_inv_1","created_at":"2026-10-01T11:59:00Z","data":{"type":"inventory_counts","id":"x","object":{"inventory_counts":[{"catalog_object_id":"ITEM1","location_id":"L1","quantity":"5","state":"IN_STOCK"}]}}}`

func TestEngine_ProcessesKnownEvent(t *testing.T) {
	fx := newEngineFixture(t)

	result, err := fx.deliver(t, inventoryBody)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected accepted 200, got %#v", result)
	}
	if result.Status != core.WebhookEventStatusProcessed {
		t.Fatalf("expected processed status, got %q", result.Status)
	}

	stored, err := fx.store.Get(context.Background(), result.RecordID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if stored.Status != core.WebhookEventStatusProcessed || stored.ProcessedAt == nil {
		t.Fatalf("expected processed record with timestamp, got %#v", stored)
	}
	if stored.EventID != "evt_inv_1" || stored.MerchantID != "MLR1" {
		t.Fatalf("unexpected stored record: %#v", stored)
	}
	if string(stored.Payload) != inventoryBody {
		t.Fatalf("expected raw payload to be stored")
	}
	if stored.TTL != fx.now.Add(DefaultEventTTL).Unix() {
		t.Fatalf("unexpected ttl %d", stored.TTL)
	}
}

func TestEngine_InvalidSignatureStoresNothing(t *testing.T) {
	fx := newEngineFixture(t)

	result, err := fx.engine.Receive(context.Background(), []byte(inventoryBody), Sign("wrong", []byte(inventoryBody)))
	if !core.HasTextCode(err, core.ErrorSignatureInvalid) {
		t.Fatalf("expected signature invalid, got %v", err)
	}
	if result.Accepted || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected rejected 401, got %#v", result)
	}
	if fx.store.Len() != 0 {
		t.Fatalf("expected no record to be stored, got %d", fx.store.Len())
	}
	if len(fx.security.events) != 1 || fx.security.events[0].action != core.AuditActionWebhookRejected {
		t.Fatalf("expected one security event, got %#v", fx.security.events)
	}

	if _, err := fx.engine.Receive(context.Background(), []byte(inventoryBody), ""); !core.HasTextCode(err, core.ErrorSignatureInvalid) {
		t.Fatalf("expected missing signature to be rejected, got %v", err)
	}
}

func TestEngine_MalformedEnvelopeIsBadRequest(t *testing.T) {
	fx := newEngineFixture(t)

	result, err := fx.deliver(t, `{"type":"order.created"}`)
	if !core.HasTextCode(err, core.ErrorInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if result.StatusCode != http.StatusBadRequest || result.Accepted {
		t.Fatalf("expected rejected 400, got %#v", result)
	}
	if fx.store.Len() != 0 {
		t.Fatalf("expected nothing stored for malformed envelope")
	}
}

func TestEngine_UnknownTypeIsAcknowledged(t *testing.T) {
	fx := newEngineFixture(t)

	result, err := fx.deliver(t, `{"type":"loyalty.account.created","event_id":"evt_loyalty"}`)
	if err != nil {
		t.Fatalf("expected unknown type to be a no-op, got %v", err)
	}
	if !result.Accepted || result.Status != core.WebhookEventStatusProcessed {
		t.Fatalf("expected processed no-op, got %#v", result)
	}
}

func TestEngine_HandlerFailureIsAcknowledgedAndMarkedFailed(t *testing.T) {
	fx := newEngineFixture(t)

	result, err := fx.deliver(t, `{"type":"order.created","event_id":"evt_order","data":{"object":{}}}`)
	if !core.HasTextCode(err, core.ErrorHandlerFailed) {
		t.Fatalf("expected handler failure, got %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected handler failure to still be acknowledged, got %#v", result)
	}
	stored, _ := fx.store.Get(context.Background(), result.RecordID)
	if stored.Status != core.WebhookEventStatusFailed || stored.ErrorMessage == "" {
		t.Fatalf("expected failed record with message, got %#v", stored)
	}
}

func TestEngine_HandlerPanicIsContained(t *testing.T) {
	fx := newEngineFixture(t)
	if err := fx.engine.Registry.Register("test.panic", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := fx.deliver(t, `{"type":"test.panic","event_id":"evt_panic"}`)
	if !core.HasTextCode(err, core.ErrorHandlerFailed) {
		t.Fatalf("expected handler failure, got %v", err)
	}
	if result.Status != core.WebhookEventStatusFailed {
		t.Fatalf("expected failed status, got %q", result.Status)
	}
}

func TestEngine_RevocationForgetsCredential(t *testing.T) {
	fx := newEngineFixture(t)

	_, err := fx.deliver(t, `{"type":"oauth.authorization.revoked","merchant_id":"MLR9","event_id":"evt_rev","data":{"object":{"revocation":{"revoker_type":"MERCHANT"}}}}`)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(fx.forgetter.merchants) != 1 || fx.forgetter.merchants[0] != "MLR9" {
		t.Fatalf("expected credential for MLR9 to be forgotten, got %#v", fx.forgetter.merchants)
	}
}

func TestEngine_StorageFailureIsServerError(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.Store = failingInsertStore{MemoryEventStore: fx.store}

	result, err := fx.deliver(t, inventoryBody)
	if !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if result.StatusCode != http.StatusInternalServerError || result.Accepted {
		t.Fatalf("expected 500 to trigger redelivery, got %#v", result)
	}
}

func TestEngine_ReplayWindowRejectsStaleEvents(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.ReplayWindow = 30 * time.Second

	result, err := fx.deliver(t, inventoryBody)
	if !core.HasTextCode(err, core.ErrorInvalidRequest) {
		t.Fatalf("expected stale event to be rejected, got %v", err)
	}
	if result.StatusCode != http.StatusBadRequest || fx.store.Len() != 0 {
		t.Fatalf("expected 400 without storage, got %#v", result)
	}
}

func TestEngine_RedeliveryKeepsEarlierTerminalStatus(t *testing.T) {
	fx := newEngineFixture(t)

	first, err := fx.deliver(t, inventoryBody)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	fx.now = fx.now.Add(time.Second)
	second, err := fx.deliver(t, inventoryBody)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if first.RecordID == second.RecordID {
		t.Fatalf("expected redelivery to create a new record")
	}

	firstStored, _ := fx.store.Get(context.Background(), first.RecordID)
	processedAt := *firstStored.ProcessedAt

	updated, ok := fx.engine.UpdateStatusByEventID(context.Background(), "evt_inv_1", core.WebhookEventStatusProcessed, "")
	if !ok || updated.ID != second.RecordID {
		t.Fatalf("expected latest record to be resolved, got %#v ok=%v", updated, ok)
	}
	firstStored, _ = fx.store.Get(context.Background(), first.RecordID)
	if firstStored.Status != core.WebhookEventStatusProcessed || !firstStored.ProcessedAt.Equal(processedAt) {
		t.Fatalf("expected earlier record to keep its terminal status, got %#v", firstStored)
	}
}

func TestEngine_UpdateStatusFallsBackToScan(t *testing.T) {
	fx := newEngineFixture(t)

	delivered, err := fx.deliver(t, inventoryBody)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	viaIndex, ok := fx.engine.UpdateStatusByEventID(context.Background(), "evt_inv_1", core.WebhookEventStatusProcessed, "")
	if !ok {
		t.Fatalf("expected index lookup to resolve")
	}
	fx.store.IndexLagging = true
	viaScan, ok := fx.engine.UpdateStatusByEventID(context.Background(), "evt_inv_1", core.WebhookEventStatusFailed, "reconciled by operator")
	if !ok {
		t.Fatalf("expected scan fallback to resolve")
	}
	if viaIndex.ID != delivered.RecordID || viaScan.ID != delivered.RecordID {
		t.Fatalf("expected index and scan to resolve the same record")
	}
	stored, _ := fx.store.Get(context.Background(), delivered.RecordID)
	if stored.Status != core.WebhookEventStatusFailed || stored.ErrorMessage != "reconciled by operator" {
		t.Fatalf("expected explicit status change to apply, got %#v", stored)
	}
}

func TestEngine_UpdateStatusNeverFails(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.Store = brokenLookupStore{MemoryEventStore: fx.store}

	if _, ok := fx.engine.UpdateStatusByEventID(context.Background(), "evt_missing", core.WebhookEventStatusProcessed, ""); ok {
		t.Fatalf("expected unresolved update to report false")
	}
	if _, ok := fx.engine.UpdateStatusByEventID(context.Background(), "", "bogus", ""); ok {
		t.Fatalf("expected invalid input to report false")
	}
}

func TestEngine_FindByEventID(t *testing.T) {
	fx := newEngineFixture(t)
	if _, err := fx.engine.FindByEventID(context.Background(), "evt_inv_1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found before delivery, got %v", err)
	}
	if _, err := fx.deliver(t, inventoryBody); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	record, err := fx.engine.FindByEventID(context.Background(), "evt_inv_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.EventType != EventInventoryCountUpdated {
		t.Fatalf("unexpected record: %#v", record)
	}
}

func TestNewEventRecordID_Format(t *testing.T) {
	now := time.UnixMilli(1759320000123)
	id := NewEventRecordID(now)
	prefix := "webhook-1759320000123-"
	if len(id) != len(prefix)+12 || id[:len(prefix)] != prefix {
		t.Fatalf("unexpected id format %q", id)
	}
	if NewEventRecordID(now) == id {
		t.Fatalf("expected random suffix to differ")
	}
}

type failingInsertStore struct {
	*MemoryEventStore
}

func (failingInsertStore) Insert(context.Context, core.WebhookEvent) (core.WebhookEvent, error) {
	return core.WebhookEvent{}, errors.New("table unavailable")
}

type brokenLookupStore struct {
	*MemoryEventStore
}

func (brokenLookupStore) FindLatestByEventID(context.Context, string) (core.WebhookEvent, bool, error) {
	return core.WebhookEvent{}, false, errors.New("index unavailable")
}

func (brokenLookupStore) ScanByEventID(context.Context, string) ([]core.WebhookEvent, error) {
	return nil, errors.New("scan unavailable")
}
