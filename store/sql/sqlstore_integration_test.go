package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-square-bff/core"
	bffmigrations "github.com/goliatone/go-square-bff/migrations"
	"github.com/goliatone/go-square-bff/security"
	sqlstore "github.com/goliatone/go-square-bff/store/sql"
	"github.com/goliatone/go-square-bff/webhooks"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "square-bff-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"merchant_credentials", "webhook_events", "audit_entries"} {
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

func TestCredentialStore_CreateIsConditional(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.CredentialStore()

	first, err := store.Create(ctx, core.CredentialInput{
		MerchantID:   "MLR1",
		AccessToken:  "EAAA-first",
		RefreshToken: "EQAA-first",
		ExpiresAt:    time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.TTL != first.CreatedAt.Add(core.DefaultCredentialTTL).Unix() {
		t.Fatalf("expected ttl one year after creation, got %d", first.TTL)
	}

	_, err = store.Create(ctx, core.CredentialInput{MerchantID: "MLR1", AccessToken: "EAAA-second"})
	if !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if !core.HasTextCode(err, core.ErrorCredentialExists) {
		t.Fatalf("expected credential exists text code, got %q", core.TextCode(err))
	}

	stored, err := store.Get(ctx, "MLR1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.AccessToken != "EAAA-first" || stored.RefreshToken != "EQAA-first" {
		t.Fatalf("expected first record to survive, got %#v", stored)
	}
	if !stored.ExpiresAt.Equal(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expires_at %s", stored.ExpiresAt)
	}
}

func TestCredentialStore_UpdateMissingWritesNothing(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.CredentialStore()

	_, err := store.Update(ctx, core.CredentialInput{MerchantID: "ghost", AccessToken: "EAAA"})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no rows after failed update, got %d", len(list))
	}
}

func TestCredentialStore_UpdateRewritesTokenTriple(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.CredentialStore()

	created, err := store.Create(ctx, core.CredentialInput{MerchantID: "MLR2", AccessToken: "EAAA-1", RefreshToken: "EQAA-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := store.Update(ctx, core.CredentialInput{
		MerchantID:   "MLR2",
		AccessToken:  "EAAA-2",
		RefreshToken: "EQAA-2",
		ExpiresAt:    time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("expected created_at to be preserved, got %s want %s", updated.CreatedAt, created.CreatedAt)
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) || updated.TTL < created.TTL {
		t.Fatalf("expected updated_at and ttl to move forward: %#v", updated)
	}

	stored, err := store.Get(ctx, "MLR2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.AccessToken != "EAAA-2" || stored.RefreshToken != "EQAA-2" {
		t.Fatalf("expected rewritten tokens, got %#v", stored)
	}
	if !stored.ExpiresAt.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected rewritten expiry, got %s", stored.ExpiresAt)
	}
}

func TestCredentialStore_ListDeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.CredentialStore()

	for _, id := range []string{"MLR9", "MLR7", "MLR8"} {
		if _, err := store.Create(ctx, core.CredentialInput{MerchantID: id, AccessToken: "EAAA-" + id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].MerchantID != "MLR7" || list[1].MerchantID != "MLR8" {
		t.Fatalf("expected first two merchants in id order, got %#v", list)
	}

	if err := store.Delete(ctx, "MLR7"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "MLR7"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
	if _, err := store.Get(ctx, "MLR7"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected deleted merchant to be gone, got %v", err)
	}

	purged, err := factory.SQLCredentialStore().PurgeExpired(ctx, time.Now().AddDate(2, 0, 0))
	if err != nil {
		t.Fatalf("purge expired: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected two rows past their ttl, got %d", purged)
	}
}

func TestCredentialStore_EncryptsTokensAtRest(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	secrets, err := security.NewAppKeySecretProviderFromString("test-credential-encryption-key")
	if err != nil {
		t.Fatalf("new secret provider: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretProvider(secrets))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.CredentialStore()
	if _, err := store.Create(ctx, core.CredentialInput{MerchantID: "MLR5", AccessToken: "EAAA-plain", RefreshToken: "EQAA-plain"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var raw []byte
	var encrypted bool
	if err := client.DB().NewRaw(
		"SELECT access_token, encrypted FROM merchant_credentials WHERE merchant_id = ?",
		"MLR5",
	).Scan(ctx, &raw, &encrypted); err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if !encrypted || string(raw) == "EAAA-plain" {
		t.Fatalf("expected sealed access token at rest, got encrypted=%v raw=%q", encrypted, raw)
	}

	stored, err := store.Get(ctx, "MLR5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.AccessToken != "EAAA-plain" || stored.RefreshToken != "EQAA-plain" {
		t.Fatalf("expected decrypted tokens, got %#v", stored)
	}

	plain, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new plain factory: %v", err)
	}
	if _, err := plain.CredentialStore().Get(ctx, "MLR5"); err == nil {
		t.Fatalf("expected sealed row to be unreadable without a secret provider")
	}
}

func TestCredentialStore_ResealsRetiredKeyOnRead(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	oldKey, err := security.NewAppKeySecretProviderFromString("first-key", security.WithVersion(1))
	if err != nil {
		t.Fatalf("new old provider: %v", err)
	}
	oldFactory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretProvider(oldKey))
	if err != nil {
		t.Fatalf("new old factory: %v", err)
	}
	if _, err := oldFactory.SQLCredentialStore().Create(ctx, core.CredentialInput{MerchantID: "MLR6", AccessToken: "EAAA-old", RefreshToken: "EQAA-old"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	retired, err := security.RetiredKeyOptions("app-key", []string{"1:first-key"})
	if err != nil {
		t.Fatalf("retired keys: %v", err)
	}
	rotated, err := security.NewAppKeySecretProviderFromString("second-key", append(retired, security.WithVersion(2))...)
	if err != nil {
		t.Fatalf("new rotated provider: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretProvider(rotated))
	if err != nil {
		t.Fatalf("new rotated factory: %v", err)
	}
	stored, err := factory.SQLCredentialStore().Get(ctx, "MLR6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.AccessToken != "EAAA-old" || stored.RefreshToken != "EQAA-old" {
		t.Fatalf("expected tokens sealed under the retired key to open, got %#v", stored)
	}

	var access, refresh []byte
	if err := client.DB().NewRaw(
		"SELECT access_token, refresh_token FROM merchant_credentials WHERE merchant_id = ?",
		"MLR6",
	).Scan(ctx, &access, &refresh); err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	for name, value := range map[string][]byte{"access_token": access, "refresh_token": refresh} {
		meta, err := security.ParseEnvelopeMetadata(value)
		if err != nil {
			t.Fatalf("parse %s envelope: %v", name, err)
		}
		if meta.Version != 2 {
			t.Fatalf("expected %s resealed under version 2, got %d", name, meta.Version)
		}
	}
	if _, err := oldFactory.SQLCredentialStore().Get(ctx, "MLR6"); err == nil {
		t.Fatalf("expected the old key alone to no longer open the resealed row")
	}
}

func TestCredentialStore_ConcurrentCreateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.CredentialStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Create(ctx, core.CredentialInput{MerchantID: "MLR6", AccessToken: fmt.Sprintf("EAAA-%d", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, core.ErrAlreadyExists):
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || conflicts != 7 {
		t.Fatalf("expected one winner and seven conflicts, got wins=%d conflicts=%d", wins, conflicts)
	}
}

func TestWebhookEventStore_IndexAndScanAgree(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.WebhookEventStore()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"webhook-1", "webhook-2", "webhook-3"} {
		if _, err := store.Insert(ctx, core.WebhookEvent{
			ID:        id,
			EventType: "order.updated",
			EventID:   "evt_same",
			Payload:   []byte(`{"n":` + fmt.Sprint(i) + `}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, err := store.Insert(ctx, core.WebhookEvent{ID: "webhook-1", EventType: "order.updated", EventID: "evt_other"}); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected duplicate record id to be rejected, got %v", err)
	}

	latest, found, err := store.FindLatestByEventID(ctx, "evt_same")
	if err != nil || !found {
		t.Fatalf("find latest: found=%v err=%v", found, err)
	}
	if latest.ID != "webhook-3" || latest.Status != core.WebhookEventStatusPending {
		t.Fatalf("expected newest pending record, got %#v", latest)
	}

	scanned, err := store.ScanByEventID(ctx, "evt_same")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(scanned) != 3 {
		t.Fatalf("expected three deliveries, got %d", len(scanned))
	}
	fromScan, ok := webhooks.LatestEvent(scanned)
	if !ok || fromScan.ID != latest.ID {
		t.Fatalf("expected scan and index to resolve the same record, got %q vs %q", fromScan.ID, latest.ID)
	}

	if _, found, err := store.FindLatestByEventID(ctx, "evt_missing"); err != nil || found {
		t.Fatalf("expected no match for unknown event, found=%v err=%v", found, err)
	}
}

func TestWebhookEventStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.WebhookEventStore()

	if _, err := store.Insert(ctx, core.WebhookEvent{ID: "webhook-s1", EventType: "order.created", EventID: "evt_s1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	processedAt := time.Date(2026, 10, 1, 12, 0, 5, 0, time.UTC)
	if err := store.UpdateStatus(ctx, "webhook-s1", core.WebhookEventStatusFailed, "boom", &processedAt); err != nil {
		t.Fatalf("update status: %v", err)
	}
	stored, err := store.Get(ctx, "webhook-s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.WebhookEventStatusFailed || stored.ErrorMessage != "boom" {
		t.Fatalf("unexpected stored status: %#v", stored)
	}
	if stored.ProcessedAt == nil || !stored.ProcessedAt.Equal(processedAt) {
		t.Fatalf("expected processed_at %s, got %v", processedAt, stored.ProcessedAt)
	}

	if err := store.UpdateStatus(ctx, "webhook-missing", core.WebhookEventStatusProcessed, "", nil); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for unknown record, got %v", err)
	}
	if err := store.UpdateStatus(ctx, "webhook-s1", core.WebhookEventStatus("archived"), "", nil); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func TestWebhookEventStore_ScanReturnsEveryDelivery(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.WebhookEventStore()

	base := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		if _, err := store.Insert(ctx, core.WebhookEvent{
			ID:        fmt.Sprintf("webhook-%02d", i),
			EventType: "inventory.count.updated",
			EventID:   "evt_redelivered",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("insert delivery %d: %v", i, err)
		}
	}

	latest, found, err := store.FindLatestByEventID(ctx, "evt_redelivered")
	if err != nil || !found {
		t.Fatalf("find latest: found=%v err=%v", found, err)
	}
	scanned, err := store.ScanByEventID(ctx, "evt_redelivered")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(scanned) != 30 {
		t.Fatalf("expected all 30 deliveries, got %d", len(scanned))
	}
	fromScan, _ := webhooks.LatestEvent(scanned)
	if latest.ID != "webhook-29" || fromScan.ID != latest.ID {
		t.Fatalf("expected index and scan to resolve webhook-29, got index=%q scan=%q", latest.ID, fromScan.ID)
	}
	if len(scanned[0].Payload) != 0 {
		t.Fatalf("expected absent payload to read back empty, got %#v", scanned[0].Payload)
	}
}

func TestCredentialStore_ListWithoutLimitReturnsEveryRow(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.SQLCredentialStore()

	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("MLR%02d", i)
		if _, err := store.Create(ctx, core.CredentialInput{MerchantID: id, AccessToken: "EAAA-" + id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 30 {
		t.Fatalf("expected 30 credentials, got %d", len(all))
	}
	page, err := store.List(ctx, 5)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 5 || page[4].MerchantID != "MLR04" {
		t.Fatalf("expected first five merchants, got %d", len(page))
	}
}

func TestWebhookEngine_PersistsThroughSQLStore(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	registry := webhooks.NewRegistry()
	if err := webhooks.RegisterBuiltins(registry, nil, nil); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	engine := webhooks.NewEngine(webhooks.NewHMACVerifier("whsec_sql"), factory.WebhookEventStore(), registry)

	body := []byte(`{"merchant_id":"MLR1","type":"inventory.count.updated","event_id":"evt_sql_1","data":{"type":"inventory_counts","id":"x","object":{"inventory_counts":[{"catalog_object_id":"ITEM1","quantity":"3"}]}}}`)
	result, err := engine.Receive(ctx, body, webhooks.Sign("whsec_sql", body))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.StatusCode != http.StatusOK || result.Status != core.WebhookEventStatusProcessed {
		t.Fatalf("expected processed 200, got %#v", result)
	}

	if _, err := engine.Receive(ctx, body, webhooks.Sign("whsec_sql", body)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	records, err := factory.WebhookEventStore().ScanByEventID(ctx, "evt_sql_1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected redelivery to insert a second record, got %d", len(records))
	}

	updated, ok := engine.UpdateStatusByEventID(ctx, "evt_sql_1", core.WebhookEventStatusProcessed, "")
	if !ok || updated.Status != core.WebhookEventStatusProcessed {
		t.Fatalf("expected same-status update to keep processed, got %#v ok=%v", updated, ok)
	}

	rejected, err := engine.Receive(ctx, body, "bogus")
	if err == nil || rejected.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %#v err=%v", rejected, err)
	}
	records, _ = factory.WebhookEventStore().ScanByEventID(ctx, "evt_sql_1")
	if len(records) != 2 {
		t.Fatalf("expected rejected delivery to store nothing, got %d records", len(records))
	}
}

func TestAuditStore_RecordAndFilter(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	audit := factory.AuditStore()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	entries := []core.AuditEntry{
		{Action: core.AuditActionOAuthCallback, Outcome: core.AuditOutcomeSuccess, FlowState: core.FlowStatePersisted, MerchantID: "MLR1", CreatedAt: base},
		{
			Action:    core.AuditActionWebhookRejected,
			Outcome:   core.AuditOutcomeFailure,
			Security:  true,
			ErrorCode: core.ErrorSignatureInvalid,
			Metadata:  map[string]any{"signature": "abc", "event_id": "evt_1"},
			CreatedAt: base.Add(time.Second),
		},
		{Action: core.AuditActionOAuthCallback, Outcome: core.AuditOutcomeFailure, FlowState: core.FlowStateFailed, MerchantID: "MLR2", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, entry := range entries {
		if err := audit.Record(ctx, entry); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	callbacks, err := audit.ListAudit(ctx, core.AuditFilter{Action: core.AuditActionOAuthCallback})
	if err != nil {
		t.Fatalf("list callbacks: %v", err)
	}
	if len(callbacks) != 2 || callbacks[0].MerchantID != "MLR2" {
		t.Fatalf("expected newest callback first, got %#v", callbacks)
	}
	if callbacks[0].ID == "" || callbacks[0].FlowState != core.FlowStateFailed {
		t.Fatalf("expected id and flow state to round trip, got %#v", callbacks[0])
	}

	security, err := audit.ListAudit(ctx, core.AuditFilter{SecurityOnly: true})
	if err != nil {
		t.Fatalf("list security: %v", err)
	}
	if len(security) != 1 {
		t.Fatalf("expected one security entry, got %d", len(security))
	}
	if security[0].Metadata["signature"] != core.RedactedValue || security[0].Metadata["event_id"] != "evt_1" {
		t.Fatalf("expected redacted signature and kept event id, got %#v", security[0].Metadata)
	}

	byMerchant, err := audit.ListAudit(ctx, core.AuditFilter{MerchantID: "MLR1", Limit: 5})
	if err != nil {
		t.Fatalf("list by merchant: %v", err)
	}
	if len(byMerchant) != 1 || byMerchant[0].Outcome != core.AuditOutcomeSuccess {
		t.Fatalf("unexpected merchant filter result: %#v", byMerchant)
	}

	if err := audit.Record(ctx, core.AuditEntry{}); err == nil {
		t.Fatalf("expected entry without action to be rejected")
	}
}

func TestRepositoryFactory_RejectsUnsupportedClient(t *testing.T) {
	if _, err := sqlstore.NewRepositoryFactoryFromDB(nil); err == nil {
		t.Fatalf("expected nil db to be rejected")
	}
	if err := sqlstore.NewRepositoryFactory().BuildStores(struct{}{}); err == nil {
		t.Fatalf("expected unsupported client type to be rejected")
	}
}

func newFactory(t *testing.T) (*sqlstore.RepositoryFactory, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, cleanup
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:square-bff-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = bffmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != bffmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, bffmigrations.WithValidationTargets(bffmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
