package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-square-bff/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultAuditListLimit = 100

// AuditStore writes the audit trail to its own table, apart from the
// application log.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, auditEntryHandlers(), "audit")
	if err != nil {
		return nil, err
	}
	return &AuditStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *AuditStore) Record(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	record := &auditEntryRecord{
		ID:         id,
		Action:     action,
		Outcome:    string(entry.Outcome),
		Security:   entry.Security,
		FlowState:  string(entry.FlowState),
		MerchantID: strings.TrimSpace(entry.MerchantID),
		StateHash:  strings.TrimSpace(entry.StateHash),
		ErrorCode:  strings.TrimSpace(entry.ErrorCode),
		Detail:     strings.TrimSpace(entry.Detail),
		Metadata:   core.RedactSensitiveMap(entry.Metadata),
		CreatedAt:  createdAt.UTC(),
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *AuditStore) ListAudit(ctx context.Context, filter core.AuditFilter) ([]core.AuditEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditListLimit
	}

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		selectors = append(selectors, repository.SelectBy("action", "=", action))
	}
	if merchantID := strings.TrimSpace(filter.MerchantID); merchantID != "" {
		selectors = append(selectors, repository.SelectBy("merchant_id", "=", merchantID))
	}
	if filter.SecurityOnly {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.security = ?", true)
		}))
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		out = append(out, auditRecordToDomain(record))
	}
	return out, nil
}

func auditRecordToDomain(record *auditEntryRecord) core.AuditEntry {
	if record == nil {
		return core.AuditEntry{}
	}
	metadata := make(map[string]any, len(record.Metadata))
	for key, value := range record.Metadata {
		metadata[key] = value
	}
	return core.AuditEntry{
		ID:         record.ID,
		Action:     record.Action,
		Outcome:    core.AuditOutcome(record.Outcome),
		Security:   record.Security,
		FlowState:  core.FlowState(record.FlowState),
		MerchantID: record.MerchantID,
		StateHash:  record.StateHash,
		ErrorCode:  record.ErrorCode,
		Detail:     record.Detail,
		Metadata:   metadata,
		CreatedAt:  record.CreatedAt.UTC(),
	}
}
