package sqlstore

import (
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// newRepository wires a repository with no implicit list limit. List calls
// return every matching row unless they paginate themselves.
func newRepository[T any](db *bun.DB, handlers repository.ModelHandlers[T], name string) (repository.Repository[T], error) {
	repo := repository.NewRepositoryWithConfig[T](db, handlers, nil, repository.WithDefaultListPagination(0, 0))
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
		}
	}
	return repo, nil
}

// Merchant ids are issued by Square, so SetID never rewrites them.
func merchantCredentialHandlers() repository.ModelHandlers[*merchantCredentialRecord] {
	return repository.ModelHandlers[*merchantCredentialRecord]{
		NewRecord: func() *merchantCredentialRecord {
			return &merchantCredentialRecord{}
		},
		GetID: func(record *merchantCredentialRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.MerchantID)
		},
		SetID: func(*merchantCredentialRecord, uuid.UUID) {},
		GetIdentifier: func() string {
			return "merchant_id"
		},
		GetIdentifierValue: func(record *merchantCredentialRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.MerchantID)
		},
	}
}

func webhookEventHandlers() repository.ModelHandlers[*webhookEventRecord] {
	return repository.ModelHandlers[*webhookEventRecord]{
		NewRecord: func() *webhookEventRecord {
			return &webhookEventRecord{}
		},
		GetID: func(record *webhookEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(*webhookEventRecord, uuid.UUID) {},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *webhookEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func auditEntryHandlers() repository.ModelHandlers[*auditEntryRecord] {
	return repository.ModelHandlers[*auditEntryRecord]{
		NewRecord: func() *auditEntryRecord {
			return &auditEntryRecord{}
		},
		GetID: func(record *auditEntryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *auditEntryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *auditEntryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
