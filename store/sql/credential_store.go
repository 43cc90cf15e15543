package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-square-bff/core"
	"github.com/uptrace/bun"
)

// CredentialStore persists one row per merchant. Tokens are sealed with the
// configured SecretProvider before they reach the database.
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*merchantCredentialRecord]
	secrets core.SecretProvider
	ttl     time.Duration
	now     func() time.Time
}

func NewCredentialStore(db *bun.DB, secrets core.SecretProvider, ttl time.Duration) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, merchantCredentialHandlers(), "credential")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = core.DefaultCredentialTTL
	}
	return &CredentialStore{
		db:      db,
		repo:    repo,
		secrets: secrets,
		ttl:     ttl,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *CredentialStore) Create(ctx context.Context, in core.CredentialInput) (core.MerchantCredential, error) {
	if s == nil || s.db == nil {
		return core.MerchantCredential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return core.MerchantCredential{}, err
	}
	// Postgres and SQLite both keep microsecond timestamps.
	now := s.now().UTC().Truncate(time.Microsecond)

	record, err := s.sealRecord(ctx, in)
	if err != nil {
		return core.MerchantCredential{}, err
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	record.TTL = core.CredentialTTL(now, s.ttl)

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.MerchantCredential{}, core.AlreadyExistsError(in.MerchantID)
		}
		return core.MerchantCredential{}, err
	}
	return credentialFromInput(in, now, now, record.TTL), nil
}

// Update rewrites the token triple in a single statement. Zero affected rows
// means the merchant is unknown and nothing was written.
func (s *CredentialStore) Update(ctx context.Context, in core.CredentialInput) (core.MerchantCredential, error) {
	if s == nil || s.db == nil {
		return core.MerchantCredential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return core.MerchantCredential{}, err
	}
	now := s.now().UTC().Truncate(time.Microsecond)

	record, err := s.sealRecord(ctx, in)
	if err != nil {
		return core.MerchantCredential{}, err
	}
	ttl := core.CredentialTTL(now, s.ttl)

	var updated core.MerchantCredential
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, updateErr := tx.NewUpdate().
			Model((*merchantCredentialRecord)(nil)).
			Set("access_token = ?", record.AccessToken).
			Set("refresh_token = ?", record.RefreshToken).
			Set("encrypted = ?", record.Encrypted).
			Set("expires_at = ?", record.ExpiresAt).
			Set("updated_at = ?", now).
			Set("ttl = ?", ttl).
			Where("merchant_id = ?", in.MerchantID).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return core.NotFoundError("credential", in.MerchantID)
		}

		var createdAt time.Time
		if scanErr := tx.NewSelect().
			Model((*merchantCredentialRecord)(nil)).
			Column("created_at").
			Where("?TableAlias.merchant_id = ?", in.MerchantID).
			Scan(ctx, &createdAt); scanErr != nil {
			return scanErr
		}
		updated = credentialFromInput(in, createdAt.UTC(), now, ttl)
		return nil
	})
	if err != nil {
		return core.MerchantCredential{}, err
	}
	return updated, nil
}

func (s *CredentialStore) Get(ctx context.Context, merchantID string) (core.MerchantCredential, error) {
	if s == nil || s.db == nil {
		return core.MerchantCredential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return core.MerchantCredential{}, fmt.Errorf("sqlstore: merchant id is required")
	}

	record := &merchantCredentialRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.merchant_id = ?", merchantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.MerchantCredential{}, core.NotFoundError("credential", merchantID)
		}
		return core.MerchantCredential{}, err
	}
	credential, err := s.openRecord(ctx, record)
	if err != nil {
		return core.MerchantCredential{}, err
	}
	if err := s.resealRetired(ctx, record, credential); err != nil {
		return core.MerchantCredential{}, err
	}
	return credential, nil
}

func (s *CredentialStore) List(ctx context.Context, limit int) ([]core.MerchantCredential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("merchant_id ASC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.MerchantCredential, 0, len(records))
	for _, record := range records {
		credential, openErr := s.openRecord(ctx, record)
		if openErr != nil {
			return nil, openErr
		}
		out = append(out, credential)
	}
	return out, nil
}

func (s *CredentialStore) Delete(ctx context.Context, merchantID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*merchantCredentialRecord)(nil)).
		Where("merchant_id = ?", strings.TrimSpace(merchantID)).
		Exec(ctx)
	return err
}

// PurgeExpired removes rows whose ttl epoch is at or before now.
func (s *CredentialStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: credential store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*merchantCredentialRecord)(nil)).
		Where("ttl <= ?", now.UTC().Unix()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *CredentialStore) sealRecord(ctx context.Context, in core.CredentialInput) (*merchantCredentialRecord, error) {
	record := &merchantCredentialRecord{
		MerchantID:   in.MerchantID,
		AccessToken:  []byte(in.AccessToken),
		RefreshToken: []byte(in.RefreshToken),
	}
	if !in.ExpiresAt.IsZero() {
		expiresAt := in.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	if s.secrets == nil {
		return record, nil
	}

	access, err := s.secrets.Encrypt(ctx, record.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encrypt access token: %w", err)
	}
	refresh := []byte{}
	if len(record.RefreshToken) > 0 {
		refresh, err = s.secrets.Encrypt(ctx, record.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: encrypt refresh token: %w", err)
		}
	}
	record.AccessToken = access
	record.RefreshToken = refresh
	record.Encrypted = true
	return record, nil
}

func (s *CredentialStore) openRecord(ctx context.Context, record *merchantCredentialRecord) (core.MerchantCredential, error) {
	if record == nil {
		return core.MerchantCredential{}, nil
	}
	access := record.AccessToken
	refresh := record.RefreshToken
	if record.Encrypted {
		if s.secrets == nil {
			return core.MerchantCredential{}, fmt.Errorf(
				"sqlstore: credential for merchant %q is encrypted but no secret provider is configured",
				record.MerchantID,
			)
		}
		var err error
		access, err = s.secrets.Decrypt(ctx, record.AccessToken)
		if err != nil {
			return core.MerchantCredential{}, fmt.Errorf("sqlstore: decrypt access token: %w", err)
		}
		if len(record.RefreshToken) > 0 {
			refresh, err = s.secrets.Decrypt(ctx, record.RefreshToken)
			if err != nil {
				return core.MerchantCredential{}, fmt.Errorf("sqlstore: decrypt refresh token: %w", err)
			}
		}
	}

	credential := core.MerchantCredential{
		MerchantID:   record.MerchantID,
		AccessToken:  string(access),
		RefreshToken: string(refresh),
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
		TTL:          record.TTL,
	}
	if record.ExpiresAt != nil {
		credential.ExpiresAt = record.ExpiresAt.UTC()
	}
	return credential, nil
}

type resealChecker interface {
	NeedsReseal(ciphertext []byte) bool
}

// resealRetired rewrites the token columns under the current key when the row
// was sealed with a retired one. The update only lands if the stored
// ciphertext is still the one that was read.
func (s *CredentialStore) resealRetired(ctx context.Context, record *merchantCredentialRecord, credential core.MerchantCredential) error {
	checker, ok := s.secrets.(resealChecker)
	if !ok || !record.Encrypted || !checker.NeedsReseal(record.AccessToken) {
		return nil
	}
	sealed, err := s.sealRecord(ctx, core.CredentialInput{
		MerchantID:   credential.MerchantID,
		AccessToken:  credential.AccessToken,
		RefreshToken: credential.RefreshToken,
		ExpiresAt:    credential.ExpiresAt,
	})
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().
		Model((*merchantCredentialRecord)(nil)).
		Set("access_token = ?", sealed.AccessToken).
		Set("refresh_token = ?", sealed.RefreshToken).
		Where("merchant_id = ?", record.MerchantID).
		Where("access_token = ?", record.AccessToken).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: reseal credential %s: %w", record.MerchantID, err)
	}
	return nil
}

func credentialFromInput(in core.CredentialInput, createdAt, updatedAt time.Time, ttl int64) core.MerchantCredential {
	return core.MerchantCredential{
		MerchantID:   in.MerchantID,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		ExpiresAt:    in.ExpiresAt,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		TTL:          ttl,
	}
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
