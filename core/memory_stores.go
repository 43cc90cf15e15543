package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCredentialStore is the in-process CredentialStore used by tests and
// single-instance development runs.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]MerchantCredential
	Now     func() time.Time
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		ttl:     DefaultCredentialTTL,
		records: map[string]MerchantCredential{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryCredentialStore) Create(_ context.Context, in CredentialInput) (MerchantCredential, error) {
	if s == nil {
		return MerchantCredential{}, fmt.Errorf("core: credential store is not configured")
	}
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return MerchantCredential{}, err
	}
	now := s.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[in.MerchantID]; exists {
		return MerchantCredential{}, AlreadyExistsError(in.MerchantID)
	}
	record := MerchantCredential{
		MerchantID:   in.MerchantID,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		ExpiresAt:    in.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
		TTL:          CredentialTTL(now, s.ttl),
	}
	s.records[in.MerchantID] = record
	return record, nil
}

func (s *MemoryCredentialStore) Update(_ context.Context, in CredentialInput) (MerchantCredential, error) {
	if s == nil {
		return MerchantCredential{}, fmt.Errorf("core: credential store is not configured")
	}
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return MerchantCredential{}, err
	}
	now := s.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	record, exists := s.records[in.MerchantID]
	if !exists {
		return MerchantCredential{}, NotFoundError("credential", in.MerchantID)
	}
	record.AccessToken = in.AccessToken
	record.RefreshToken = in.RefreshToken
	record.ExpiresAt = in.ExpiresAt
	record.UpdatedAt = now
	record.TTL = CredentialTTL(now, s.ttl)
	s.records[in.MerchantID] = record
	return record, nil
}

func (s *MemoryCredentialStore) Get(_ context.Context, merchantID string) (MerchantCredential, error) {
	if s == nil {
		return MerchantCredential{}, fmt.Errorf("core: credential store is not configured")
	}
	merchantID = strings.TrimSpace(merchantID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.records[merchantID]
	if !exists {
		return MerchantCredential{}, NotFoundError("credential", merchantID)
	}
	return record, nil
}

func (s *MemoryCredentialStore) List(_ context.Context, limit int) ([]MerchantCredential, error) {
	if s == nil {
		return nil, fmt.Errorf("core: credential store is not configured")
	}
	s.mu.RLock()
	out := make([]MerchantCredential, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].MerchantID < out[j].MerchantID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryCredentialStore) Delete(_ context.Context, merchantID string) error {
	if s == nil {
		return fmt.Errorf("core: credential store is not configured")
	}
	s.mu.Lock()
	delete(s.records, strings.TrimSpace(merchantID))
	s.mu.Unlock()
	return nil
}

// MemoryAuditSink keeps audit entries in insertion order.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Record(_ context.Context, entry AuditEntry) error {
	if s == nil {
		return fmt.Errorf("core: audit sink is not configured")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Metadata = RedactSensitiveMap(entry.Metadata)
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAuditSink) ListAudit(_ context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("core: audit sink is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.MerchantID != "" && entry.MerchantID != filter.MerchantID {
			continue
		}
		if filter.SecurityOnly && !entry.Security {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// CredentialTTL returns the storage eviction epoch for a write at now.
func CredentialTTL(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return now.Add(ttl).Unix()
}

var (
	_ CredentialStore = (*MemoryCredentialStore)(nil)
	_ AuditSink       = (*MemoryAuditSink)(nil)
	_ AuditReader     = (*MemoryAuditSink)(nil)
)
