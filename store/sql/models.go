package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type merchantCredentialRecord struct {
	bun.BaseModel `bun:"table:merchant_credentials,alias:mc"`

	MerchantID   string     `bun:"merchant_id,pk"`
	AccessToken  []byte     `bun:"access_token,notnull"`
	RefreshToken []byte     `bun:"refresh_token,notnull"`
	Encrypted    bool       `bun:"encrypted,notnull"`
	ExpiresAt    *time.Time `bun:"expires_at,nullzero"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	TTL          int64      `bun:"ttl,notnull"`
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:webhook_events,alias:we"`

	ID           string     `bun:"id,pk"`
	EventType    string     `bun:"event_type,notnull"`
	MerchantID   string     `bun:"merchant_id,notnull"`
	EventID      string     `bun:"event_id,notnull"`
	Payload      []byte     `bun:"payload,notnull"`
	Status       string     `bun:"status,notnull"`
	ErrorMessage string     `bun:"error_message,notnull"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ProcessedAt  *time.Time `bun:"processed_at,nullzero"`
	TTL          int64      `bun:"ttl,notnull"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:audit_entries,alias:ae"`

	ID         string         `bun:"id,pk"`
	Action     string         `bun:"action,notnull"`
	Outcome    string         `bun:"outcome,notnull"`
	Security   bool           `bun:"security,notnull"`
	FlowState  string         `bun:"flow_state,notnull"`
	MerchantID string         `bun:"merchant_id,notnull"`
	StateHash  string         `bun:"state_hash,notnull"`
	ErrorCode  string         `bun:"error_code,notnull"`
	Detail     string         `bun:"detail,notnull"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
