// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// EventType identifies a kind of audit event recorded against an invite.
type EventType string

// Audit event types. The log keeps insertion order; it is never re-sorted.
const (
	EventInviteCreated   EventType = "INVITE_CREATED"
	EventInviteSent      EventType = "INVITE_SENT"
	EventInviteViewed    EventType = "INVITE_VIEWED"
	EventAgreementSigned EventType = "AGREEMENT_SIGNED"
	EventInviteRevoked   EventType = "INVITE_REVOKED"
)

// AuditEvent is one immutable, timestamped fact in an invite's history.
// Timestamps are captured by the caller at append time, so they are not
// guaranteed monotonic within the log.
type AuditEvent struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"` // UTC
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SummarySection is one plain-language block of an agreement summary.
type SummarySection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// AgreementTemplate is the agreement text presented to a buyer. An invite
// carries a frozen snapshot taken at creation time and never re-fetched, so
// the buyer always signs exactly what was presented.
type AgreementTemplate struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name"`
	Jurisdiction           string           `json:"jurisdiction"`
	Version                string           `json:"version"`
	SummarySections        []SummarySection `json:"summarySections"`
	FullText               string           `json:"fullText"`
	CompensationDisclosure string           `json:"compensationDisclosure"`
}

// SignatureData is everything captured at the moment of signing.
type SignatureData struct {
	TypedName             string    `json:"typedName"`
	SignatureImageDataURL string    `json:"signatureImageDataUrl,omitempty"`
	Consent               bool      `json:"consent"`
	SignedAtUTC           time.Time `json:"signedAtUtc"`
	UserAgent             string    `json:"userAgent"`
}

// BuyerInvite is the aggregate root: one buyer's unique, time-boxed
// opportunity to review and sign an agreement. SignatureData and
// CertificateID are set together, exactly once, by the signing transaction
// and never cleared. Invites are never deleted.
type BuyerInvite struct {
	ID               uuid.UUID         `json:"id"`
	AgentID          uuid.UUID         `json:"agentId"`
	BuyerName        string            `json:"buyerName"`
	BuyerContact     string            `json:"buyerContact"` // email or phone
	TokenHash        string            `json:"tokenHash"`    // SHA-256 hex; the raw token is never persisted
	CreatedAtUTC     time.Time         `json:"createdAtUtc"`
	TTLDays          int               `json:"ttlDays"`
	TemplateSnapshot AgreementTemplate `json:"templateSnapshot"`
	AuditEvents      []AuditEvent      `json:"auditEvents"` // append-only; seeded with INVITE_CREATED
	CertificateID    string            `json:"certificateId,omitempty"`
	SignatureData    *SignatureData    `json:"signatureData,omitempty"`
}

// HasEvent reports whether the audit log contains an event of the given type.
func (i *BuyerInvite) HasEvent(t EventType) bool {
	return i.FindEvent(t) != nil
}

// FindEvent returns the first logged event of the given type, or nil.
func (i *BuyerInvite) FindEvent(t EventType) *AuditEvent {
	for idx := range i.AuditEvents {
		if i.AuditEvents[idx].Type == t {
			return &i.AuditEvents[idx]
		}
	}
	return nil
}

// Agent represents an account that issues invites. Passwords are stored as
// Argon2id hashes with per-agent salts, never in plaintext.
type Agent struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-agent auth salt
	CreatedAt time.Time
}

// Tokens collects issued access tokens (refresh optional).
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}
