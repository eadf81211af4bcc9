// Package convert maps domain entities to the JSON shapes served over HTTP
// and consumed by the CLI. Derived fields (status, expiry, initials) are
// computed here so stored records never carry them.
package convert

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/dwellingly/buyersign/internal/model"
	"github.com/dwellingly/buyersign/internal/status"
)

// AuditEventDTO mirrors model.AuditEvent on the wire.
type AuditEventDTO struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InviteDTO is the agent-facing invite view. The token hash never leaves the
// server; the raw token appears only in the create response.
type InviteDTO struct {
	ID            uuid.UUID               `json:"id"`
	AgentID       uuid.UUID               `json:"agentId"`
	BuyerName     string                  `json:"buyerName"`
	BuyerContact  string                  `json:"buyerContact"`
	BuyerInitials string                  `json:"buyerInitials"`
	Status        string                  `json:"status"`
	CreatedAtUTC  time.Time               `json:"createdAtUtc"`
	ExpiresAtUTC  time.Time               `json:"expiresAtUtc"`
	TTLDays       int                     `json:"ttlDays"`
	Template      model.AgreementTemplate `json:"template"`
	AuditEvents   []AuditEventDTO         `json:"auditEvents"`
	CertificateID string                  `json:"certificateId,omitempty"`
	SignedAtUTC   *time.Time              `json:"signedAtUtc,omitempty"`
	SignedBy      string                  `json:"signedBy,omitempty"`
}

// SignPageDTO is what the buyer-facing sign page receives after opening a
// token. It carries only what the page needs: the agreement to show and the
// gate verdict.
type SignPageDTO struct {
	InviteID      uuid.UUID               `json:"inviteId"`
	BuyerName     string                  `json:"buyerName"`
	Status        string                  `json:"status"`
	CanSign       bool                    `json:"canSign"`
	Reason        string                  `json:"reason,omitempty"`
	Template      model.AgreementTemplate `json:"template"`
	Summary       []model.SummarySection  `json:"summary"`
	CertificateID string                  `json:"certificateId,omitempty"`
}

// CertificateDTO is the public verification view of a signed invite.
type CertificateDTO struct {
	CertificateID string    `json:"certificateId"`
	BuyerInitials string    `json:"buyerInitials"`
	SignedBy      string    `json:"signedBy"`
	SignedAtUTC   time.Time `json:"signedAtUtc"`
	AgreementName string    `json:"agreementName"`
	Jurisdiction  string    `json:"jurisdiction"`
	Version       string    `json:"version"`
}

// Events maps an audit log to its wire form.
func Events(events []model.AuditEvent) []AuditEventDTO {
	out := make([]AuditEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, AuditEventDTO{
			Type:      string(ev.Type),
			Timestamp: ev.Timestamp,
			Metadata:  ev.Metadata,
		})
	}
	return out
}

// Invite builds the agent-facing view, deriving status at the given instant.
func Invite(inv *model.BuyerInvite, now time.Time) InviteDTO {
	dto := InviteDTO{
		ID:            inv.ID,
		AgentID:       inv.AgentID,
		BuyerName:     inv.BuyerName,
		BuyerContact:  inv.BuyerContact,
		BuyerInitials: status.BuyerInitials(inv.BuyerName),
		Status:        status.Derive(inv, now).Label(),
		CreatedAtUTC:  inv.CreatedAtUTC,
		ExpiresAtUTC:  status.ExpiryTime(inv),
		TTLDays:       inv.TTLDays,
		Template:      inv.TemplateSnapshot,
		AuditEvents:   Events(inv.AuditEvents),
		CertificateID: inv.CertificateID,
	}
	if sig := inv.SignatureData; sig != nil {
		t := sig.SignedAtUTC
		dto.SignedAtUTC = &t
		dto.SignedBy = sig.TypedName
	}
	return dto
}

// Invites maps a slice of invites.
func Invites(invites []model.BuyerInvite, now time.Time) []InviteDTO {
	out := make([]InviteDTO, 0, len(invites))
	for i := range invites {
		out = append(out, Invite(&invites[i], now))
	}
	return out
}

// SignPage builds the buyer-facing view. The summary falls back to the
// template's own sections when none is supplied.
func SignPage(inv *model.BuyerInvite, gate status.Decision, summary []model.SummarySection, now time.Time) SignPageDTO {
	if len(summary) == 0 {
		summary = inv.TemplateSnapshot.SummarySections
	}
	return SignPageDTO{
		InviteID:      inv.ID,
		BuyerName:     inv.BuyerName,
		Status:        status.Derive(inv, now).Label(),
		CanSign:       gate.Allowed,
		Reason:        gate.Reason,
		Template:      inv.TemplateSnapshot,
		Summary:       summary,
		CertificateID: inv.CertificateID,
	}
}

// Certificate builds the verification view. Callers must pass a signed invite.
func Certificate(inv *model.BuyerInvite) CertificateDTO {
	dto := CertificateDTO{
		CertificateID: inv.CertificateID,
		BuyerInitials: status.BuyerInitials(inv.BuyerName),
		AgreementName: inv.TemplateSnapshot.Name,
		Jurisdiction:  inv.TemplateSnapshot.Jurisdiction,
		Version:       inv.TemplateSnapshot.Version,
	}
	if sig := inv.SignatureData; sig != nil {
		dto.SignedBy = sig.TypedName
		dto.SignedAtUTC = sig.SignedAtUTC
	}
	return dto
}
