package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/dwellingly/buyersign/internal/crypto"
	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
	"github.com/dwellingly/buyersign/internal/repository"
	"github.com/dwellingly/buyersign/internal/status"
)

// CreateInviteInput describes a new invite request from an agent.
type CreateInviteInput struct {
	BuyerName    string
	BuyerContact string
	TTLDays      int // 0 means the 7-day default
	Template     model.AgreementTemplate
}

// CreatedInvite pairs a persisted invite with its one-time raw link token.
// The raw token is never stored; this is the only place it surfaces.
type CreatedInvite struct {
	Invite   *model.BuyerInvite
	RawToken string
}

// OpenedInvite is what the buyer-facing sign flow sees: the invite plus the
// gate decision computed at open time.
type OpenedInvite struct {
	Invite *model.BuyerInvite
	Gate   status.Decision
}

// SignInput carries everything captured by the signature pad.
type SignInput struct {
	TypedName             string
	SignatureImageDataURL string
	Consent               bool
	SignedAtUTC           time.Time // zero means "now"
	UserAgent             string
}

// InviteService defines the invite lifecycle operations.
type InviteService interface {
	// Create issues a new invite with a fresh link token.
	Create(ctx context.Context, agentID uuid.UUID, in CreateInviteInput) (CreatedInvite, error)
	// Get loads one invite by id.
	Get(ctx context.Context, id uuid.UUID) (*model.BuyerInvite, error)
	// OpenByToken resolves a raw link token and records the first view.
	OpenByToken(ctx context.Context, rawToken, userAgent, platform string) (OpenedInvite, error)
	// AddEvent appends an INVITE_SENT or INVITE_REVOKED event.
	AddEvent(ctx context.Context, id uuid.UUID, t model.EventType, metadata map[string]string) error
	// Sign runs the signing transaction and returns the certificate id.
	Sign(ctx context.Context, id uuid.UUID, in SignInput) (string, error)
	// VerifyCertificate resolves a certificate id to its signed invite.
	VerifyCertificate(ctx context.Context, certificateID string) (*model.BuyerInvite, error)
	// List returns every invite.
	List(ctx context.Context) ([]model.BuyerInvite, error)
}

// InviteServiceImpl implements InviteService over a repository.
type InviteServiceImpl struct {
	repo repository.InviteRepository
	now  func() time.Time
}

// NewInviteService constructs an InviteService. A nil now falls back to time.Now.
func NewInviteService(repo repository.InviteRepository, now func() time.Time) *InviteServiceImpl {
	if now == nil {
		now = time.Now
	}
	return &InviteServiceImpl{repo: repo, now: now}
}

// Create generates the invite id and raw token, hashes the token, stamps the
// creation instant and seeds the audit log with INVITE_CREATED.
func (s *InviteServiceImpl) Create(ctx context.Context, agentID uuid.UUID, in CreateInviteInput) (CreatedInvite, error) {
	if agentID == uuid.Nil {
		return CreatedInvite{}, errors.New("validation: empty agentID")
	}
	if in.BuyerName == "" || in.BuyerContact == "" {
		return CreatedInvite{}, errors.New("validation: empty buyer name/contact")
	}
	if in.Template.Name == "" {
		return CreatedInvite{}, errors.New("validation: empty template")
	}
	ttl := in.TTLDays
	if ttl <= 0 {
		ttl = status.DefaultTTLDays
	}

	id, err := uuid.NewV4()
	if err != nil {
		return CreatedInvite{}, err
	}
	rawToken, err := pkgcrypto.NewRawToken()
	if err != nil {
		return CreatedInvite{}, err
	}

	createdAt := s.now().UTC()
	inv := &model.BuyerInvite{
		ID:               id,
		AgentID:          agentID,
		BuyerName:        in.BuyerName,
		BuyerContact:     in.BuyerContact,
		TokenHash:        pkgcrypto.HashToken(rawToken),
		CreatedAtUTC:     createdAt,
		TTLDays:          ttl,
		TemplateSnapshot: in.Template,
		AuditEvents: []model.AuditEvent{
			{Type: model.EventInviteCreated, Timestamp: createdAt},
		},
	}
	if err := s.repo.Insert(ctx, inv); err != nil {
		return CreatedInvite{}, fmt.Errorf("insert invite: %w", err)
	}
	return CreatedInvite{Invite: inv, RawToken: rawToken}, nil
}

// Get loads one invite by id.
func (s *InviteServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.BuyerInvite, error) {
	if id == uuid.Nil {
		return nil, errors.New("validation: empty id")
	}
	return s.repo.GetByID(ctx, id)
}

// OpenByToken hashes the presented token, loads the matching invite and
// appends INVITE_VIEWED at most once, capturing the caller's user agent.
// The read/write conflation is deliberate: the product requirement is
// "record first view".
func (s *InviteServiceImpl) OpenByToken(ctx context.Context, rawToken, userAgent, platform string) (OpenedInvite, error) {
	if rawToken == "" {
		return OpenedInvite{}, errors.New("validation: empty token")
	}
	inv, err := s.repo.GetByTokenHash(ctx, pkgcrypto.HashToken(rawToken))
	if err != nil {
		return OpenedInvite{}, err
	}

	if !inv.HasEvent(model.EventInviteViewed) {
		ev := model.AuditEvent{
			Type:      model.EventInviteViewed,
			Timestamp: s.now().UTC(),
			Metadata:  map[string]string{"userAgent": userAgent, "platform": platform},
		}
		if err := s.repo.AppendEvent(ctx, inv.ID, ev); err != nil {
			return OpenedInvite{}, fmt.Errorf("record view: %w", err)
		}
		inv.AuditEvents = append(inv.AuditEvents, ev)
	}

	return OpenedInvite{Invite: inv, Gate: status.CanSign(inv, s.now())}, nil
}

// AddEvent appends a send or revoke event. Creation, view and signature
// events have dedicated paths and are rejected here.
func (s *InviteServiceImpl) AddEvent(ctx context.Context, id uuid.UUID, t model.EventType, metadata map[string]string) error {
	if id == uuid.Nil {
		return errors.New("validation: empty id")
	}
	if t != model.EventInviteSent && t != model.EventInviteRevoked {
		return fmt.Errorf("validation: event type %q not appendable", t)
	}
	return s.repo.AppendEvent(ctx, id, model.AuditEvent{
		Type:      t,
		Timestamp: s.now().UTC(),
		Metadata:  metadata,
	})
}

// Sign is the signing transaction: it re-checks the gate, mints a
// certificate id, and hands the repository one atomic write that attaches
// the signature, sets the certificate and appends AGREEMENT_SIGNED stamped
// with the signature's own instant.
func (s *InviteServiceImpl) Sign(ctx context.Context, id uuid.UUID, in SignInput) (string, error) {
	if id == uuid.Nil {
		return "", errors.New("validation: empty id")
	}
	if in.TypedName == "" {
		return "", errors.New("validation: empty typed name")
	}
	if !in.Consent {
		return "", errors.New("validation: consent not given")
	}

	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if gate := status.CanSign(inv, s.now()); !gate.Allowed {
		return "", fmt.Errorf("%w: %s", errs.ErrSigningClosed, gate.Reason)
	}

	signedAt := in.SignedAtUTC
	if signedAt.IsZero() {
		signedAt = s.now()
	}
	signedAt = signedAt.UTC()

	certID, err := pkgcrypto.NewCertificateID()
	if err != nil {
		return "", err
	}
	sig := model.SignatureData{
		TypedName:             in.TypedName,
		SignatureImageDataURL: in.SignatureImageDataURL,
		Consent:               in.Consent,
		SignedAtUTC:           signedAt,
		UserAgent:             in.UserAgent,
	}
	ev := model.AuditEvent{
		Type:      model.EventAgreementSigned,
		Timestamp: signedAt,
		Metadata:  map[string]string{"userAgent": in.UserAgent, "typedName": in.TypedName},
	}
	if err := s.repo.RecordSignature(ctx, id, sig, certID, ev); err != nil {
		return "", fmt.Errorf("record signature: %w", err)
	}
	return certID, nil
}

// VerifyCertificate resolves a certificate id for the public verification page.
func (s *InviteServiceImpl) VerifyCertificate(ctx context.Context, certificateID string) (*model.BuyerInvite, error) {
	if certificateID == "" {
		return nil, errors.New("validation: empty certificate id")
	}
	return s.repo.GetByCertificateID(ctx, certificateID)
}

// List returns every invite.
func (s *InviteServiceImpl) List(ctx context.Context) ([]model.BuyerInvite, error) {
	return s.repo.ListAll(ctx)
}
