// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/dwellingly/buyersign/internal/model"
)

// InviteRepository owns the authoritative collection of invites. All mutation
// is either inserting a new invite, appending an audit event, or the one-time
// signature write. Invites are never deleted.
type InviteRepository interface {
	// Insert persists a newly created invite.
	Insert(ctx context.Context, inv *model.BuyerInvite) error

	// GetByID loads an invite by id; errs.ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*model.BuyerInvite, error)

	// GetByTokenHash loads an invite whose token hash matches; errs.ErrNotFound if absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.BuyerInvite, error)

	// GetByCertificateID loads a signed invite by certificate id; errs.ErrNotFound if absent.
	GetByCertificateID(ctx context.Context, certificateID string) (*model.BuyerInvite, error)

	// AppendEvent appends one audit event to an invite's log.
	// Returns errs.ErrNotFound on an unknown id.
	AppendEvent(ctx context.Context, id uuid.UUID, event model.AuditEvent) error

	// RecordSignature atomically attaches signature data and certificate id
	// and appends the AGREEMENT_SIGNED event. The write is all-or-nothing:
	// no partial state is ever persisted. Returns errs.ErrAlreadySigned if a
	// certificate is already set and errs.ErrNotFound on an unknown id.
	RecordSignature(ctx context.Context, id uuid.UUID, sig model.SignatureData, certificateID string, event model.AuditEvent) error

	// ListAll returns every invite in creation order.
	ListAll(ctx context.Context) ([]model.BuyerInvite, error)
}
