package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
)

// InviteRepo implements InviteRepository using PostgreSQL. The audit log
// lives in an append-only audit_events table keyed by a bigserial, so log
// order is insertion order regardless of event timestamps.
type InviteRepo struct{ db *DB }

// NewInviteRepo constructs an invite repository.
func NewInviteRepo(db *DB) *InviteRepo { return &InviteRepo{db: db} }

const inviteColumns = `id, agent_id, buyer_name, buyer_contact, token_hash, created_at, ttl_days, template_snapshot, certificate_id, signature_data`

// Insert persists a new invite together with its seeded audit events.
func (r *InviteRepo) Insert(ctx context.Context, inv *model.BuyerInvite) error {
	tmpl, err := json.Marshal(inv.TemplateSnapshot)
	if err != nil {
		return fmt.Errorf("marshal template snapshot: %w", err)
	}

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		const ins = `
INSERT INTO invites (id, agent_id, buyer_name, buyer_contact, token_hash, created_at, ttl_days, template_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
		if _, err := tx.Exec(ctx, ins,
			inv.ID, inv.AgentID, inv.BuyerName, inv.BuyerContact,
			inv.TokenHash, inv.CreatedAtUTC, inv.TTLDays, tmpl,
		); err != nil {
			if isUniqueViolation(err) {
				return errs.ErrAlreadyExists
			}
			return err
		}

		for _, ev := range inv.AuditEvents {
			if err := insertEvent(ctx, tx, inv.ID, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

const insertEventSQL = `
INSERT INTO audit_events (invite_id, type, ts, metadata) VALUES ($1,$2,$3,$4)`

func insertEvent(ctx context.Context, tx pgx.Tx, inviteID uuid.UUID, ev model.AuditEvent) error {
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertEventSQL, inviteID, string(ev.Type), ev.Timestamp, meta)
	return err
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// GetByID loads one invite and its full audit log.
func (r *InviteRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.BuyerInvite, error) {
	return r.getOne(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id=$1`, id)
}

// GetByTokenHash loads one invite by its token hash.
func (r *InviteRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*model.BuyerInvite, error) {
	return r.getOne(ctx, `SELECT `+inviteColumns+` FROM invites WHERE token_hash=$1`, tokenHash)
}

// GetByCertificateID loads one signed invite by its certificate id.
func (r *InviteRepo) GetByCertificateID(ctx context.Context, certificateID string) (*model.BuyerInvite, error) {
	return r.getOne(ctx, `SELECT `+inviteColumns+` FROM invites WHERE certificate_id=$1`, certificateID)
}

func (r *InviteRepo) getOne(ctx context.Context, q string, arg any) (*model.BuyerInvite, error) {
	row := r.db.Pool.QueryRow(ctx, q, arg)
	inv, err := scanInvite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	events, err := r.loadEvents(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.AuditEvents = events
	return inv, nil
}

// AppendEvent appends one audit event; errs.ErrNotFound on an unknown invite.
func (r *InviteRepo) AppendEvent(ctx context.Context, id uuid.UUID, event model.AuditEvent) error {
	meta, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO audit_events (invite_id, type, ts, metadata)
SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM invites WHERE id=$1)`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(event.Type), event.Timestamp, meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RecordSignature attaches signature data and certificate id exactly once and
// appends the AGREEMENT_SIGNED event in the same transaction.
func (r *InviteRepo) RecordSignature(
	ctx context.Context, id uuid.UUID, sig model.SignatureData, certificateID string, event model.AuditEvent,
) error {
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		// certificate_id IS NULL enforces the set-once invariant at the store.
		const upd = `
UPDATE invites SET signature_data=$2, certificate_id=$3
WHERE id=$1 AND certificate_id IS NULL`
		tag, err := tx.Exec(ctx, upd, id, sigJSON, certificateID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invites WHERE id=$1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return errs.ErrNotFound
			}
			return errs.ErrAlreadySigned
		}

		return insertEvent(ctx, tx, id, event)
	})
}

// ListAll returns every invite in creation order with full audit logs.
func (r *InviteRepo) ListAll(ctx context.Context) ([]model.BuyerInvite, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+inviteColumns+` FROM invites ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BuyerInvite
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		inv, scanErr := scanInvite(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		index[inv.ID] = len(out)
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	evRows, err := r.db.Pool.Query(ctx, `SELECT invite_id, type, ts, metadata FROM audit_events ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer evRows.Close()
	for evRows.Next() {
		var inviteID uuid.UUID
		ev, scanErr := scanEvent(evRows, &inviteID)
		if scanErr != nil {
			return nil, scanErr
		}
		if i, ok := index[inviteID]; ok {
			out[i].AuditEvents = append(out[i].AuditEvents, ev)
		}
	}
	return out, evRows.Err()
}

func (r *InviteRepo) loadEvents(ctx context.Context, id uuid.UUID) ([]model.AuditEvent, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT invite_id, type, ts, metadata FROM audit_events WHERE invite_id=$1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var inviteID uuid.UUID
		ev, scanErr := scanEvent(rows, &inviteID)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row, inviteID *uuid.UUID) (model.AuditEvent, error) {
	var (
		typ  string
		ts   time.Time
		meta []byte
	)
	if err := row.Scan(inviteID, &typ, &ts, &meta); err != nil {
		return model.AuditEvent{}, err
	}
	ev := model.AuditEvent{Type: model.EventType(typ), Timestamp: ts}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return model.AuditEvent{}, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	return ev, nil
}

func scanInvite(row pgx.Row) (*model.BuyerInvite, error) {
	var (
		inv     model.BuyerInvite
		tmpl    []byte
		certID  *string
		sigJSON []byte
	)
	if err := row.Scan(
		&inv.ID, &inv.AgentID, &inv.BuyerName, &inv.BuyerContact,
		&inv.TokenHash, &inv.CreatedAtUTC, &inv.TTLDays, &tmpl, &certID, &sigJSON,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tmpl, &inv.TemplateSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal template snapshot: %w", err)
	}
	if certID != nil {
		inv.CertificateID = *certID
	}
	if len(sigJSON) > 0 {
		var sig model.SignatureData
		if err := json.Unmarshal(sigJSON, &sig); err != nil {
			return nil, fmt.Errorf("unmarshal signature: %w", err)
		}
		inv.SignatureData = &sig
	}
	return &inv, nil
}
