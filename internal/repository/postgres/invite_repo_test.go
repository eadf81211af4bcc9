package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func testTemplate() model.AgreementTemplate {
	return model.AgreementTemplate{
		ID:           "tmpl_tx_1",
		Name:         "Buyer Representation Agreement",
		Jurisdiction: "TX",
		Version:      "2026.1",
		SummarySections: []model.SummarySection{
			{Title: "What this is", Content: "You agree to work with this agent."},
		},
		FullText:               "Full agreement text.",
		CompensationDisclosure: "3% of purchase price.",
	}
}

func TestInviteRepo_Insert_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	ctx := context.Background()
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	inv := &model.BuyerInvite{
		ID:               uuid.Must(uuid.NewV4()),
		AgentID:          uuid.Must(uuid.NewV4()),
		BuyerName:        "Ada Lovelace",
		BuyerContact:     "ada@example.com",
		TokenHash:        "abc123",
		CreatedAtUTC:     created,
		TTLDays:          7,
		TemplateSnapshot: testTemplate(),
		AuditEvents:      []model.AuditEvent{{Type: model.EventInviteCreated, Timestamp: created}},
	}
	tmplJSON, err := json.Marshal(inv.TemplateSnapshot)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO invites`).
		WithArgs(inv.ID, inv.AgentID, inv.BuyerName, inv.BuyerContact, inv.TokenHash, created, 7, tmplJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(inv.ID, "INVITE_CREATED", created, []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, r.Insert(ctx, inv))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInviteRepo_GetByID_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`SELECT .+ FROM invites WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.GetByID(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestInviteRepo_GetByTokenHash_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	id := uuid.Must(uuid.NewV4())
	agent := uuid.Must(uuid.NewV4())
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tmplJSON, err := json.Marshal(testTemplate())
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .+ FROM invites WHERE token_hash=\$1`).
		WithArgs("hash1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "agent_id", "buyer_name", "buyer_contact", "token_hash",
			"created_at", "ttl_days", "template_snapshot", "certificate_id", "signature_data",
		}).AddRow(id, agent, "Ada", "ada@example.com", "hash1", created, 7, tmplJSON, (*string)(nil), []byte(nil)))
	mock.ExpectQuery(`SELECT invite_id, type, ts, metadata FROM audit_events WHERE invite_id=\$1 ORDER BY seq ASC`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"invite_id", "type", "ts", "metadata"}).
			AddRow(id, "INVITE_CREATED", created, []byte(nil)).
			AddRow(id, "INVITE_VIEWED", created.Add(time.Hour), []byte(`{"userAgent":"UA"}`)))

	inv, err := r.GetByTokenHash(context.Background(), "hash1")
	require.NoError(t, err)
	require.Equal(t, id, inv.ID)
	require.Len(t, inv.AuditEvents, 2)
	require.Equal(t, model.EventInviteViewed, inv.AuditEvents[1].Type)
	require.Equal(t, "UA", inv.AuditEvents[1].Metadata["userAgent"])
	require.Equal(t, testTemplate(), inv.TemplateSnapshot)
	require.Nil(t, inv.SignatureData)
}

func TestInviteRepo_AppendEvent_UnknownInvite(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	id := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(id, "INVITE_SENT", ts, []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := r.AppendEvent(context.Background(), id, model.AuditEvent{Type: model.EventInviteSent, Timestamp: ts})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestInviteRepo_RecordSignature_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	id := uuid.Must(uuid.NewV4())
	signedAt := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	sig := model.SignatureData{TypedName: "Ada Lovelace", Consent: true, SignedAtUTC: signedAt, UserAgent: "UA"}
	sigJSON, err := json.Marshal(sig)
	require.NoError(t, err)
	ev := model.AuditEvent{
		Type:      model.EventAgreementSigned,
		Timestamp: signedAt,
		Metadata:  map[string]string{"userAgent": "UA", "typedName": "Ada Lovelace"},
	}
	metaJSON, err := json.Marshal(ev.Metadata)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE invites SET signature_data=\$2, certificate_id=\$3`).
		WithArgs(id, sigJSON, "DW-1234-5678").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(id, "AGREEMENT_SIGNED", signedAt, metaJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, r.RecordSignature(context.Background(), id, sig, "DW-1234-5678", ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInviteRepo_RecordSignature_AlreadySigned(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	id := uuid.Must(uuid.NewV4())
	sig := model.SignatureData{TypedName: "Ada", SignedAtUTC: time.Now().UTC()}
	sigJSON, err := json.Marshal(sig)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE invites SET signature_data=\$2, certificate_id=\$3`).
		WithArgs(id, sigJSON, "DW-1111-2222").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err = r.RecordSignature(context.Background(), id, sig, "DW-1111-2222",
		model.AuditEvent{Type: model.EventAgreementSigned, Timestamp: sig.SignedAtUTC})
	require.ErrorIs(t, err, errs.ErrAlreadySigned)
}

func TestInviteRepo_RecordSignature_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	id := uuid.Must(uuid.NewV4())
	sig := model.SignatureData{TypedName: "Ada", SignedAtUTC: time.Now().UTC()}
	sigJSON, err := json.Marshal(sig)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE invites SET signature_data=\$2, certificate_id=\$3`).
		WithArgs(id, sigJSON, "DW-1111-2222").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err = r.RecordSignature(context.Background(), id, sig, "DW-1111-2222",
		model.AuditEvent{Type: model.EventAgreementSigned, Timestamp: sig.SignedAtUTC})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestInviteRepo_ListAll_GroupsEvents(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewInviteRepo(db)

	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())
	agent := uuid.Must(uuid.NewV4())
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tmplJSON, err := json.Marshal(testTemplate())
	require.NoError(t, err)

	cols := []string{
		"id", "agent_id", "buyer_name", "buyer_contact", "token_hash",
		"created_at", "ttl_days", "template_snapshot", "certificate_id", "signature_data",
	}
	mock.ExpectQuery(`SELECT .+ FROM invites ORDER BY created_at ASC`).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(a, agent, "Ada", "ada@example.com", "h1", created, 7, tmplJSON, (*string)(nil), []byte(nil)).
			AddRow(b, agent, "Grace", "grace@example.com", "h2", created.Add(time.Hour), 7, tmplJSON, (*string)(nil), []byte(nil)))
	mock.ExpectQuery(`SELECT invite_id, type, ts, metadata FROM audit_events ORDER BY seq ASC`).
		WillReturnRows(pgxmock.NewRows([]string{"invite_id", "type", "ts", "metadata"}).
			AddRow(a, "INVITE_CREATED", created, []byte(nil)).
			AddRow(b, "INVITE_CREATED", created.Add(time.Hour), []byte(nil)).
			AddRow(a, "INVITE_SENT", created.Add(2*time.Hour), []byte(nil)))

	out, err := r.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Len(t, out[0].AuditEvents, 2)
	require.Len(t, out[1].AuditEvents, 1)
	require.Equal(t, model.EventInviteSent, out[0].AuditEvents[1].Type)
}
