package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
)

// AgentRepo implements AgentRepository using PostgreSQL.
type AgentRepo struct{ db *DB }

// NewAgentRepo constructs an agent repository.
func NewAgentRepo(db *DB) *AgentRepo { return &AgentRepo{db: db} }

// Create inserts a new agent row.
func (r *AgentRepo) Create(ctx context.Context, a *model.Agent) error {
	const q = `
INSERT INTO agents (id, username, pwd_hash, salt_auth)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.Username, a.PwdHash, a.SaltAuth)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an agent by ID.
func (r *AgentRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, created_at
FROM agents WHERE id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects an agent by username.
func (r *AgentRepo) GetByUsername(ctx context.Context, username string) (*model.Agent, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, created_at
FROM agents WHERE username=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, username))
}

func (r *AgentRepo) scanOne(row pgx.Row) (*model.Agent, error) {
	var a model.Agent
	if err := row.Scan(&a.ID, &a.Username, &a.PwdHash, &a.SaltAuth, &a.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
