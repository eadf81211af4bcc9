package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/dwellingly/buyersign/internal/model"
)

// AgentRepository provides CRUD access for agent accounts.
type AgentRepository interface {
	// Create inserts a new agent; errs.ErrAlreadyExists on username conflicts.
	Create(ctx context.Context, a *model.Agent) error
	// GetByID loads an agent by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error)
	// GetByUsername loads an agent by username.
	GetByUsername(ctx context.Context, username string) (*model.Agent, error)
}
