// Package localstore implements the repository interfaces on a single JSON
// file. Every operation reads the whole collection, mutates it in memory and
// writes it back in one atomic rename, which is what makes the signing
// transaction all-or-nothing: no partial state is ever observable on disk.
// A process-wide mutex serializes logical operations (single-writer model).
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
)

// state is the serialized collection layout. There is no version field; a
// format change requires a migration strategy.
type state struct {
	Agents  []model.Agent       `json:"agents"`
	Invites []model.BuyerInvite `json:"invites"`
}

// Store owns the backing file. Repository views are obtained through
// Invites() and Agents() and share one mutex.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open prepares a store at the given file path, creating parent directories.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("localstore: create dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Invites returns the invite repository view.
func (s *Store) Invites() *InviteStore { return &InviteStore{s: s} }

// Agents returns the agent repository view.
func (s *Store) Agents() *AgentStore { return &AgentStore{s: s} }

func (s *Store) load() (*state, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &state{}, nil
		}
		return nil, fmt.Errorf("localstore: read: %w", err)
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("localstore: corrupted state: %w", err)
	}
	return &st, nil
}

func (s *Store) save(st *state) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("localstore: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("localstore: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("localstore: rename: %w", err)
	}
	return nil
}

// InviteStore implements repository.InviteRepository on the shared file.
type InviteStore struct{ s *Store }

// Insert persists a newly created invite.
func (r *InviteStore) Insert(_ context.Context, inv *model.BuyerInvite) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, err := r.s.load()
	if err != nil {
		return err
	}
	for i := range st.Invites {
		if st.Invites[i].ID == inv.ID || st.Invites[i].TokenHash == inv.TokenHash {
			return errs.ErrAlreadyExists
		}
	}
	st.Invites = append(st.Invites, cloneInvite(inv))
	return r.s.save(st)
}

// GetByID loads an invite by id.
func (r *InviteStore) GetByID(_ context.Context, id uuid.UUID) (*model.BuyerInvite, error) {
	return r.find(func(inv *model.BuyerInvite) bool { return inv.ID == id })
}

// GetByTokenHash loads an invite by its token hash.
func (r *InviteStore) GetByTokenHash(_ context.Context, tokenHash string) (*model.BuyerInvite, error) {
	return r.find(func(inv *model.BuyerInvite) bool { return inv.TokenHash == tokenHash })
}

// GetByCertificateID loads a signed invite by certificate id.
func (r *InviteStore) GetByCertificateID(_ context.Context, certificateID string) (*model.BuyerInvite, error) {
	return r.find(func(inv *model.BuyerInvite) bool {
		return inv.CertificateID != "" && inv.CertificateID == certificateID
	})
}

func (r *InviteStore) find(match func(*model.BuyerInvite) bool) (*model.BuyerInvite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, err := r.s.load()
	if err != nil {
		return nil, err
	}
	for i := range st.Invites {
		if match(&st.Invites[i]) {
			out := cloneInvite(&st.Invites[i])
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}

// AppendEvent appends one audit event; errs.ErrNotFound on an unknown id.
func (r *InviteStore) AppendEvent(_ context.Context, id uuid.UUID, event model.AuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, err := r.s.load()
	if err != nil {
		return err
	}
	for i := range st.Invites {
		if st.Invites[i].ID == id {
			st.Invites[i].AuditEvents = append(st.Invites[i].AuditEvents, event)
			return r.s.save(st)
		}
	}
	return errs.ErrNotFound
}

// RecordSignature attaches signature data and certificate id exactly once and
// appends the AGREEMENT_SIGNED event, all in one write of the collection.
func (r *InviteStore) RecordSignature(
	_ context.Context, id uuid.UUID, sig model.SignatureData, certificateID string, event model.AuditEvent,
) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, err := r.s.load()
	if err != nil {
		return err
	}
	for i := range st.Invites {
		if st.Invites[i].ID != id {
			continue
		}
		if st.Invites[i].CertificateID != "" {
			return errs.ErrAlreadySigned
		}
		sigCopy := sig
		st.Invites[i].SignatureData = &sigCopy
		st.Invites[i].CertificateID = certificateID
		st.Invites[i].AuditEvents = append(st.Invites[i].AuditEvents, event)
		return r.s.save(st)
	}
	return errs.ErrNotFound
}

// ListAll returns every invite in insertion order.
func (r *InviteStore) ListAll(_ context.Context) ([]model.BuyerInvite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, err := r.s.load()
	if err != nil {
		return nil, err
	}
	out := make([]model.BuyerInvite, 0, len(st.Invites))
	for i := range st.Invites {
		out = append(out, cloneInvite(&st.Invites[i]))
	}
	return out, nil
}

// AgentStore implements repository.AgentRepository on the shared file.
type AgentStore struct{ s *Store }

// Create inserts a new agent account.
func (r *AgentStore) Create(_ context.Context, a *model.Agent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, err := r.s.load()
	if err != nil {
		return err
	}
	for i := range st.Agents {
		if st.Agents[i].Username == a.Username {
			return errs.ErrAlreadyExists
		}
	}
	st.Agents = append(st.Agents, *a)
	return r.s.save(st)
}

// GetByID loads an agent by id.
func (r *AgentStore) GetByID(_ context.Context, id uuid.UUID) (*model.Agent, error) {
	return r.findAgent(func(a *model.Agent) bool { return a.ID == id })
}

// GetByUsername loads an agent by username.
func (r *AgentStore) GetByUsername(_ context.Context, username string) (*model.Agent, error) {
	return r.findAgent(func(a *model.Agent) bool { return a.Username == username })
}

func (r *AgentStore) findAgent(match func(*model.Agent) bool) (*model.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, err := r.s.load()
	if err != nil {
		return nil, err
	}
	for i := range st.Agents {
		if match(&st.Agents[i]) {
			a := st.Agents[i]
			return &a, nil
		}
	}
	return nil, errs.ErrNotFound
}

// cloneInvite deep-copies the mutable parts so callers cannot mutate stored
// state through returned pointers.
func cloneInvite(inv *model.BuyerInvite) model.BuyerInvite {
	out := *inv
	out.AuditEvents = make([]model.AuditEvent, len(inv.AuditEvents))
	copy(out.AuditEvents, inv.AuditEvents)
	for i := range out.AuditEvents {
		if m := out.AuditEvents[i].Metadata; m != nil {
			mc := make(map[string]string, len(m))
			for k, v := range m {
				mc[k] = v
			}
			out.AuditEvents[i].Metadata = mc
		}
	}
	if inv.SignatureData != nil {
		sig := *inv.SignatureData
		out.SignatureData = &sig
	}
	return out
}
