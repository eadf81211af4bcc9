package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
	"github.com/dwellingly/buyersign/internal/repository"
)

type fakeAgentRepo struct {
	byName    map[string]*model.Agent
	createErr error
}

var _ repository.AgentRepository = (*fakeAgentRepo)(nil)

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{byName: make(map[string]*model.Agent)}
}

func (f *fakeAgentRepo) Create(_ context.Context, a *model.Agent) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byName[a.Username]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *a
	f.byName[a.Username] = &cp
	return nil
}

func (f *fakeAgentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Agent, error) {
	for _, a := range f.byName {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeAgentRepo) GetByUsername(_ context.Context, username string) (*model.Agent, error) {
	a, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// openLimiter always allows; it records failures for assertions.
type openLimiter struct {
	failures int
	blockOnN int // when >0, Failure reports blocked once failures reaches it
	denyAll  bool
}

func (l *openLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	if l.denyAll {
		return false, time.Minute, nil
	}
	return true, 0, nil
}
func (l *openLimiter) Success(context.Context, string, []byte) error { return nil }
func (l *openLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failures++
	if l.blockOnN > 0 && l.failures >= l.blockOnN {
		return true, time.Minute, nil
	}
	return false, 0, nil
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeAgentRepo()
	s := NewAuthService(repo, []byte("test-sign-key"), 15*time.Minute, &openLimiter{})

	agentID, err := s.Register(ctx, "agent_smith", "hunter2hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	tokens, agent, err := s.LoginWithIP(ctx, "agent_smith", "hunter2hunter2", "1.2.3.4:5678")
	require.NoError(t, err)
	require.Equal(t, agentID, agent.ID.String())
	require.False(t, tokens.ExpiresAt.IsZero())

	// Token is a valid HS256 JWT with the agent as subject.
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tokens.AccessToken, &claims, func(t *jwt.Token) (any, error) {
		return []byte("test-sign-key"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	require.Equal(t, agentID, claims.Subject)
}

func TestAuthService_Register_Validation(t *testing.T) {
	t.Parallel()
	s := NewAuthService(newFakeAgentRepo(), []byte("k"), time.Minute, &openLimiter{})
	_, err := s.Register(context.Background(), "", "pw")
	require.Error(t, err)
	_, err = s.Register(context.Background(), "user", "")
	require.Error(t, err)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeAgentRepo()
	lim := &openLimiter{}
	s := NewAuthService(repo, []byte("k"), time.Minute, lim)

	_, err := s.Register(ctx, "agent_smith", "correct")
	require.NoError(t, err)

	_, _, err = s.LoginWithIP(ctx, "agent_smith", "wrong", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, 1, lim.failures)

	// Unknown users produce the same error as wrong passwords.
	_, _, err = s.LoginWithIP(ctx, "ghost", "whatever", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuthService_Login_RateLimited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeAgentRepo()
	s := NewAuthService(repo, []byte("k"), time.Minute, &openLimiter{denyAll: true})

	_, err := s.Register(ctx, "agent_smith", "pw")
	require.NoError(t, err)
	_, _, err = s.LoginWithIP(ctx, "agent_smith", "pw", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrRateLimited)

	// Failure threshold reached mid-login also reports the lockout.
	s = NewAuthService(repo, []byte("k"), time.Minute, &openLimiter{blockOnN: 1})
	_, _, err = s.LoginWithIP(ctx, "agent_smith", "wrong", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrRateLimited)
}

func TestAuthService_Register_UsernameTaken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAuthService(newFakeAgentRepo(), []byte("k"), time.Minute, &openLimiter{})

	_, err := s.Register(ctx, "agent_smith", "pw1")
	require.NoError(t, err)
	_, err = s.Register(ctx, "agent_smith", "pw2")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.True(t, errors.Is(err, errs.ErrAlreadyExists))
}
