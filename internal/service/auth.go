// Package service contains application services for authentication, invites
// and reporting.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/dwellingly/buyersign/internal/crypto"
	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/limiter"
	"github.com/dwellingly/buyersign/internal/model"
	"github.com/dwellingly/buyersign/internal/repository"
)

// AuthService defines agent authentication operations.
type AuthService interface {
	// Register creates a new agent with secure password hashing.
	Register(ctx context.Context, username, password string) (agentID string, err error)
	// LoginWithIP applies rate-limiting and authenticates the agent.
	LoginWithIP(ctx context.Context, username, password, ip string) (tokens model.Tokens, agent model.Agent, err error)
}

type AuthServiceImpl struct {
	agents    repository.AgentRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(agents repository.AgentRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{agents: agents, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// Register creates a new agent record with a per-agent salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", errors.New("empty username/password")
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	a := &model.Agent{
		ID:       uid,
		Username: username,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), saltAuth),
		SaltAuth: saltAuth,
	}
	if err := s.agents.Create(ctx, a); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.Agent, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.Agent{}, err
	}
	if !allowed {
		return model.Tokens{}, model.Agent{}, errs.ErrRateLimited
	}

	a, err := s.agents.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), a.SaltAuth, a.PwdHash) {
		// Record failure; if threshold reached, surface the lockout.
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.Agent{}, errs.ErrRateLimited
		}
		// Lookup errors are masked as unauthorized to hide account existence.
		return model.Tokens{}, model.Agent{}, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(a.ID)
	if err != nil {
		return model.Tokens{}, model.Agent{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *a, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(agentID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   agentID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
