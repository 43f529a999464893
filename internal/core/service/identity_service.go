package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/policy"
)

// RoleLookup resolves a user's role binding.
type RoleLookup interface {
	UserRole(ctx context.Context, userID string) (*domain.UserRole, error)
}

// IdentityService turns a signed session token into an identity. The token
// only proves who the user is; role and territory always come from the role
// store so a stale token cannot widen access.
type IdentityService struct {
	roles     RoleLookup
	jwtSecret string
	tokenTTL  time.Duration
	log       zerolog.Logger
}

func NewIdentityService(roles RoleLookup, jwtSecret string, tokenTTL time.Duration, log zerolog.Logger) *IdentityService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &IdentityService{
		roles:     roles,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		log:       log.With().Str("component", "identity").Logger(),
	}
}

// Resolve verifies token and returns the identity it belongs to.
func (s *IdentityService) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	userID, err := s.subject(token)
	if err != nil {
		return nil, err
	}

	binding, err := s.roles.UserRole(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	id := binding.Identity()
	if err := policy.Validate(id); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("user role binding cannot be scoped")
		return nil, err
	}
	return &id, nil
}

// IssueToken signs a session token for userID.
func (s *IdentityService) IssueToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.tokenTTL).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.jwtSecret))
}

func (s *IdentityService) subject(token string) (string, error) {
	claims := jwt.MapClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !tkn.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	return sub, nil
}

// SessionIdentity is the watched identity of the running session. Every
// change is broadcast to subscribers; setting an equal identity is silent.
type SessionIdentity struct {
	mu      sync.Mutex
	current *domain.Identity
	subs    []chan *domain.Identity
}

func NewSessionIdentity() *SessionIdentity {
	return &SessionIdentity{}
}

// Current returns a copy of the current identity, or nil.
func (s *SessionIdentity) Current() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	id := *s.current
	return &id
}

// Set replaces the identity. Pass nil to sign out.
func (s *SessionIdentity) Set(id *domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Equal(id) {
		return
	}
	if id != nil {
		cp := *id
		id = &cp
	}
	s.current = id
	for _, ch := range s.subs {
		// Only the latest value matters to a slow subscriber.
		select {
		case <-ch:
		default:
		}
		ch <- id
	}
}

// Updates returns a channel that receives every identity change, starting
// with the current value if one is set.
func (s *SessionIdentity) Updates() <-chan *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *domain.Identity, 1)
	if s.current != nil {
		id := *s.current
		ch <- &id
	}
	s.subs = append(s.subs, ch)
	return ch
}
