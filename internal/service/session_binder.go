package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/certify-backend/internal/repository"
)

// Credential is the opaque token handed to the client for one attempt.
type Credential string

// Binding is a resolved credential.
type Binding struct {
	Credential Credential
	AttemptID  uuid.UUID
	ExpiresAt  time.Time
}

// sessionClaims extends JWT standard claims with the bound attempt.
type sessionClaims struct {
	jwt.RegisteredClaims
	AttemptID string `json:"attempt_id"`
}

// SessionBinder issues, resolves and revokes attempt credentials.
// A credential is an HS256 token whose jti must also be present in the
// store, so revocation takes effect before the token expires.
type SessionBinder struct {
	secret []byte
	ttl    time.Duration
	store  CredentialStore
	now    func() time.Time
}

// NewSessionBinder creates a new SessionBinder.
func NewSessionBinder(secret string, ttl time.Duration, store CredentialStore) *SessionBinder {
	return &SessionBinder{
		secret: []byte(secret),
		ttl:    ttl,
		store:  store,
		now:    time.Now,
	}
}

// Bind issues a credential scoping attemptID for the configured TTL.
func (b *SessionBinder) Bind(ctx context.Context, attemptID uuid.UUID) (*Binding, error) {
	now := b.now()
	jti := uuid.New().String()
	expiresAt := now.Add(b.ttl)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   attemptID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AttemptID: attemptID.String(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}

	if err := b.store.Put(ctx, jti, attemptID, b.ttl); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	return &Binding{
		Credential: Credential(token),
		AttemptID:  attemptID,
		ExpiresAt:  expiresAt.Truncate(time.Second),
	}, nil
}

// Resolve returns the attempt bound to cred, or ErrCredentialInvalid when the
// credential is malformed, expired or revoked.
func (b *SessionBinder) Resolve(ctx context.Context, cred Credential) (*Binding, error) {
	claims, err := b.parse(cred, true)
	if err != nil {
		return nil, err
	}
	attemptID, err := uuid.Parse(claims.AttemptID)
	if err != nil {
		return nil, ErrCredentialInvalid
	}

	stored, err := b.store.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCredentialInvalid
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if stored != attemptID {
		return nil, ErrCredentialInvalid
	}

	return &Binding{
		Credential: cred,
		AttemptID:  attemptID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Revoke makes cred unusable. Revoking twice, or revoking an expired
// credential, is not an error.
func (b *SessionBinder) Revoke(ctx context.Context, cred Credential) error {
	claims, err := b.parse(cred, false)
	if err != nil {
		return err
	}
	if err := b.store.Delete(ctx, claims.ID); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

func (b *SessionBinder) parse(cred Credential, validateExpiry bool) (*sessionClaims, error) {
	if cred == "" {
		return nil, ErrCredentialInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
	}
	if !validateExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(string(cred), &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrCredentialInvalid
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrCredentialInvalid
	}
	return claims, nil
}
