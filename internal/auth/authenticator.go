package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
)

// Challenge is the WWW-Authenticate value sent with every 401 so clients
// know to retry with Basic credentials.
const Challenge = `Basic realm="publish"`

// dummyHash is verified against when the username is unknown so that a
// missing user costs the same as a wrong password.
const dummyHash = "$argon2id$v=19$m=15000,t=2,p=1$" +
	"gZiV/M1gPc22ElAH/Jh1Hw$" +
	"CWOrkoo7oJBQ/iyh7uJ0LO2aLEfrHwTWllSAxT0zRno"

// Authenticator checks publisher credentials against the users table.
type Authenticator struct {
	users  repository.UserRepository
	logger *zap.Logger
}

func NewAuthenticator(users repository.UserRepository, logger *zap.Logger) *Authenticator {
	return &Authenticator{users: users, logger: logger}
}

// Authenticate returns the user id for a valid username/password pair.
// Unknown users and wrong passwords both yield domain.ErrUnauthorized;
// any other error is a storage failure.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (uuid.UUID, error) {
	userID, hash, err := a.users.GetCredentials(ctx, username)
	known := true
	switch {
	case errors.Is(err, domain.ErrNotFound):
		known = false
		hash = dummyHash
	case err != nil:
		return uuid.Nil, fmt.Errorf("load credentials: %w", err)
	}

	ok, err := VerifyPassword(hash, password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("verify password: %w", err)
	}
	if !known {
		a.logger.Info("authentication failed: unknown username", zap.String("username", username))
		return uuid.Nil, domain.ErrUnauthorized
	}
	if !ok {
		a.logger.Info("authentication failed: invalid password", zap.String("username", username))
		return uuid.Nil, domain.ErrUnauthorized
	}
	return userID, nil
}

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID stores the authenticated user on ctx.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFrom returns the user stored by WithUserID.
func UserIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}
