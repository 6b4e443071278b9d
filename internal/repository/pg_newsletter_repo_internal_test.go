package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

func TestMapTxError(t *testing.T) {
	tests := []struct {
		code     string
		conflict bool
	}{
		{pgerrcode.LockNotAvailable, true},
		{pgerrcode.SerializationFailure, true},
		{pgerrcode.DeadlockDetected, true},
		{pgerrcode.UniqueViolation, false},
		{pgerrcode.ConnectionFailure, false},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			err := mapTxError(errors.Join(errors.New("insert idempotency key"), &pgconn.PgError{Code: tc.code}))
			assert.Equal(t, tc.conflict, errors.Is(err, domain.ErrConflict))
		})
	}

	plain := errors.New("boom")
	assert.Same(t, plain, mapTxError(plain))
}
