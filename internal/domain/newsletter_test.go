package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

func TestPublishRequest_Validate(t *testing.T) {
	valid := domain.PublishRequest{
		Title:       "Issue #1",
		HTMLContent: "<p>Hello</p>",
		TextContent: "Hello",
	}

	t.Run("valid request passes", func(t *testing.T) {
		require.NoError(t, valid.Validate())
	})

	t.Run("empty title", func(t *testing.T) {
		r := valid
		r.Title = ""
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidTitle)
	})

	t.Run("whitespace title", func(t *testing.T) {
		r := valid
		r.Title = "   "
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidTitle)
	})

	t.Run("title too long", func(t *testing.T) {
		r := valid
		r.Title = strings.Repeat("x", domain.MaxTitleLength+1)
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidTitle)
	})

	t.Run("title at max length passes", func(t *testing.T) {
		r := valid
		r.Title = strings.Repeat("é", domain.MaxTitleLength)
		assert.NoError(t, r.Validate())
	})

	t.Run("empty html content", func(t *testing.T) {
		r := valid
		r.HTMLContent = ""
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidHTMLContent)
	})

	t.Run("empty text content", func(t *testing.T) {
		r := valid
		r.TextContent = "\n\t"
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidTextContent)
	})

	t.Run("every failure is a validation error", func(t *testing.T) {
		r := domain.PublishRequest{}
		assert.True(t, errors.Is(r.Validate(), domain.ErrValidation))
	})
}

func TestValidateIdempotencyKey(t *testing.T) {
	assert.NoError(t, domain.ValidateIdempotencyKey("k1"))
	assert.ErrorIs(t, domain.ValidateIdempotencyKey(""), domain.ErrMissingIdempotencyKey)
	assert.ErrorIs(t, domain.ValidateIdempotencyKey("  "), domain.ErrMissingIdempotencyKey)
	assert.ErrorIs(t,
		domain.ValidateIdempotencyKey(strings.Repeat("k", domain.MaxIdempotencyKeyLength+1)),
		domain.ErrIdempotencyKeyTooLong)
	assert.ErrorIs(t, domain.ValidateIdempotencyKey(""), domain.ErrValidation)
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to domain.TaskStatus
		want     bool
	}{
		{domain.TaskPending, domain.TaskPending, true},
		{domain.TaskPending, domain.TaskSucceeded, true},
		{domain.TaskPending, domain.TaskFailed, true},
		{domain.TaskSucceeded, domain.TaskPending, false},
		{domain.TaskSucceeded, domain.TaskFailed, false},
		{domain.TaskFailed, domain.TaskPending, false},
		{domain.TaskFailed, domain.TaskSucceeded, false},
		{domain.TaskPending, "bogus", false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.False(t, domain.TaskPending.IsTerminal())
	assert.True(t, domain.TaskSucceeded.IsTerminal())
	assert.True(t, domain.TaskFailed.IsTerminal())
}
