package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Email is one message handed to the gateway.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Kind classifies a failed send. The worker's retry decision is a total
// function over these two values.
type Kind int

const (
	// KindTransient failures may succeed later: network errors, timeouts,
	// rate limiting, 5xx.
	KindTransient Kind = iota
	// KindPermanent failures will not succeed on retry: rejected recipient,
	// malformed request.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the only error type a Client returns.
type Error struct {
	Kind Kind
	// StatusCode is the gateway's HTTP status, zero when no response arrived.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s gateway error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(err error) *Error { return &Error{Kind: KindTransient, Err: err} }

func Permanent(err error) *Error { return &Error{Kind: KindPermanent, Err: err} }

// KindOf returns the classification of err. Errors that did not come from a
// Client are treated as transient so a task is never dropped on an
// unexpected error.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindTransient
}

// ErrUnavailable marks a send that was refused locally without reaching the
// gateway. It is transient, but the attempt does not count against the task.
var ErrUnavailable = errors.New("email gateway unavailable")

// Client abstracts delivery to an external transactional email API.
// Send returns nil on acceptance, otherwise a *Error.
type Client interface {
	Send(ctx context.Context, email Email) error
}
