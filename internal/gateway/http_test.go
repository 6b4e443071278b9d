package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/newsletter-delivery/internal/gateway"
)

var testEmail = gateway.Email{
	To:      "ursula@example.com",
	Subject: "Issue #1",
	HTML:    "<p>Hello</p>",
	Text:    "Hello",
}

func newClient(url string, timeout time.Duration) *gateway.HTTPClient {
	return gateway.NewHTTPClient(url, gateway.Address{Email: "news@example.com", Name: "News"}, "secret-token", timeout)
}

func TestHTTPClient_SendsExpectedRequest(t *testing.T) {
	var got gateway.SendRequest
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/send", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newClient(srv.URL+"/", time.Second).Send(context.Background(), testEmail)
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "news@example.com", got.From.Email)
	require.Len(t, got.To, 1)
	assert.Equal(t, testEmail.To, got.To[0].Email)
	assert.Equal(t, testEmail.Subject, got.Subject)
	assert.Equal(t, testEmail.HTML, got.HTML)
	assert.Equal(t, testEmail.Text, got.Text)
}

func TestHTTPClient_ClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		ok     bool
		kind   gateway.Kind
	}{
		{http.StatusOK, true, 0},
		{http.StatusAccepted, true, 0},
		{http.StatusBadRequest, false, gateway.KindPermanent},
		{http.StatusUnauthorized, false, gateway.KindPermanent},
		{http.StatusUnprocessableEntity, false, gateway.KindPermanent},
		{http.StatusRequestTimeout, false, gateway.KindTransient},
		{http.StatusTooManyRequests, false, gateway.KindTransient},
		{http.StatusInternalServerError, false, gateway.KindTransient},
		{http.StatusServiceUnavailable, false, gateway.KindTransient},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := newClient(srv.URL, time.Second).Send(context.Background(), testEmail)
			if tc.ok {
				require.NoError(t, err)
				return
			}

			var gwErr *gateway.Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tc.kind, gwErr.Kind)
			assert.Equal(t, tc.status, gwErr.StatusCode)
		})
	}
}

func TestHTTPClient_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	err := newClient(srv.URL, 50*time.Millisecond).Send(context.Background(), testEmail)
	require.Error(t, err)
	assert.Equal(t, gateway.KindTransient, gateway.KindOf(err))
}

func TestHTTPClient_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newClient(url, time.Second).Send(context.Background(), testEmail)
	require.Error(t, err)
	assert.Equal(t, gateway.KindTransient, gateway.KindOf(err))
}

func TestHTTPClient_MalformedRecipientIsPermanentWithoutRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	bad := testEmail
	bad.To = "not-an-email"
	err := newClient(srv.URL, time.Second).Send(context.Background(), bad)

	require.Error(t, err)
	assert.Equal(t, gateway.KindPermanent, gateway.KindOf(err))
	assert.Zero(t, calls.Load())
}

func TestKindOf_UnknownErrorIsTransient(t *testing.T) {
	assert.Equal(t, gateway.KindTransient, gateway.KindOf(context.DeadlineExceeded))
	assert.Equal(t, "permanent", gateway.KindPermanent.String())
}
