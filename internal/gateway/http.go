package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// SendRequest is the JSON body posted to {baseURL}/api/send.
type SendRequest struct {
	From     Address   `json:"from"`
	To       []Address `json:"to"`
	Subject  string    `json:"subject"`
	Text     string    `json:"text"`
	HTML     string    `json:"html"`
	Category string    `json:"category"`
}

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HTTPClient delivers email through a bearer-token JSON API.
// The base URL is injected from config so tests can point to a local mock.
type HTTPClient struct {
	baseURL    string
	sender     Address
	token      string
	httpClient *http.Client
}

// NewHTTPClient builds a client whose every request is bounded by timeout.
func NewHTTPClient(baseURL string, sender Address, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		sender:  sender,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the email and classifies the outcome:
// 2xx is success; transport errors, timeouts, 408, 429 and 5xx are
// transient; every other status and a malformed recipient are permanent.
func (c *HTTPClient) Send(ctx context.Context, email Email) error {
	if err := validateRecipient(email.To); err != nil {
		return err
	}

	body, err := json.Marshal(SendRequest{
		From:    c.sender,
		To:      []Address{{Email: email.To}},
		Subject: email.Subject,
		Text:    email.Text,
		HTML:    email.HTML,
	})
	if err != nil {
		return Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &Error{
		Kind:       ClassifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected gateway status: %s", strings.TrimSpace(string(snippet))),
	}
}

// ClassifyStatus maps a non-2xx HTTP status to a failure kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

func validateRecipient(to string) error {
	if err := validation.Validate(to, validation.Required, is.EmailFormat); err != nil {
		return Permanent(fmt.Errorf("invalid recipient %q: %w", to, err))
	}
	return nil
}

// compile-time check that HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
