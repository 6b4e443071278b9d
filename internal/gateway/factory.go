package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/config"
)

// FromConfig builds the client selected by cfg.EmailGateway and wraps it
// in a circuit breaker.
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Breaker, error) {
	var client Client
	switch cfg.EmailGateway {
	case "http":
		client = NewHTTPClient(
			cfg.EmailBaseURL,
			Address{Email: cfg.EmailSender, Name: cfg.EmailSenderName},
			cfg.EmailAuthToken,
			cfg.EmailTimeout,
		)
	case "ses":
		ses, err := NewSESClientFromCredentials(ctx,
			cfg.SESRegion, cfg.SESAccessKey, cfg.SESSecretKey,
			cfg.EmailSender, cfg.EmailTimeout,
		)
		if err != nil {
			return nil, err
		}
		client = ses
	default:
		return nil, fmt.Errorf("unknown email gateway %q", cfg.EmailGateway)
	}

	logger.Info("email gateway configured", zap.String("gateway", cfg.EmailGateway))
	return NewBreaker(client, cfg.BreakerFailures, cfg.BreakerOpenDelay, logger), nil
}
