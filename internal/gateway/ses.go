package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient delivers email through AWS SES v2.
type SESClient struct {
	api     SESAPI
	from    string
	timeout time.Duration
}

func NewSESClient(api SESAPI, from string, timeout time.Duration) *SESClient {
	return &SESClient{api: api, from: from, timeout: timeout}
}

// NewSESClientFromCredentials loads an AWS config for region. Static
// credentials are used when both keys are set, otherwise the default chain.
func NewSESClientFromCredentials(ctx context.Context, region, accessKey, secretKey, from string, timeout time.Duration) (*SESClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESClient(sesv2.NewFromConfig(cfg), from, timeout), nil
}

func (c *SESClient) Send(ctx context.Context, email Email) error {
	if err := validateRecipient(email.To); err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	_, err := c.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.from),
		Destination:      &types.Destination{ToAddresses: []string{email.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(email.HTML), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(email.Text), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return &Error{Kind: ClassifySESError(err), Err: fmt.Errorf("ses send: %w", err)}
	}
	return nil
}

var sesThrottlingCodes = map[string]struct{}{
	"TooManyRequestsException": {},
	"LimitExceededException":   {},
	"Throttling":               {},
	"ThrottlingException":      {},
}

// ClassifySESError maps an SES SDK error to a failure kind. Throttling and
// server faults are transient, other client faults are permanent, and
// anything without an API error code (network, timeout) is transient.
func ClassifySESError(err error) Kind {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return KindTransient
	}
	if _, ok := sesThrottlingCodes[apiErr.ErrorCode()]; ok {
		return KindTransient
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return KindPermanent
	}
	return KindTransient
}

var _ Client = (*SESClient)(nil)
