package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"

	"github.com/nimasrn/school-notify/internal/model"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// loadAWSConfig uses the snapshot's key pair when present and the default
// credential chain otherwise.
func loadAWSConfig(ctx context.Context, cfg *model.ProviderConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.APIKey, cfg.APISecret, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}

func newSESService(ctx context.Context, cfg *model.ProviderConfig) (SESService, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ses.NewFromConfig(awsCfg), nil
}

func newSNSService(ctx context.Context, cfg *model.ProviderConfig) (SNSService, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(awsCfg), nil
}

var awsPermanentCodes = map[string]bool{
	"MessageRejected":                       true,
	"MailFromDomainNotVerifiedException":    true,
	"ConfigurationSetDoesNotExistException": true,
	"AccountSendingPausedException":         true,
	"InvalidParameter":                      true,
	"InvalidParameterValue":                 true,
	"InvalidParameterException":             true,
	"InvalidParameterValueException":        true,
	"AuthorizationErrorException":           true,
	"OptedOutException":                     true,
	"EndpointDisabledException":             true,
	"ValidationError":                       true,
	"AccessDenied":                          true,
	"AccessDeniedException":                 true,
}

// classifyAWS maps SDK errors onto DeliveryErrors. Throttling and service
// faults stay transient.
func classifyAWS(err error) *DeliveryError {
	if isTimeout(err) {
		return ErrTimeout
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if awsPermanentCodes[code] || (apiErr.ErrorFault() == smithy.FaultClient && !isThrottle(code)) {
			return Permanent(code, "%s: %s", code, apiErr.ErrorMessage())
		}
		return Transient(code, "%s: %s", code, apiErr.ErrorMessage())
	}
	return Transient("aws", "aws request failed: %v", err)
}

func isThrottle(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "ThrottledException", "TooManyRequestsException", "RequestLimitExceeded", "KMSThrottlingException":
		return true
	}
	return false
}
