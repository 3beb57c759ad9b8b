package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSConfig holds AWS SNS configuration
type SNSConfig struct {
	Region   string
	TopicARN string
}

// SNSAlertService publishes operator alerts to an SNS topic, from where
// on-call routing (PagerDuty, Slack, SMS) fans out.
type SNSAlertService struct {
	snsClient *sns.Client
	config    SNSConfig
	logger    *zap.Logger
}

// NewSNSAlertService creates a new SNS alert publisher
func NewSNSAlertService(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSAlertService, error) {
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("sns topic ARN is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SNSAlertService{
		snsClient: sns.NewFromConfig(awsCfg),
		config:    cfg,
		logger:    logger,
	}, nil
}

// AlertMessage is the payload published for every alert
type AlertMessage struct {
	Severity string            `json:"severity"` // critical, warning
	Kind     string            `json:"kind"`     // relay_failed, monitor_fatal
	Summary  string            `json:"summary"`
	Details  map[string]string `json:"details,omitempty"`
}

// Publish sends one alert to the configured topic
func (s *SNSAlertService) Publish(ctx context.Context, subject string, msg AlertMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	_, err = s.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"severity": {DataType: aws.String("String"), StringValue: aws.String(msg.Severity)},
			"kind":     {DataType: aws.String("String"), StringValue: aws.String(msg.Kind)},
		},
	})
	if err != nil {
		s.logger.Error("Failed to publish alert via SNS",
			zap.String("kind", msg.Kind),
			zap.Error(err))
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	s.logger.Info("Alert published",
		zap.String("kind", msg.Kind),
		zap.String("severity", msg.Severity))
	return nil
}

// HealthCheck verifies SNS connectivity
func (s *SNSAlertService) HealthCheck(ctx context.Context) error {
	_, err := s.snsClient.ListTopics(ctx, &sns.ListTopicsInput{})
	return err
}
