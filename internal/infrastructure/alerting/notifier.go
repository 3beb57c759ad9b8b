// Package alerting fans operator alerts out to Sentry, email, and SNS.
// Alert delivery is best effort: a failed notification is logged and
// dropped, never propagated back into the pipeline that raised it.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/internal/infrastructure/adapters"
)

// EmailSender delivers alert emails
type EmailSender interface {
	SendRelayFailureAlert(ctx context.Context, messageHash string, destinationDomain uint32, reason, lastError string, attempts int) error
	SendMonitorFatalAlert(ctx context.Context, chain, cause string) error
}

// TopicPublisher pushes alerts to a pub/sub topic
type TopicPublisher interface {
	Publish(ctx context.Context, subject string, msg adapters.AlertMessage) error
}

// Notifier is the single alert entry point for the submitter and the
// monitor supervisor. Channels are optional; a nil channel is skipped.
type Notifier struct {
	email  EmailSender
	topic  TopicPublisher
	logger *zap.Logger
}

// NewNotifier creates a notifier over the configured channels
func NewNotifier(email EmailSender, topic TopicPublisher, logger *zap.Logger) *Notifier {
	return &Notifier{
		email:  email,
		topic:  topic,
		logger: logger,
	}
}

// RelayFailed reports a terminally failed relay job
func (n *Notifier) RelayFailed(ctx context.Context, job *entities.RelayJob, reason string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("message_hash", job.MessageHash)
		scope.SetTag("reason", reason)
		scope.SetExtra("destination_domain", job.DestinationDomain)
		scope.SetExtra("attempts", job.AttemptCount)
		sentry.CaptureMessage(fmt.Sprintf("relay failed: %s", job.LastError))
	})

	if n.email != nil {
		if err := n.email.SendRelayFailureAlert(ctx, job.MessageHash, job.DestinationDomain, reason, job.LastError, job.AttemptCount); err != nil {
			n.logger.Warn("relay failure email not delivered", zap.Error(err))
		}
	}

	if n.topic != nil {
		err := n.topic.Publish(ctx, "Relay job failed", adapters.AlertMessage{
			Severity: "critical",
			Kind:     "relay_failed",
			Summary:  fmt.Sprintf("relay of %s failed: %s", job.MessageHash, reason),
			Details: map[string]string{
				"message_hash":       job.MessageHash,
				"destination_domain": fmt.Sprintf("%d", job.DestinationDomain),
				"reason":             reason,
				"last_error":         job.LastError,
				"attempts":           fmt.Sprintf("%d", job.AttemptCount),
			},
		})
		if err != nil {
			n.logger.Warn("relay failure alert not published", zap.Error(err))
		}
	}
}

// MonitorFatal reports a chain monitor that exhausted its reconnect budget
func (n *Notifier) MonitorFatal(ctx context.Context, chain string, cause error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("chain", chain)
		sentry.CaptureException(cause)
	})

	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	if n.email != nil {
		if err := n.email.SendMonitorFatalAlert(ctx, chain, causeText); err != nil {
			n.logger.Warn("monitor fatal email not delivered", zap.Error(err))
		}
	}

	if n.topic != nil {
		err := n.topic.Publish(ctx, "Chain monitor down", adapters.AlertMessage{
			Severity: "critical",
			Kind:     "monitor_fatal",
			Summary:  fmt.Sprintf("monitor for %s stopped after exhausting reconnects", chain),
			Details: map[string]string{
				"chain": chain,
				"cause": causeText,
			},
		})
		if err != nil {
			n.logger.Warn("monitor fatal alert not published", zap.Error(err))
		}
	}
}

// InitSentry configures the global Sentry client. An empty DSN disables
// capture without an error so local runs need no setup.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

// FlushSentry drains buffered events before shutdown
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
