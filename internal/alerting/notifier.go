// Package alerting routes operational notices to chat-ops and paging
// channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/metrics"
)

// Severity orders notices.
type Severity string

// Severities, lowest first.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notice is one operational message.
type Notice struct {
	Severity  Severity
	Title     string
	Message   string
	Source    string
	Fields    map[string]string
	Timestamp time.Time
}

// Channel delivers notices to one destination.
type Channel interface {
	Name() string
	Accepts(sev Severity) bool
	Send(ctx context.Context, n Notice) error
}

// RetryConfig bounds delivery retries per channel.
type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// Notifier fans notices out to channels. When disabled only the log
// channel sees them.
type Notifier struct {
	enabled  bool
	channels []Channel
	log      Channel
	retry    RetryConfig
	logger   *zap.Logger
}

// NewNotifier builds a Notifier. The log channel is always present.
func NewNotifier(enabled bool, logger *zap.Logger, retryCfg RetryConfig, channels ...Channel) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryCfg.Attempts == 0 {
		retryCfg.Attempts = 3
	}
	if retryCfg.Delay <= 0 {
		retryCfg.Delay = time.Second
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = 30 * time.Second
	}
	return &Notifier{
		enabled:  enabled,
		channels: channels,
		log:      NewLogChannel(logger),
		retry:    retryCfg,
		logger:   logger,
	}
}

// Enabled reports the master switch.
func (n *Notifier) Enabled() bool { return n.enabled }

// Notify delivers to every accepting channel. Failures are logged and
// joined; one failing channel does not stop the others.
func (n *Notifier) Notify(ctx context.Context, notice Notice) error {
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now().UTC()
	}
	_ = n.log.Send(ctx, notice)
	if !n.enabled {
		return nil
	}

	var errs []error
	for _, ch := range n.channels {
		if !ch.Accepts(notice.Severity) {
			continue
		}
		if err := n.deliver(ctx, ch, notice); err != nil {
			n.logger.Error("notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("severity", string(notice.Severity)),
				zap.String("source", notice.Source),
				zap.Error(err))
			metrics.ObserveNotification(ch.Name(), "failed")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		metrics.ObserveNotification(ch.Name(), "sent")
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, ch Channel, notice Notice) error {
	return retry.Do(
		func() error {
			return ch.Send(ctx, notice)
		},
		retry.Attempts(n.retry.Attempts),
		retry.Delay(n.retry.Delay),
		retry.MaxDelay(n.retry.MaxDelay),
		retry.MaxJitter(n.retry.Delay/2),
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.Warn("retrying notification",
				zap.String("channel", ch.Name()),
				zap.Uint("attempt", attempt),
				zap.Error(err))
		}),
		retry.RetryIf(func(err error) bool {
			var de *DeliveryError
			if errors.As(err, &de) {
				return de.Retryable()
			}
			return true
		}),
	)
}

// DeliveryError is a non-2xx response from a webhook.
type DeliveryError struct {
	Channel    string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s responded %d", e.Channel, e.StatusCode)
}

// Retryable reports whether another attempt could succeed.
func (e *DeliveryError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// LogChannel writes notices to the structured log.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel builds a LogChannel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("notice")}
}

// Name implements Channel.
func (*LogChannel) Name() string { return "log" }

// Accepts implements Channel.
func (*LogChannel) Accepts(Severity) bool { return true }

// Send implements Channel.
func (c *LogChannel) Send(_ context.Context, n Notice) error {
	fields := []zap.Field{
		zap.String("severity", string(n.Severity)),
		zap.String("source", n.Source),
		zap.String("message", n.Message),
		zap.Time("timestamp", n.Timestamp),
	}
	for k, v := range n.Fields {
		fields = append(fields, zap.String(k, v))
	}
	switch n.Severity {
	case SeverityCritical:
		c.logger.Error(n.Title, fields...)
	case SeverityWarning:
		c.logger.Warn(n.Title, fields...)
	default:
		c.logger.Info(n.Title, fields...)
	}
	return nil
}
