// Package notify delivers coach notifications raised by the rule engine.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/liamcoop/dietrules/rules"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel notifications are published on
const DefaultChannel = "dietrules:notifications"

// LogNotifier writes every notification as a structured log line
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n at info level
func (l *LogNotifier) Notify(ctx context.Context, n rules.Notification) error {
	l.logger.InfoContext(ctx, "coach notification",
		"kind", n.Kind,
		"coach_id", n.CoachID,
		"rule_id", n.RuleID,
		"rule_name", n.RuleName,
		"diet_id", n.DietID,
		"event_type", n.EventType,
		"execution_id", n.ExecutionID,
		"pending_id", n.PendingID,
	)
	return nil
}

// RedisNotifier publishes notifications as JSON on a Redis channel for the
// coach-facing services to pick up
type RedisNotifier struct {
	client  redis.Cmdable
	channel string
}

// NewRedisNotifier creates a RedisNotifier. An empty channel uses DefaultChannel.
func NewRedisNotifier(client redis.Cmdable, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Channel returns the channel notifications are published on
func (r *RedisNotifier) Channel() string {
	return r.channel
}

// Notify publishes n
func (r *RedisNotifier) Notify(ctx context.Context, n rules.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Multi fans a notification out to every notifier and joins their errors
type Multi []rules.Notifier

// Notify delivers n to every notifier, even when an earlier one fails
func (m Multi) Notify(ctx context.Context, n rules.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRedisClient parses a redis:// URL and verifies the server answers
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
