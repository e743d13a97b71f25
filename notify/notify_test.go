package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/liamcoop/dietrules/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ rules.Notifier = (*LogNotifier)(nil)
	_ rules.Notifier = (*RedisNotifier)(nil)
	_ rules.Notifier = Multi(nil)
)

func sampleNotification() rules.Notification {
	return rules.Notification{
		Kind:        rules.NotificationRuleExecuted,
		CoachID:     "coach-1",
		RuleID:      "r1",
		RuleName:    "postre",
		DietID:      "d1",
		EventType:   rules.ConditionNegativeFeedback,
		ExecutionID: "e1",
		At:          time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC),
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), sampleNotification()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "coach notification", line["msg"])
	assert.Equal(t, "rule_executed", line["kind"])
	assert.Equal(t, "coach-1", line["coach_id"])
	assert.Equal(t, "feedback-negativo", line["event_type"])
}

func TestLogNotifierDefaultLogger(t *testing.T) {
	assert.NotNil(t, NewLogNotifier(nil).logger)
}

func TestRedisNotifierDefaultChannel(t *testing.T) {
	assert.Equal(t, DefaultChannel, NewRedisNotifier(nil, "").Channel())
	assert.Equal(t, "custom", NewRedisNotifier(nil, "custom").Channel())
}

func TestMultiDeliversToAll(t *testing.T) {
	var got []string
	record := func(name string, err error) rules.Notifier {
		return rules.NotifierFunc(func(_ context.Context, n rules.Notification) error {
			got = append(got, name+":"+n.RuleID)
			return err
		})
	}

	boom := errors.New("smtp down")
	m := Multi{record("first", boom), nil, record("second", nil)}

	err := m.Notify(context.Background(), sampleNotification())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first:r1", "second:r1"}, got)
}

func TestMultiEmpty(t *testing.T) {
	assert.NoError(t, Multi{}.Notify(context.Background(), sampleNotification()))
}

func TestNewRedisClientInvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not a url")
	assert.ErrorContains(t, err, "invalid redis URL")
}
