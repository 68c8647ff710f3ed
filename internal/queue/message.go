// Package queue carries sync triggers through a Redis stream. Both the
// interval ticker and the admin API enqueue here; a single consumer drains
// the stream so runs never overlap.
package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// TriggerMessage is one queued request to start a sync run.
type TriggerMessage struct {
	ID          string
	Trigger     model.RunTrigger
	RequestedAt time.Time
	Raw         redis.XMessage
}

func parseMessage(msg redis.XMessage) (TriggerMessage, error) {
	parsed := TriggerMessage{ID: msg.ID, Raw: msg}

	trigger, ok := msg.Values["trigger"].(string)
	if !ok || trigger == "" {
		return parsed, fmt.Errorf("message %s has no trigger field", msg.ID)
	}
	switch model.RunTrigger(trigger) {
	case model.RunTriggerInterval, model.RunTriggerManual:
		parsed.Trigger = model.RunTrigger(trigger)
	default:
		return parsed, fmt.Errorf("message %s has unknown trigger %q", msg.ID, trigger)
	}

	if raw, ok := msg.Values["requested_at"].(string); ok {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			parsed.RequestedAt = time.UnixMilli(millis).UTC()
		}
	}

	return parsed, nil
}
