package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NotifyChannelPrefix is followed by the cache key of the prewarmed request.
const NotifyChannelPrefix = "render_notify:"

// RenderNotifyMessage 通过 Redis Pub/Sub 通知预渲染结果。
// 注意：这里的字段名与订阅方解析保持一致。
type RenderNotifyMessage struct {
	Status        string `json:"status"`
	Key           string `json:"key"`
	Template      string `json:"template"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

// Publisher is the subset of the Redis client used for notifications.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NotifyChannel returns the channel subscribers listen on for key.
func NotifyChannel(key string) string {
	return NotifyChannelPrefix + key
}

func publishRenderNotify(ctx context.Context, publisher Publisher, notify RenderNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(notify.Key)
	if err := publisher.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
