package sink

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
)

// Chains holds the analyst and supervisory delivery chains
type Chains struct {
	Analyst     *Fanout
	Supervisors *Fanout
	redis       *redis.Client
}

// Build assembles sink chains from configuration. Both chains always log;
// Redis streams and webhooks are added when configured.
func Build(ctx context.Context, cfg config.SinkConfig, log *logger.Logger) (*Chains, error) {
	c := &Chains{}

	analyst := []notification.Sink{NewLogSink("log", log)}
	supervisors := []notification.Sink{NewLogSink("supervisor-log", log)}

	if cfg.RedisURL != "" {
		client, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.redis = client
		analyst = append(analyst, NewRedisStreamSink(client, cfg.NotificationStream))
		supervisors = append(supervisors, NewRedisStreamSink(client, cfg.EscalationStream))
	}
	if cfg.WebhookURL != "" {
		analyst = append(analyst, NewWebhookSink("webhook", cfg.WebhookURL, cfg.WebhookTimeout))
	}
	if cfg.SupervisorWebhook != "" {
		supervisors = append(supervisors, NewWebhookSink("supervisor-webhook", cfg.SupervisorWebhook, cfg.WebhookTimeout))
	}

	c.Analyst = NewFanout("analyst", analyst...)
	c.Supervisors = NewFanout("supervisors", supervisors...)
	return c, nil
}

// Close releases the Redis connection, if any
func (c *Chains) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
