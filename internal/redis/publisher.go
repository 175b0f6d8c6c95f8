package redisclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher pushes already-encoded notifications onto per-user channels so
// connected clients can be told about them without polling.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("notifications:%s", userID.String())
}

func (p *Publisher) Publish(ctx context.Context, userID uuid.UUID, payload []byte) error {
	if err := p.client.Publish(ctx, UserChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
