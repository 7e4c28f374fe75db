package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("notification topic is required")
)

// OrderStatusEvent is the message fanned out to customer-facing
// channels (SMS, email, web push) when an order changes state.
type OrderStatusEvent struct {
	OrderID     string            `json:"order_id"`
	TenantID    string            `json:"tenant_id"`
	Status      enums.OrderStatus `json:"status"`
	Environment enums.Environment `json:"environment"`
	Phone       string            `json:"phone,omitempty"`
	Email       string            `json:"email,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Notifier publishes order status events. Failures are logged by
// callers and never block a status transition.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, event OrderStatusEvent) error
}

// Client publishes notifications over Pub/Sub.
type Client struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	projectID string
	topic     string
}

// NewClient creates a Pub/Sub v2 client and verifies the notification
// topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	topic := strings.TrimSpace(cfg.NotificationTopic)
	if topic == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		topic:     topic,
	}

	if err := c.ensureTopicExists(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	c.publisher = psClient.Publisher(c.topicResourceName())

	if logg != nil {
		logg.Info(ctx, "notification publisher initialized")
	}

	return c, nil
}

// OrderStatusChanged publishes the event and waits for the server ack.
func (c *Client) OrderStatusChanged(ctx context.Context, event OrderStatusEvent) error {
	if c == nil || c.publisher == nil {
		return errors.New("notifier not initialized")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	result := c.publisher.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"order_id":    event.OrderID,
			"status":      event.Status.String(),
			"environment": event.Environment.String(),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Ping verifies Pub/Sub connectivity by checking the topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("notifier not initialized")
	}
	return c.ensureTopicExists(ctx)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) ensureTopicExists(ctx context.Context) error {
	fullName := c.topicResourceName()
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		// v2 uses gRPC errors; NotFound means the topic doesn't exist.
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", c.topic)
		}
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
	return nil
}

func (c *Client) topicResourceName() string {
	if strings.HasPrefix(c.topic, "projects/") && strings.Contains(c.topic, "/topics/") {
		return c.topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", c.projectID, c.topic)
}

// Nop is a Notifier that drops every event. Used when Pub/Sub is not
// configured, typically in local development.
type Nop struct{}

// OrderStatusChanged implements Notifier.
func (Nop) OrderStatusChanged(context.Context, OrderStatusEvent) error { return nil }
