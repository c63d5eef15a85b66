package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub orders topic is required")
	errClosed            = errors.New("pubsub client not initialized")

	// ErrUnknownTopic is returned by Send for a topic that cannot be resolved
	// to a resource name. Retrying will not help.
	ErrUnknownTopic = errors.New("unknown pubsub topic")
)

// Client publishes order events. The storefront never subscribes to its own
// topics, so only the publishing side is wrapped. Publishers are created once
// per topic with message ordering on, so events sharing an ordering key are
// delivered in the order they were sent.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to Pub/Sub and fails fast when the orders topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.OrdersTopic) == "" {
		return nil, errNoTopic
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.EnsureTopics(ctx, cfg.OrdersTopic); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.OrdersTopic), "pubsub client ready")
	}
	return c, nil
}

// EnsureTopics checks that every topic exists. Topics are provisioned by
// infrastructure, never created here.
func (c *Client) EnsureTopics(ctx context.Context, names ...string) error {
	if c == nil || c.client == nil {
		return errClosed
	}
	for _, name := range names {
		full := topicResourceName(c.projectID, name)
		if full == "" {
			return fmt.Errorf("topic %q: %w", name, ErrUnknownTopic)
		}
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("topic %q does not exist", name)
		case err != nil:
			return fmt.Errorf("checking topic %q: %w", name, err)
		}
	}
	return nil
}

// Publisher returns the shared publisher for name, or nil when the client is
// closed or the name cannot be resolved.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := topicResourceName(c.projectID, name)
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	p.EnableMessageOrdering = true
	c.publishers[full] = p
	return p
}

// Send publishes msg and waits for the server id. After a failed ordered
// publish the key is resumed, otherwise every later message for the same
// order would be rejected without being sent.
func (c *Client) Send(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
	p := c.Publisher(topic)
	if p == nil {
		return "", fmt.Errorf("topic %q: %w", topic, ErrUnknownTopic)
	}
	id, err := p.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		p.ResumePublish(msg.OrderingKey)
	}
	return id, err
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClosed
	}
	return c.EnsureTopics(ctx, c.cfg.OrdersTopic)
}

// Close flushes every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, p := range c.publishers {
		p.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/topics/" + n
}
