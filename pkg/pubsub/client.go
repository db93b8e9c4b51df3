// Package pubsub wraps the Pub/Sub v2 client with the topics and
// subscriptions each ledger binary depends on.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig

	// Full resource names verified by Ping.
	topics        []string
	subscriptions []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

type Option func(*Client)

// WithTopics makes the client verify topics it will publish to.
func WithTopics(names ...string) Option {
	return func(c *Client) {
		for _, n := range names {
			if full := resourceName(c.project, "topics", n); full != "" {
				c.topics = append(c.topics, full)
			}
		}
	}
}

// WithSubscriptions makes the client verify subscriptions it will drain.
func WithSubscriptions(names ...string) Option {
	return func(c *Client) {
		for _, n := range names {
			if full := resourceName(c.project, "subscriptions", n); full != "" {
				c.subscriptions = append(c.subscriptions, full)
			}
		}
	}
}

// NewClient dials Pub/Sub and fails when a required resource is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	c := &Client{project: project, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	raw, err := pubsub.NewClient(ctx, project, clientOptions(gcp, cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c.client = raw
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project":       project,
			"topics":        len(c.topics),
			"subscriptions": len(c.subscriptions),
			"emulator":      cfg.EmulatorHost != "",
		}), "pubsub client initialized")
	}
	return c, nil
}

// clientOptions picks the emulator, then inline credentials, then a key
// file. With none set the client uses application default credentials.
func clientOptions(gcp config.GCPConfig, cfg config.PubSubConfig) []option.ClientOption {
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		return []option.ClientOption{
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		}
	}
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// Ping looks up every required topic and subscription and reports all the
// missing ones together.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	var err error
	for _, name := range c.topics {
		_, getErr := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		err = multierr.Append(err, lookupError("topic", name, getErr))
	}
	for _, name := range c.subscriptions {
		_, getErr := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
		err = multierr.Append(err, lookupError("subscription", name, getErr))
	}
	return err
}

func lookupError(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %s does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %s: %w", kind, name, err)
	}
}

// Subscription returns a subscriber for a subscription ID or full name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.project, "subscriptions", name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// ProductionSubscription is the subscriber the ledger worker drains.
func (c *Client) ProductionSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	sub := c.Subscription(c.cfg.ProductionSubscription)
	if sub != nil && c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}
	return sub
}

// Publish sends msg on a per-topic cached publisher and waits for the ack.
func (c *Client) Publish(ctx context.Context, topic string, msg *pubsub.Message) error {
	pub, err := c.publisher(topic)
	if err != nil {
		return err
	}
	_, err = pub.Publish(ctx, msg).Get(ctx)
	return err
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errNotInitialized
	}
	full := resourceName(c.project, "topics", topic)
	if full == "" {
		return nil, fmt.Errorf("invalid topic %q", topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[full]; ok {
		return pub, nil
	}
	if c.publishers == nil {
		c.publishers = make(map[string]*pubsub.Publisher)
	}
	pub := c.client.Publisher(full)
	c.publishers[full] = pub
	return pub, nil
}

// Close flushes cached publishers, then closes the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = nil
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName expands an ID to projects/<project>/<collection>/<id>. Names
// that are already fully qualified pass through.
func resourceName(project, collection, name string) string {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, "projects/"):
		return n
	case project == "":
		return ""
	}
	return "projects/" + project + "/" + collection + "/" + n
}
