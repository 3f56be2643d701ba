package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/ragdesk/internal/events"
)

// SubjectPrefix roots every subject ragdesk publishes on.
const SubjectPrefix = "ragdesk"

// SubjectCancelChat is listened on for remote requests to abort the
// outstanding chat turn.
const SubjectCancelChat = SubjectPrefix + ".command.chat.cancel"

// Subject maps an event type to its NATS subject, e.g. "upload.progress"
// becomes "ragdesk.upload.progress".
func Subject(eventType string) string {
	t := strings.Trim(strings.ReplaceAll(eventType, " ", "_"), ".")
	if t == "" {
		t = "unknown"
	}
	return SubjectPrefix + "." + t
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("ragdesk"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Emit publishes an event on its subject. Failures are logged; the queue
// and chat layers never wait on the bus.
func (c *Client) Emit(e events.Event) {
	if err := c.Publish(Subject(e.Type), e); err != nil {
		c.logger.Warn("publish event failed", "type", e.Type, "error", err)
	}
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Close flushes pending publishes before closing the connection.
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if err := c.conn.FlushTimeout(2 * time.Second); err != nil {
		c.logger.Warn("nats flush failed", "error", err)
	}
	c.conn.Close()
}
