// Package realtime publishes crawl events to NATS JetStream.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/nats-io/nats.go"
)

// StreamCrawler is the JetStream stream holding every crawl event.
const StreamCrawler = "CRAWLER"

// Subject patterns for event routing.
const (
	SubjectDiscoveryCompleted = "crawler.discovery.completed"
	SubjectProgramScraped     = "crawler.program.scraped"
	SubjectRunCompleted       = "crawler.run.completed"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	// MaxAge bounds how long events stay in the stream.
	MaxAge time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		Name:           "funding-crawler",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxAge:         7 * 24 * time.Hour,
	}
}

// Publisher receives crawl events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishProgramScraped(ctx context.Context, event ProgramScrapedEvent) error
	PublishDiscoveryCompleted(ctx context.Context, event DiscoveryCompletedEvent) error
	PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error
	Close() error
}

// NopPublisher drops every event. It is used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishProgramScraped(context.Context, ProgramScrapedEvent) error { return nil }

func (NopPublisher) PublishDiscoveryCompleted(context.Context, DiscoveryCompletedEvent) error {
	return nil
}

func (NopPublisher) PublishRunCompleted(context.Context, RunCompletedEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

// NATSClient wraps NATS connection and JetStream context.
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	log    *logger.Logger
	mu     sync.RWMutex
}

// NewNATSClient connects to NATS and ensures the crawler stream exists.
func NewNATSClient(ctx context.Context, cfg NATSConfig, log *logger.Logger) (*NATSClient, error) {
	if log == nil {
		log = logger.Default()
	}

	client := &NATSClient{
		config: cfg,
		log:    log.WithComponent("nats"),
	}

	if err := client.connect(); err != nil {
		return nil, err
	}
	if err := client.SetupStream(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

func (c *NATSClient) connect() error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.Timeout(c.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				c.log.WithError(err).Warn("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.log.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			c.log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.log.Info("connected to NATS", "url", c.config.URL)
	return nil
}

// SetupStream creates or updates the crawler stream.
func (c *NATSClient) SetupStream(ctx context.Context) error {
	cfg := nats.StreamConfig{
		Name:        StreamCrawler,
		Description: "Funding crawler events",
		Subjects:    []string{"crawler.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      c.config.MaxAge,
		MaxMsgs:     -1,
		MaxBytes:    -1,
		Replicas:    1,
		Discard:     nats.DiscardOld,
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	_, err := js.StreamInfo(cfg.Name, nats.Context(ctx))
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
		}
		if _, err := js.AddStream(&cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		c.log.Info("created stream", "stream", cfg.Name)
		return nil
	}

	if _, err := js.UpdateStream(&cfg, nats.Context(ctx)); err != nil {
		c.log.WithError(err).Warn("failed to update stream", "stream", cfg.Name)
	}
	return nil
}

// Publish publishes an event to a subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return errors.New("nats client is closed")
	}

	if _, err := js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.log.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// IsConnected returns true if connected to NATS.
func (c *NATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the NATS connection.
func (c *NATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.conn = nil
	c.js = nil
	c.log.Info("closed NATS connection")
	if err != nil {
		return fmt.Errorf("failed to drain connection: %w", err)
	}
	return nil
}

// PublishProgramScraped publishes a program scraped event.
func (c *NATSClient) PublishProgramScraped(ctx context.Context, event ProgramScrapedEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return c.Publish(ctx, SubjectProgramScraped, event)
}

// PublishDiscoveryCompleted publishes a discovery completed event.
func (c *NATSClient) PublishDiscoveryCompleted(ctx context.Context, event DiscoveryCompletedEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return c.Publish(ctx, SubjectDiscoveryCompleted, event)
}

// PublishRunCompleted publishes a run completed event.
func (c *NATSClient) PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error {
	if event.EventID == "" {
		return errors.New("invalid event: event_id is required")
	}
	return c.Publish(ctx, SubjectRunCompleted, event)
}
