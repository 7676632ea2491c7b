// Package testing provides test utilities including testcontainers setup.
package testing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerConfig holds configuration for test containers.
type ContainerConfig struct {
	RedisImage     string
	MinIOImage     string
	NATSImage      string
	MinIOUser      string
	MinIOPassword  string
	StartupTimeout time.Duration
}

// DefaultContainerConfig returns a default container configuration.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		RedisImage:     "redis:7-alpine",
		MinIOImage:     "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		NATSImage:      "nats:2.10-alpine",
		MinIOUser:      "minioadmin",
		MinIOPassword:  "minioadmin",
		StartupTimeout: 60 * time.Second,
	}
}

// TestContainers holds running test containers.
type TestContainers struct {
	RedisContainer *redis.RedisContainer
	MinIOContainer *minio.MinioContainer
	NATSContainer  testcontainers.Container

	// RedisAddr is host:port, ready for redis.Options.Addr.
	RedisAddr     string
	MinIOEndpoint string
	NATSURL       string

	config ContainerConfig
	logger *slog.Logger
}

// NewTestContainers prepares a container set. Nothing is started yet.
func NewTestContainers(config ContainerConfig, logger *slog.Logger) *TestContainers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestContainers{
		config: config,
		logger: logger.With("component", "testcontainers"),
	}
}

// StartRedis starts a Redis container.
func (tc *TestContainers) StartRedis(ctx context.Context) error {
	tc.logger.Info("starting Redis container", "image", tc.config.RedisImage)

	container, err := redis.Run(ctx,
		tc.config.RedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(tc.config.StartupTimeout),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start redis container: %w", err)
	}
	tc.RedisContainer = container

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection string: %w", err)
	}
	tc.RedisAddr = strings.TrimPrefix(connStr, "redis://")
	tc.logger.Info("Redis container started", "addr", tc.RedisAddr)

	return nil
}

// StartMinIO starts a MinIO container.
func (tc *TestContainers) StartMinIO(ctx context.Context) error {
	tc.logger.Info("starting MinIO container", "image", tc.config.MinIOImage)

	container, err := minio.Run(ctx,
		tc.config.MinIOImage,
		minio.WithUsername(tc.config.MinIOUser),
		minio.WithPassword(tc.config.MinIOPassword),
	)
	if err != nil {
		return fmt.Errorf("failed to start minio container: %w", err)
	}
	tc.MinIOContainer = container

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("failed to get minio endpoint: %w", err)
	}
	tc.MinIOEndpoint = endpoint
	tc.logger.Info("MinIO container started", "endpoint", endpoint)

	return nil
}

// StartNATS starts a NATS server with JetStream enabled.
func (tc *TestContainers) StartNATS(ctx context.Context) error {
	tc.logger.Info("starting NATS container", "image", tc.config.NATSImage)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        tc.config.NATSImage,
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(tc.config.StartupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start nats container: %w", err)
	}
	tc.NATSContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get nats host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		return fmt.Errorf("failed to get nats port: %w", err)
	}
	tc.NATSURL = "nats://" + net.JoinHostPort(host, port.Port())
	tc.logger.Info("NATS container started", "url", tc.NATSURL)

	return nil
}

// Cleanup terminates all running containers.
func (tc *TestContainers) Cleanup(ctx context.Context) error {
	var errs []error

	if tc.RedisContainer != nil {
		if err := tc.RedisContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate redis: %w", err))
		}
	}
	if tc.MinIOContainer != nil {
		if err := tc.MinIOContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate minio: %w", err))
		}
	}

	if tc.NATSContainer != nil {
		if err := tc.NATSContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate nats: %w", err))
		}
	}

	return errors.Join(errs...)
}
