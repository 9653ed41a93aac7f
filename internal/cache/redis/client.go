package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/pkg/circuitbreaker"
	"github.com/fieldsales/backend/pkg/logger"
)

const stagingPrefix = "staging:"

// Client stages uploads in redis. Calls go through a circuit breaker so an unreachable
// server fails fast instead of stalling every upload.
type Client struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return New(client, ttl), nil
}

// New wraps an existing connection without pinging it.
func New(client *redis.Client, ttl time.Duration) *Client {
	breaker := circuitbreaker.New("redis-staging", circuitbreaker.Config{
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 3,
		IsFailure: func(err error) bool {
			return !errors.Is(err, ingestion.ErrStagedNotFound)
		},
		Logger: logger.Named("circuitbreaker"),
	})
	return &Client{client: client, ttl: ttl, breaker: breaker}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Stage(ctx context.Context, upload *ingestion.StagedUpload) error {
	data, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("failed to marshal staged upload: %w", err)
	}

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, stagingPrefix+upload.Key, data, c.ttl).Err()
	})
	record("stage", err)
	if err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}

	logger.Debug("Upload staged", zap.String("key", upload.Key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) Load(ctx context.Context, key string) (*ingestion.StagedUpload, error) {
	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.client.Get(ctx, stagingPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ingestion.ErrStagedNotFound
		}
		return err
	})
	record("load", err)
	if err != nil {
		if errors.Is(err, ingestion.ErrStagedNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load staged upload: %w", err)
	}

	var upload ingestion.StagedUpload
	if err := json.Unmarshal(data, &upload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staged upload: %w", err)
	}
	return &upload, nil
}

func (c *Client) Discard(ctx context.Context, key string) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, stagingPrefix+key).Err()
	})
	record("discard", err)
	if err != nil {
		return fmt.Errorf("failed to discard staged upload: %w", err)
	}
	return nil
}

func record(op string, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ingestion.ErrStagedNotFound):
		status = "miss"
	case err != nil:
		status = "error"
	}
	metrics.StagingOps.WithLabelValues("redis", op, status).Inc()
}
