package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/logger"
	"github.com/stockpulse/backend/pkg/utils"
)

const (
	// keyVersion is bumped when the cached report shape changes.
	keyVersion = "v1"
	scanBatch  = 100
)

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// scopePrefix hashes the scope key so tenant ids never act as SCAN glob
// characters.
func scopePrefix(scope models.Scope) string {
	return fmt.Sprintf("report:%s:%s:", keyVersion, utils.HashString(scope.Key()))
}

func reportKey(scope models.Scope, variant string) string {
	return scopePrefix(scope) + variant
}

func (c *Client) SetReport(ctx context.Context, scope models.Scope, variant string, report interface{}, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	err = c.client.Set(ctx, reportKey(scope, variant), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set report cache: %w", err)
	}

	logger.Debug("Report cached", zap.String("tenant_id", scope.TenantID), zap.String("variant", variant), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetReport(ctx context.Context, scope models.Scope, variant string, report interface{}) (bool, error) {
	data, err := c.client.Get(ctx, reportKey(scope, variant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get report cache: %w", err)
	}

	err = json.Unmarshal(data, report)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	logger.Debug("Report cache hit", zap.String("tenant_id", scope.TenantID), zap.String("variant", variant))
	return true, nil
}

// InvalidateScope drops every cached report variant of the scope. Broader and
// narrower scopes keep their entries.
func (c *Client) InvalidateScope(ctx context.Context, scope models.Scope) error {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, scopePrefix(scope)+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
			removed += n
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	logger.Info("Report cache invalidated", zap.String("scope", scope.Key()), zap.Int64("removed", removed))
	return nil
}
