package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/akosterin/vk-bot-platform/environments"
	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/pkg/logger"
)

// Client caches in-flight campaign progress snapshots so UI polling does not
// hit MySQL in the middle of a broadcast.
type Client struct {
	client valkey.Client
}

const (
	campaignProgressKeyPrefix = "campaign_progress:"
	campaignProgressTTL       = 24 * time.Hour
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

func (c *Client) CacheCampaignProgress(
	ctx context.Context,
	campaignID int64,
	progress *domain.CampaignProgress,
) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	key := fmt.Sprintf("%s%d", campaignProgressKeyPrefix, campaignID)

	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(campaignProgressTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache campaign progress: %w", err)
	}

	logger.Debugf("Cached progress for campaign %d (%d/%d)", campaignID, progress.Sent+progress.Failed, progress.Total)

	return nil
}

// GetCampaignProgress returns the cached snapshot, or nil when no snapshot
// exists (caller falls back to the campaign row).
func (c *Client) GetCampaignProgress(ctx context.Context, campaignID int64) (*domain.CampaignProgress, error) {
	key := fmt.Sprintf("%s%d", campaignProgressKeyPrefix, campaignID)

	result := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign progress: %w", result.Error())
	}

	data, err := result.ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign progress: %w", err)
	}

	var progress domain.CampaignProgress
	if err := json.Unmarshal([]byte(data), &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign progress: %w", err)
	}

	return &progress, nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
