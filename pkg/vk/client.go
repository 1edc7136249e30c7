package vk

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/akosterin/vk-bot-platform/environments"
	"github.com/akosterin/vk-bot-platform/pkg/logger"
)

// Error is a VK API-level error response (as opposed to a transport error).
type Error struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

type envelope struct {
	Error    *Error `json:"error,omitempty"`
	Response any    `json:"response,omitempty"`
}

type wallPostEnvelope struct {
	Error    *Error `json:"error,omitempty"`
	Response *struct {
		PostID int64 `json:"post_id"`
	} `json:"response,omitempty"`
}

// Client calls the VK API. Transport retries are limited to the connection
// level; VK API-level errors are never retried here because message sends
// must not be duplicated.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	version    string
}

func NewClient(cfg environments.VKConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		baseURL:    cfg.BaseURL,
		version:    cfg.Version,
	}
}

// SendMessage delivers one direct message through messages.send. randomID is
// the per-message correlation id VK uses to deduplicate retried sends.
func (c *Client) SendMessage(ctx context.Context, token string, peerID int64, text string, randomID int64) error {
	var result envelope

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"access_token": token,
			"v":            c.version,
			"peer_id":      strconv.FormatInt(peerID, 10),
			"message":      text,
			"random_id":    strconv.FormatInt(randomID, 10),
		}).
		SetResult(&result).
		Post(c.baseURL + "/messages.send")

	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	if result.Error != nil {
		return result.Error
	}

	return nil
}

// PublishPost creates a community wall post. A non-nil publishDate is passed
// through as VK's own delayed-publish parameter (epoch seconds).
func (c *Client) PublishPost(
	ctx context.Context,
	token string,
	communityID int64,
	text, attachments string,
	publishDate *time.Time,
) (int64, error) {
	form := map[string]string{
		"access_token": token,
		"v":            c.version,
		"owner_id":     strconv.FormatInt(-communityID, 10),
		"from_group":   "1",
		"message":      text,
	}
	if attachments != "" {
		form["attachments"] = attachments
	}
	if publishDate != nil {
		form["publish_date"] = strconv.FormatInt(publishDate.Unix(), 10)
	}

	var result wallPostEnvelope

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		Post(c.baseURL + "/wall.post")

	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}

	logger.Infof("wall.post for community %d completed in %v (status: %d)",
		communityID, time.Since(startTime), resp.StatusCode())

	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	if result.Error != nil {
		return 0, result.Error
	}

	if result.Response == nil {
		return 0, fmt.Errorf("wall.post returned no post id, body: %s", resp.String())
	}

	return result.Response.PostID, nil
}
