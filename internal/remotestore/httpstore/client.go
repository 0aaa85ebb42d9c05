// Package httpstore is a remotestore.Store backed by the phenix server's
// /api routes.
package httpstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/pkg/models"
)

type Options struct {
	Timeout time.Duration
	// RetryCount applies to idempotent reads only.
	RetryCount int
}

type Client struct {
	http *resty.Client
}

var _ remotestore.Store = (*Client)(nil)

type apiError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type idResponse struct {
	ID string `json:"id"`
}

type urlResponse struct {
	URL string `json:"url"`
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout).
		SetError(&apiError{})
	if opts.RetryCount > 0 {
		c.SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(200 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
					return false
				}
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}
	return &Client{http: c}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// check maps transport failures and non-2xx replies onto store sentinels.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("remote store: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		msg = e.Error
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", remotestore.ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", remotestore.ErrInvalidArgument, msg)
	default:
		return fmt.Errorf("remote store: %s %s: %d %s", resp.Request.Method, resp.Request.URL, resp.StatusCode(), msg)
	}
}

func (c *Client) UpsertUser(ctx context.Context, address, ensName, inboxID string) (string, error) {
	var out idResponse
	resp, err := c.request(ctx).
		SetBody(map[string]string{"address": address, "ensName": ensName, "inboxId": inboxID}).
		SetResult(&out).
		Post("/api/users")
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) getUser(ctx context.Context, path string) (models.User, error) {
	var out models.User
	resp, err := c.request(ctx).SetResult(&out).Get(path)
	if err := check(resp, err); err != nil {
		return models.User{}, err
	}
	return out, nil
}

func (c *Client) GetUserByAddress(ctx context.Context, address string) (models.User, error) {
	return c.getUser(ctx, "/api/users/by-address/"+url.PathEscape(address))
}

func (c *Client) GetUserByInboxID(ctx context.Context, inboxID string) (models.User, error) {
	return c.getUser(ctx, "/api/users/by-inbox/"+url.PathEscape(inboxID))
}

func (c *Client) UpsertConversation(ctx context.Context, participants []string) (string, error) {
	var out idResponse
	resp, err := c.request(ctx).
		SetBody(map[string][]string{"participants": participants}).
		SetResult(&out).
		Post("/api/conversations")
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) UpdateLastMessage(ctx context.Context, key, lastMessage string) error {
	resp, err := c.request(ctx).
		SetBody(map[string]string{"lastMessage": lastMessage}).
		Put("/api/conversations/" + url.PathEscape(key) + "/last-message")
	return check(resp, err)
}

func (c *Client) GetConversationsForAddress(ctx context.Context, address string) ([]models.StoredConversation, error) {
	var out []models.StoredConversation
	resp, err := c.request(ctx).
		SetQueryParam("address", address).
		SetResult(&out).
		Get("/api/conversations")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, update remotestore.ProfileUpdate) (string, error) {
	var out idResponse
	resp, err := c.request(ctx).
		SetBody(update).
		SetResult(&out).
		Put("/api/profiles/" + url.PathEscape(userID))
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) GetProfileByAddress(ctx context.Context, address string) (models.Profile, error) {
	var out models.Profile
	resp, err := c.request(ctx).SetResult(&out).Get("/api/profiles/by-address/" + url.PathEscape(address))
	if err := check(resp, err); err != nil {
		return models.Profile{}, err
	}
	return out, nil
}

func (c *Client) GetProfilesForInboxIDs(ctx context.Context, inboxIDs []string) (map[string]models.PeerProfile, error) {
	out := map[string]models.PeerProfile{}
	if len(inboxIDs) == 0 {
		return out, nil
	}
	resp, err := c.request(ctx).
		SetBody(map[string][]string{"inboxIds": inboxIDs}).
		SetResult(&out).
		Post("/api/profiles/by-inbox")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GenerateUploadURL(ctx context.Context) (string, error) {
	var out urlResponse
	resp, err := c.request(ctx).SetResult(&out).Post("/api/uploads")
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) GetURLForStorageID(ctx context.Context, storageID string) (string, error) {
	var out urlResponse
	resp, err := c.request(ctx).SetResult(&out).Get("/api/storage/" + url.PathEscape(storageID) + "/url")
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Upload posts data to a URL issued by GenerateUploadURL and returns the
// storage id.
func (c *Client) Upload(ctx context.Context, uploadURL, mimeType string, data []byte) (string, error) {
	var out struct {
		StorageID string `json:"storageId"`
	}
	resp, err := c.request(ctx).
		SetHeader("Content-Type", mimeType).
		SetBody(data).
		SetResult(&out).
		Post(uploadURL)
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.StorageID, nil
}
